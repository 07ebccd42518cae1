package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// UploadStatus is the last recorded state of an upload pipeline.
type UploadStatus struct {
	Stage    string                 `json:"stage"`
	Pipeline string                 `json:"pipeline"`
	Message  string                 `json:"message"`
	FileID   string                 `json:"file_id,omitempty"`
	Slug     string                 `json:"slug,omitempty"`
	Start    *time.Time             `json:"start_time,omitempty"`
	End      *time.Time             `json:"end_time,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// RedisStatus keeps upload statuses in Redis hashes that expire after ttl.
type RedisStatus struct {
	client *redis.Client
	keyNS  string
	ttl    time.Duration
}

func NewRedisStatus(redisURL string, ttl time.Duration) (*RedisStatus, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	c := redis.NewClient(opt)
	if err := c.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return NewRedisStatusWithClient(c, ttl), nil
}

// NewRedisStatusWithClient wraps an existing client.
func NewRedisStatusWithClient(c *redis.Client, ttl time.Duration) *RedisStatus {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStatus{client: c, keyNS: "upload", ttl: ttl}
}

func (s *RedisStatus) key(uploadID string) string {
	return fmt.Sprintf("%s:%s:status", s.keyNS, uploadID)
}

// Set merges st into the stored hash and refreshes its expiry.
func (s *RedisStatus) Set(ctx context.Context, uploadID string, st UploadStatus) error {
	m := map[string]interface{}{
		"stage":    st.Stage,
		"pipeline": st.Pipeline,
		"message":  st.Message,
	}
	if st.FileID != "" {
		m["file_id"] = st.FileID
	}
	if st.Slug != "" {
		m["slug"] = st.Slug
	}
	if st.Start != nil {
		m["start"] = st.Start.Format(time.RFC3339Nano)
	}
	if st.End != nil {
		m["end"] = st.End.Format(time.RFC3339Nano)
	}
	if st.Metadata != nil {
		b, _ := json.Marshal(st.Metadata)
		m["metadata"] = string(b)
	}
	key := s.key(uploadID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, m)
	pipe.Expire(ctx, key, s.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStatus) Get(ctx context.Context, uploadID string) (UploadStatus, bool, error) {
	res, err := s.client.HGetAll(ctx, s.key(uploadID)).Result()
	if err != nil {
		return UploadStatus{}, false, err
	}
	if len(res) == 0 {
		return UploadStatus{}, false, nil
	}
	return decodeStatus(res), true, nil
}

func decodeStatus(res map[string]string) UploadStatus {
	st := UploadStatus{
		Stage:    res["stage"],
		Pipeline: res["pipeline"],
		Message:  res["message"],
		FileID:   res["file_id"],
		Slug:     res["slug"],
	}
	if v := res["start"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			st.Start = &t
		}
	}
	if v := res["end"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			st.End = &t
		}
	}
	if v := res["metadata"]; v != "" {
		_ = json.Unmarshal([]byte(v), &st.Metadata)
	}
	return st
}

// Ping satisfies the readiness probe.
func (s *RedisStatus) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }

func (s *RedisStatus) Close() error { return s.client.Close() }
