package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/axiomhq/axiom-go/axiom"
	"github.com/axiomhq/axiom-go/axiom/ingest"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

const (
	axiomBuffer = 1000
	axiomBatch  = 200
)

// Options defines logger initialization parameters.
type Options struct {
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool

	// Upload pipelines are forwarded to Axiom at info level and above.
	SendToAxiom  bool
	AxiomAPIKey  string
	AxiomOrgID   string
	AxiomDataset string
	AxiomFlush   time.Duration
}

var sink *axiomSink

// Init replaces the zerolog global logger. Every line carries service=deckupload.
func Init(opts Options) error {
	var writers []io.Writer
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return fmt.Errorf("create logs dir: %w", err)
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		})
	}
	if opts.Pretty {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		writers = append(writers, os.Stdout)
	}

	if opts.SendToAxiom {
		s, err := newAxiomSink(opts.AxiomAPIKey, opts.AxiomOrgID, opts.AxiomDataset, opts.AxiomFlush)
		if err != nil {
			// the service still logs locally
			fmt.Fprintf(os.Stderr, "axiom forwarding disabled: %v\n", err)
		} else {
			sink = s
			writers = append(writers, s)
		}
	}

	lvl, err := zerolog.ParseLevel(opts.Level)
	if err != nil || opts.Level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(lvl).
		With().
		Timestamp().
		Str("service", "deckupload").
		Logger()
	return nil
}

// Close flushes events still waiting for Axiom.
func Close() {
	if sink != nil {
		sink.Close()
		sink = nil
	}
}

// ForUpload returns a child of the global logger tagged with the upload and pipeline.
func ForUpload(uploadID, pipeline string) zerolog.Logger {
	return log.Logger.With().Str("upload_id", uploadID).Str("pipeline", pipeline).Logger()
}

// axiomSink is a zerolog.LevelWriter that batches JSON lines into Axiom ingest calls.
// Lines are dropped when the buffer is full; logging never blocks a pipeline.
type axiomSink struct {
	client  *axiom.Client
	dataset string
	events  chan axiom.Event
	done    chan struct{}
	wg      sync.WaitGroup
}

func newAxiomSink(token, orgID, dataset string, flushEvery time.Duration) (*axiomSink, error) {
	if token == "" || dataset == "" {
		return nil, fmt.Errorf("axiom token and dataset are required")
	}
	opts := []axiom.Option{axiom.SetToken(token)}
	if orgID != "" {
		opts = append(opts, axiom.SetOrganizationID(orgID))
	}
	client, err := axiom.NewClient(opts...)
	if err != nil {
		return nil, err
	}
	if flushEvery <= 0 {
		flushEvery = 10 * time.Second
	}
	s := &axiomSink{
		client:  client,
		dataset: dataset,
		events:  make(chan axiom.Event, axiomBuffer),
		done:    make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run(flushEvery)
	return s, nil
}

func (s *axiomSink) Write(p []byte) (int, error) {
	return s.WriteLevel(zerolog.NoLevel, p)
}

func (s *axiomSink) WriteLevel(l zerolog.Level, p []byte) (int, error) {
	if l < zerolog.InfoLevel && l != zerolog.NoLevel {
		return len(p), nil
	}
	ev, ok := decodeEvent(p)
	if !ok {
		return len(p), nil
	}
	select {
	case s.events <- ev:
	default:
	}
	return len(p), nil
}

// decodeEvent turns one zerolog JSON line into an Axiom event stamped with its own time.
func decodeEvent(p []byte) (axiom.Event, bool) {
	var ev axiom.Event
	if err := json.Unmarshal(p, &ev); err != nil {
		return nil, false
	}
	if ts, ok := ev[zerolog.TimestampFieldName]; ok {
		ev[ingest.TimestampField] = ts
	} else {
		ev[ingest.TimestampField] = time.Now().UTC()
	}
	return ev, true
}

func (s *axiomSink) run(flushEvery time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(flushEvery)
	defer ticker.Stop()

	batch := make([]axiom.Event, 0, axiomBatch)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if _, err := s.client.IngestEvents(ctx, s.dataset, batch); err != nil {
			fmt.Fprintf(os.Stderr, "axiom ingest failed, %d events lost: %v\n", len(batch), err)
		}
		batch = batch[:0]
	}
	for {
		select {
		case ev := <-s.events:
			batch = append(batch, ev)
			if len(batch) >= axiomBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.done:
			for {
				select {
				case ev := <-s.events:
					batch = append(batch, ev)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (s *axiomSink) Close() {
	close(s.done)
	s.wg.Wait()
}
