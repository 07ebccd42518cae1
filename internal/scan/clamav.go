package scan

import (
	"bytes"
	"context"
	"fmt"

	clamd "github.com/dutchcoders/go-clamd"
	"github.com/rs/zerolog/log"
)

// InfectedError reports a detection; Signature is the clamd description.
type InfectedError struct {
	Signature string
}

func (e *InfectedError) Error() string {
	return fmt.Sprintf("malware detected: %s", e.Signature)
}

// ClamAV streams uploads to a clamd daemon.
type ClamAV struct {
	client *clamd.Clamd
}

// NewClamAV takes an address such as tcp://clamav:3310 or a unix socket path.
func NewClamAV(address string) *ClamAV {
	return &ClamAV{client: clamd.NewClamd(address)}
}

// Scan returns an *InfectedError when clamd finds a signature in data.
func (c *ClamAV) Scan(ctx context.Context, data []byte) error {
	// closing abort is what releases the client's connection watcher
	abort := make(chan bool)
	defer close(abort)
	results, err := c.client.ScanStream(bytes.NewReader(data), abort)
	if err != nil {
		return fmt.Errorf("clamd scan: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res, ok := <-results:
			if !ok {
				return nil
			}
			switch res.Status {
			case clamd.RES_FOUND:
				log.Warn().Str("signature", res.Description).Msg("upload rejected by malware scan")
				return &InfectedError{Signature: res.Description}
			case clamd.RES_ERROR, clamd.RES_PARSE_ERROR:
				return fmt.Errorf("clamd scan: %s", res.Raw)
			}
		}
	}
}

func (c *ClamAV) Ping(context.Context) error {
	return c.client.Ping()
}
