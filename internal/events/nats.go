package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// SubjectUploaded is published once per completed upload.
const SubjectUploaded = "presentations.uploaded"

// Uploaded describes a presentation that finished every pipeline stage.
type Uploaded struct {
	FileID      string    `json:"file_id"`
	Slug        string    `json:"slug"`
	Title       string    `json:"title"`
	Category    string    `json:"category"`
	Subcategory string    `json:"subcategory"`
	PageCount   int       `json:"page_count"`
	FileKey     string    `json:"file_key"`
	Pipeline    string    `json:"pipeline"`
	At          time.Time `json:"at"`
}

// NATSPublisher publishes upload events on a core NATS connection.
type NATSPublisher struct {
	nc *nats.Conn
}

// Connect dials url and keeps reconnecting in the background.
func Connect(url string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("deckupload"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{nc: nc}, nil
}

// PublishUploaded sends the event with a message id header for de-duplication.
func (p *NATSPublisher) PublishUploaded(ctx context.Context, ev Uploaded) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg := nats.NewMsg(SubjectUploaded)
	msg.Header.Set(nats.MsgIdHdr, uuid.NewString())
	msg.Data = data
	return p.nc.PublishMsg(msg)
}

func (p *NATSPublisher) Ping(ctx context.Context) error {
	if !p.nc.IsConnected() {
		return nats.ErrConnectionClosed
	}
	return p.nc.FlushWithContext(ctx)
}

func (p *NATSPublisher) Close() {
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
	}
}
