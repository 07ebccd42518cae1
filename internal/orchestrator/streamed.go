package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-contrib/sse"

	"github.com/local/deckupload/internal/records"
)

// Event statuses of the streamed pipeline. Every stream ends with exactly one
// done or error event.
const (
	EventInfo       = "info"
	EventProcessing = "processing"
	EventError      = "error"
	EventDone       = "done"
)

// Event is one progress notification. Extra fields are flattened next to status and message.
type Event struct {
	Status  string
	Message string
	Extra   map[string]interface{}
}

func (e Event) MarshalJSON() ([]byte, error) {
	m := make(map[string]interface{}, len(e.Extra)+2)
	for k, v := range e.Extra {
		m[k] = v
	}
	m["status"] = e.Status
	m["message"] = e.Message
	return json.Marshal(m)
}

// Sink receives progress events. Send must not block on the consumer.
type Sink interface {
	Send(Event)
}

// RunStreamed converts and stores a presentation with client supplied metadata,
// reporting progress to sink. Validation errors are returned before any event is sent.
func (o *Orchestrator) RunStreamed(ctx context.Context, u Upload, sink Sink) (res Result, err error) {
	r := o.newRun(ctx, pipelineStreamed)
	mime, err := o.screen(ctx, u)
	if err == nil {
		err = checkMetadata(&u)
	}
	if err != nil {
		r.finish(ctx, StageFailed, "Upload rejected", err)
		return Result{}, err
	}

	r.sink = sink
	r.emit(EventInfo, "Upload received", map[string]interface{}{"uploadId": r.id, "fileName": u.FileName})
	defer func() {
		if err != nil {
			r.finish(ctx, StageFailed, "Upload failed", err)
			_, msg := describe(err)
			r.emit(EventError, msg, map[string]interface{}{"details": err.Error()})
		}
	}()

	dir, input, err := r.stageUpload(ctx, u)
	defer r.release(dir)
	if err != nil {
		return Result{}, err
	}

	conv, err := r.convert(ctx, dir, input)
	if err != nil {
		return Result{}, err
	}
	r.emit(EventProcessing, fmt.Sprintf("Converted %d pages", conv.PageCount()), map[string]interface{}{"pageCount": conv.PageCount()})

	res, err = r.persist(ctx, persistRequest{
		file: records.NewFile{
			Title:       u.Title,
			Slug:        o.slugs.Next(u.Title),
			Description: u.Description,
			Category:    u.Category,
			Subcategory: u.Subcategory,
			Tags:        u.Tags,
			FileName:    u.FileName,
			FileSize:    int64(len(u.Data)),
			FileType:    u.Ext(),
			PageCount:   conv.PageCount(),
			CreatedAt:   o.now().UTC(),
		},
		original:    u.Data,
		contentType: mime,
		previews:    fileBlobs(conv.Previews),
		thumbnails:  fileBlobs(conv.Thumbnails),
	})
	if err != nil {
		return Result{}, err
	}

	r.finish(ctx, StageDone, "Upload complete", nil)
	r.emit(EventDone, "Presentation uploaded", map[string]interface{}{
		"slug":      res.Slug,
		"id":        res.ID,
		"pageCount": res.PageCount,
	})
	r.announce(ctx, res)
	return res, nil
}

// sseSink writes events as Server-Sent Events. Headers go out with the first
// event, so a pipeline that fails validation can still answer with plain JSON.
type sseSink struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	started bool
	seq     int
	gone    bool
}

func newSSESink(w http.ResponseWriter) *sseSink {
	return &sseSink{w: w}
}

func (s *sseSink) Send(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gone {
		return
	}
	if !s.started {
		h := s.w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}
	s.seq++
	// A write error means the client left; the pipeline carries on regardless.
	if err := sse.Encode(s.w, sse.Event{Id: strconv.Itoa(s.seq), Data: ev}); err != nil {
		s.gone = true
		return
	}
	if f, ok := s.w.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *sseSink) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

func (o *Orchestrator) handleStreamed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	u, err := o.uploadForm(w, r, formMemory)
	if err != nil {
		writeError(w, err)
		return
	}
	sink := newSSESink(w)
	if _, err := o.RunStreamed(context.WithoutCancel(r.Context()), u, sink); err != nil && !sink.Started() {
		writeError(w, err)
	}
}
