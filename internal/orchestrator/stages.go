package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/local/deckupload/internal/logger"
	"github.com/local/deckupload/internal/metrics"
	"github.com/local/deckupload/internal/store"
)

// Stage is a pipeline state. Done, Failed and Skipped are terminal.
type Stage string

const (
	StageValidating         Stage = "validating"
	StageStaging            Stage = "staging"
	StageConverting         Stage = "converting"
	StageClassifying        Stage = "classifying"
	StagePersistingPrimary  Stage = "persisting_primary"
	StageUploadingAssets    Stage = "uploading_assets"
	StagePersistingPreviews Stage = "persisting_previews"
	StageFinalizing         Stage = "finalizing"
	StageDone               Stage = "done"
	StageFailed             Stage = "failed"
	StageSkipped            Stage = "skipped"
)

const (
	pipelineDirect   = "direct"
	pipelineStreamed = "streamed"
	pipelineAssisted = "assisted"
)

// run tracks one pipeline execution: its stage, its logger and its status record.
type run struct {
	o          *Orchestrator
	id         string
	pipeline   string
	stage      Stage
	start      time.Time
	stageStart time.Time
	log        zerolog.Logger
	fileID     string
	slug       string
	done       func()
	// sink receives a processing event per stage when progress is streamed.
	sink Sink
}

func (o *Orchestrator) newRun(ctx context.Context, pipeline string) *run {
	id := uuid.NewString()
	now := o.now()
	r := &run{
		o:          o,
		id:         id,
		pipeline:   pipeline,
		stage:      StageValidating,
		start:      now,
		stageStart: now,
		log:        logger.ForUpload(id, pipeline),
		done:       metrics.TrackInflight(pipeline),
	}
	r.log.Info().Str("stage", string(StageValidating)).Msg("pipeline started")
	r.record(ctx, "Validating upload", nil)
	return r
}

// enter moves to the next stage and records it.
func (r *run) enter(ctx context.Context, stage Stage, msg string) {
	r.transition(ctx, stage, msg, nil)
	r.emit(EventProcessing, msg, nil)
}

func (r *run) emit(status, msg string, extra map[string]interface{}) {
	if r.sink != nil {
		r.sink.Send(Event{Status: status, Message: msg, Extra: extra})
	}
}

func (r *run) transition(ctx context.Context, stage Stage, msg string, meta map[string]interface{}) {
	now := r.o.now()
	metrics.ObserveStage(r.pipeline, string(r.stage), now.Sub(r.stageStart))
	r.stage = stage
	r.stageStart = now
	r.log.Debug().Str("stage", string(stage)).Msg(msg)
	r.record(ctx, msg, meta)
}

// finish moves to a terminal stage. err is logged once here and nowhere else.
func (r *run) finish(ctx context.Context, stage Stage, msg string, err error) {
	failedAt := r.stage
	var meta map[string]interface{}
	if err != nil {
		meta = map[string]interface{}{"failed_stage": string(failedAt), "error": err.Error()}
	}
	r.transition(ctx, stage, msg, meta)
	metrics.ObservePipeline(r.pipeline, string(stage))
	r.done()

	ev := r.log.Info()
	if err != nil {
		ev = r.log.Error().Err(err).Str("failed_stage", string(failedAt))
	}
	ev.Str("stage", string(stage)).
		Str("file_id", r.fileID).
		Dur("duration", r.o.now().Sub(r.start)).
		Msg(msg)
}

func (r *run) record(ctx context.Context, msg string, meta map[string]interface{}) {
	if r.o.deps.Status == nil {
		return
	}
	st := store.UploadStatus{
		Stage:    string(r.stage),
		Pipeline: r.pipeline,
		Message:  msg,
		FileID:   r.fileID,
		Slug:     r.slug,
		Start:    &r.start,
		Metadata: meta,
	}
	if r.stage == StageDone || r.stage == StageFailed || r.stage == StageSkipped {
		end := r.o.now()
		st.End = &end
	}
	if err := r.o.deps.Status.Set(ctx, r.id, st); err != nil {
		r.log.Warn().Err(err).Msg("status update failed")
	}
}
