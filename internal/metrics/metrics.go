package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pipelineOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deckupload",
			Name:      "pipeline_outcomes_total",
			Help:      "Finished pipelines by pipeline and outcome (done, failed, skipped)",
		},
		[]string{"pipeline", "outcome"},
	)

	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "deckupload",
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each pipeline stage",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"pipeline", "stage"},
	)

	converterRuns = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "deckupload",
			Name:      "converter_duration_seconds",
			Help:      "Converter and extractor runs by operation and result",
			Buckets:   []float64{.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"operation", "result"},
	)

	classifierReqs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "deckupload",
			Name:      "classifier_request_duration_seconds",
			Help:      "Classifier requests by provider, model and result",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider", "model", "result"},
	)

	assetsUploaded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deckupload",
			Name:      "assets_uploaded_total",
			Help:      "Blobs written to object storage by kind and result",
		},
		[]string{"kind", "result"},
	)

	pagesConverted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "deckupload",
			Name:      "pages_converted_total",
			Help:      "Pages produced by the converter",
		},
	)

	inflight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "deckupload",
			Name:      "pipelines_inflight",
			Help:      "Pipelines currently running",
		},
		[]string{"pipeline"},
	)
)

// Init registers collectors.
func Init() {
	prometheus.MustRegister(pipelineOutcomes, stageDuration, converterRuns, classifierReqs, assetsUploaded, pagesConverted, inflight)
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

func ObservePipeline(pipeline, outcome string) {
	pipelineOutcomes.WithLabelValues(pipeline, outcome).Inc()
}

func ObserveStage(pipeline, stage string, dur time.Duration) {
	stageDuration.WithLabelValues(pipeline, stage).Observe(dur.Seconds())
}

func ObserveConverter(operation string, err error, dur time.Duration) {
	converterRuns.WithLabelValues(operation, result(err)).Observe(dur.Seconds())
}

func ObserveClassifier(provider, model string, err error, dur time.Duration) {
	classifierReqs.WithLabelValues(provider, model, result(err)).Observe(dur.Seconds())
}

func IncAsset(kind string, err error) { assetsUploaded.WithLabelValues(kind, result(err)).Inc() }

func AddPages(n int) { pagesConverted.Add(float64(n)) }

// TrackInflight increments the gauge and returns the matching decrement.
func TrackInflight(pipeline string) func() {
	g := inflight.WithLabelValues(pipeline)
	g.Inc()
	return g.Dec
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
