package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestTrackInflight(t *testing.T) {
	done := TrackInflight("streamed")
	assert.Equal(t, 1.0, testutil.ToFloat64(inflight.WithLabelValues("streamed")))
	done()
	assert.Equal(t, 0.0, testutil.ToFloat64(inflight.WithLabelValues("streamed")))
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(pipelineOutcomes.WithLabelValues("assisted", "skipped"))
	ObservePipeline("assisted", "skipped")
	assert.Equal(t, before+1, testutil.ToFloat64(pipelineOutcomes.WithLabelValues("assisted", "skipped")))

	IncAsset("preview", errors.New("reset"))
	assert.Equal(t, 1.0, testutil.ToFloat64(assetsUploaded.WithLabelValues("preview", "error")))

	AddPages(12)
	assert.Equal(t, 12.0, testutil.ToFloat64(pagesConverted))

	ObserveConverter("convert", nil, 2*time.Second)
	assert.Equal(t, 1, testutil.CollectAndCount(converterRuns))
}
