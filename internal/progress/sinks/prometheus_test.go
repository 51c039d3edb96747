package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/anqxyr/pyscp/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms move with events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := progress.NewRunID()
	now := time.Now().UTC()
	site := "http://test.wikidot.com"
	batch := []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageCrawlStart, Site: site},
		{RunID: runID, TS: now, Stage: progress.StageEnumerate, Site: site, Done: 250},
		{RunID: runID, TS: now, Stage: progress.StageFacetDone, Site: site, URL: site + "/p", Facet: "votes"},
		{RunID: runID, TS: now, Stage: progress.StagePageDone, Site: site, URL: site + "/p", Dur: 2 * time.Second},
		{RunID: runID, TS: now, Stage: progress.StagePageFailed, Site: site, URL: site + "/q",
			Kind: "forbidden", Note: "fetch votes " + site + "/q: forbidden: no_permission"},
		{RunID: runID, TS: now, Stage: progress.StageCrawlDone, Site: site, Done: 1, Total: 2, Dur: time.Minute},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.crawlsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.crawlsCompleted.WithLabelValues("success")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.crawlsCompleted.WithLabelValues("error")))
	require.Equal(t, 250.0, testutil.ToFloat64(sink.enumerated))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.pagesCompleted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.pagesFailed.WithLabelValues("forbidden")))
	// The failure message itself never becomes a label value, so repeated
	// failures of one class stay a single series.
	require.Equal(t, 1, testutil.CollectAndCount(sink.pagesFailed, "pyscp_pages_failed_total"))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.facetsFetched.WithLabelValues("votes")))
	require.Equal(t, 1, testutil.CollectAndCount(sink.pageDuration, "pyscp_page_duration_seconds"))
	require.Equal(t, 1, testutil.CollectAndCount(sink.crawlRuntime, "pyscp_crawl_runtime_seconds"))
}

// TestPrometheusSinkDoubleRegister surfaces duplicate registration errors.
func TestPrometheusSinkDoubleRegister(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
