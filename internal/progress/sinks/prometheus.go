package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/anqxyr/pyscp/internal/progress"
)

// PrometheusSink exports crawl progress as Prometheus metrics. It owns all
// collectors for crawl runs and per-facet completions.
type PrometheusSink struct {
	crawlsStarted   prometheus.Counter
	crawlsCompleted *prometheus.CounterVec
	crawlRuntime    *prometheus.HistogramVec

	pagesCompleted prometheus.Counter
	pagesFailed    *prometheus.CounterVec
	pageDuration   prometheus.Histogram
	facetsFetched  *prometheus.CounterVec
	enumerated     prometheus.Gauge
}

// NewPrometheusSink registers the collectors against the provided registry.
// A nil registry falls back to the default registerer.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		crawlsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pyscp_crawls_started_total",
			Help: "Total crawl runs that have started.",
		}),
		crawlsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pyscp_crawls_completed_total",
			Help: "Total crawl runs completed partitioned by result.",
		}, []string{"result"}),
		crawlRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pyscp_crawl_runtime_seconds",
			Help:    "Wall time per completed crawl run.",
			Buckets: []float64{10, 30, 60, 300, 900, 1800, 3600, 7200, 14400},
		}, []string{"result"}),
		pagesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pyscp_pages_completed_total",
			Help: "Pages whose full fetch bundle has been stored.",
		}),
		pagesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pyscp_pages_failed_total",
			Help: "Pages recorded as failed, partitioned by failure class.",
		}, []string{"kind"}),
		pageDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pyscp_page_duration_seconds",
			Help:    "Elapsed time to assemble one page's bundle.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		facetsFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pyscp_facets_fetched_total",
			Help: "Facet fetches written to the store, partitioned by facet.",
		}, []string{"facet"}),
		enumerated: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pyscp_enumerated_urls",
			Help: "URLs discovered so far by the listing pass.",
		}),
	}
	for _, collector := range []prometheus.Collector{
		s.crawlsStarted,
		s.crawlsCompleted,
		s.crawlRuntime,
		s.pagesCompleted,
		s.pagesFailed,
		s.pageDuration,
		s.facetsFetched,
		s.enumerated,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch. Safe for concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageCrawlStart:
		s.crawlsStarted.Inc()
	case progress.StageCrawlDone:
		s.crawlsCompleted.WithLabelValues("success").Inc()
		s.observeRuntime(evt, "success")
	case progress.StageCrawlError:
		s.crawlsCompleted.WithLabelValues("error").Inc()
		s.observeRuntime(evt, "error")
	case progress.StageEnumerate:
		s.enumerated.Set(float64(evt.Done))
	case progress.StagePageDone:
		s.pagesCompleted.Inc()
		if evt.Dur > 0 {
			s.pageDuration.Observe(evt.Dur.Seconds())
		}
	case progress.StagePageFailed:
		// Never the raw failure message: each distinct message would
		// mint its own series.
		kind := evt.Kind
		if kind == "" {
			kind = "unknown"
		}
		s.pagesFailed.WithLabelValues(kind).Inc()
	case progress.StageFacetDone:
		s.facetsFetched.WithLabelValues(evt.Facet).Inc()
	}
}

func (s *PrometheusSink) observeRuntime(evt progress.Event, result string) {
	if evt.Dur > 0 {
		s.crawlRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; collectors stay registered.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
