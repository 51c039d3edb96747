// Package progress defines the structured event stream emitted while a
// snapshot is being taken. Events flow through a non-blocking batching Hub
// into pluggable sinks (structured logs, Prometheus); the crawl core never
// formats or persists progress itself.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported progress stages.
const (
	StageCrawlStart Stage = "CRAWL_START"
	StageCrawlDone  Stage = "CRAWL_DONE"
	StageCrawlError Stage = "CRAWL_ERROR"
	StageEnumerate  Stage = "ENUMERATE"
	StagePageDone   Stage = "PAGE_DONE"
	StagePageFailed Stage = "PAGE_FAILED"
	StageFacetDone  Stage = "FACET_DONE"
)

// Event captures a single crawl milestone.
type Event struct {
	// RunID identifies one crawl run in 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Site is the wiki being crawled.
	Site string
	// URL is the page the event concerns, when page-scoped.
	URL string
	// Facet names the fetch unit for FACET_DONE events.
	Facet string
	// Done and Total carry enumeration and completion counts.
	Done  int
	Total int
	// Dur captures elapsed time for page and crawl completions.
	Dur time.Duration
	// Kind classifies PAGE_FAILED events into a small label set
	// (transient, not_found, forbidden, malformed, storage).
	Kind string
	// Note holds low-volume context such as a failure reason.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageCrawlStart, StageCrawlDone, StageCrawlError, StageEnumerate:
	case StagePageDone, StageFacetDone:
		if e.URL == "" {
			return fmt.Errorf("%s requires a url", e.Stage)
		}
	case StagePageFailed:
		if e.URL == "" {
			return errors.New("page failure requires a url")
		}
		if e.Note == "" {
			return errors.New("page failure requires a reason")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// NewRunID generates the binary run ID for a crawl.
func NewRunID() [16]byte {
	var dest [16]byte
	id := uuid.New()
	copy(dest[:], id[:])
	return dest
}
