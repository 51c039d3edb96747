package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestEventValidate exercises the per-stage payload requirements.
func TestEventValidate(t *testing.T) {
	t.Parallel()

	base := Event{RunID: NewRunID(), TS: time.Now().UTC()}

	cases := []struct {
		name    string
		mutate  func(*Event)
		wantErr bool
	}{
		{"crawl start", func(e *Event) { e.Stage = StageCrawlStart }, false},
		{"enumerate", func(e *Event) { e.Stage = StageEnumerate; e.Done = 250 }, false},
		{"page done with url", func(e *Event) { e.Stage = StagePageDone; e.URL = "http://x/p" }, false},
		{"page done without url", func(e *Event) { e.Stage = StagePageDone }, true},
		{"page failed without reason", func(e *Event) { e.Stage = StagePageFailed; e.URL = "http://x/p" }, true},
		{"page failed", func(e *Event) { e.Stage = StagePageFailed; e.URL = "http://x/p"; e.Note = "403" }, false},
		{"unknown stage", func(e *Event) { e.Stage = "WAT" }, true},
		{"missing run id", func(e *Event) { e.Stage = StageCrawlStart; e.RunID = [16]byte{} }, true},
		{"missing timestamp", func(e *Event) { e.Stage = StageCrawlStart; e.TS = time.Time{} }, true},
		{"negative duration", func(e *Event) { e.Stage = StageCrawlDone; e.Dur = -time.Second }, true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			evt := base
			tc.mutate(&evt)
			err := evt.Validate()
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

// TestRunUUIDRoundTrip checks the binary run id converts to a stable UUID.
func TestRunUUIDRoundTrip(t *testing.T) {
	t.Parallel()

	id := NewRunID()
	evt := Event{RunID: id}
	got := evt.RunUUID()
	require.Equal(t, id[:], got[:])
	require.NotEqual(t, NewRunID(), id)
}
