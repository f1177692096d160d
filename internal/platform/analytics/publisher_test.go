package analytics

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestPublish_NilSafe(t *testing.T) {
	var p *Publisher
	p.Publish(SubjectPlaylistProcessed, "playlist_processed", nil)

	New(nil, "hls-proxy", nil).Publish(SubjectPlaylistProcessed, "playlist_processed", map[string]any{"depth": 1})

	if !p.Flush(time.Millisecond) || !New(nil, "hls-proxy", nil).Flush(time.Millisecond) {
		t.Fatal("flushing a no-op publisher should succeed immediately")
	}
}

func TestNewEvent_Envelope(t *testing.T) {
	p := New(nil, "hls-proxy", nil)
	ev := p.newEvent("playlist_processed", map[string]any{"host": "cdn.example.com"})

	if _, err := uuid.Parse(ev.EventID); err != nil {
		t.Fatalf("event id should be a uuid: %v", err)
	}
	if ev.Service != "hls-proxy" || ev.EventName != "playlist_processed" {
		t.Fatalf("unexpected envelope %+v", ev)
	}

	b, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, k := range []string{"event_id", "event_name", "service", "occurred_at", "properties"} {
		if _, ok := m[k]; !ok {
			t.Fatalf("missing %q in %s", k, b)
		}
	}
}
