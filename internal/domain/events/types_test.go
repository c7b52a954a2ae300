package events

import (
	"encoding/json"
	"testing"
	"time"
)

func TestBaseEvent_Type(t *testing.T) {
	tests := []struct {
		name      string
		eventType EventType
	}{
		{"tailer_retire", EventTypeTailerRetire},
		{"sidecar_committed", EventTypeSidecarCommitted},
		{"pty_spawned", EventTypePTYSpawned},
		{"pty_reaped", EventTypePTYReaped},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := NewEvent(tt.eventType, nil)

			if event.Type() != tt.eventType {
				t.Errorf("Type() = %v, want %v", event.Type(), tt.eventType)
			}
		})
	}
}

func TestBaseEvent_Timestamp(t *testing.T) {
	before := time.Now().UTC()
	event := NewEvent(EventTypePTYSpawned, nil)
	after := time.Now().UTC()

	ts := event.Timestamp()

	if ts.Before(before) {
		t.Errorf("Timestamp() = %v, should be >= %v", ts, before)
	}
	if ts.After(after) {
		t.Errorf("Timestamp() = %v, should be <= %v", ts, after)
	}
}

func TestBaseEvent_ToJSON(t *testing.T) {
	payload := map[string]string{"key": "value"}
	event := NewEvent(EventTypeTailerRetire, payload)

	jsonBytes, err := event.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON() error = %v", err)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(jsonBytes, &parsed); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}

	if parsed["event"] != string(EventTypeTailerRetire) {
		t.Errorf("JSON event = %v, want %v", parsed["event"], EventTypeTailerRetire)
	}

	if _, ok := parsed["timestamp"]; !ok {
		t.Error("JSON should contain timestamp field")
	}

	payloadMap, ok := parsed["payload"].(map[string]interface{})
	if !ok {
		t.Fatal("JSON payload should be a map")
	}
	if payloadMap["key"] != "value" {
		t.Errorf("JSON payload.key = %v, want value", payloadMap["key"])
	}
}

func TestNewEventWithSession(t *testing.T) {
	event := NewEventWithSession(EventTypeSidecarCommitted, SidecarCommittedPayload{SessionID: "s1", LastCursor: 6}, "s1")

	if event == nil {
		t.Fatal("NewEventWithSession() returned nil")
	}
	if event.GetSessionID() != "s1" {
		t.Errorf("GetSessionID() = %q, want %q", event.GetSessionID(), "s1")
	}
}

func TestEventTypes_Constants(t *testing.T) {
	types := []EventType{
		EventTypeTailerRetire,
		EventTypeSidecarCommitted,
		EventTypePTYSpawned,
		EventTypePTYReaped,
	}

	seen := make(map[EventType]bool)
	for _, et := range types {
		if seen[et] {
			panic("duplicate event type: " + string(et))
		}
		seen[et] = true
	}
}

func TestNewPTYSpawnedEvent(t *testing.T) {
	event := NewPTYSpawnedEvent("s1", "muxer")

	jsonBytes, err := event.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON() error = %v", err)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(jsonBytes, &parsed); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}
	payloadMap := parsed["payload"].(map[string]interface{})
	if payloadMap["provider"] != "muxer" {
		t.Errorf("provider = %v, want muxer", payloadMap["provider"])
	}
}

// Benchmark tests
func BenchmarkNewEvent(b *testing.B) {
	payload := map[string]string{"key": "value"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		NewEvent(EventTypeTailerRetire, payload)
	}
}

func BenchmarkEvent_ToJSON(b *testing.B) {
	event := NewEvent(EventTypeTailerRetire, map[string]string{"key": "value"})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = event.ToJSON()
	}
}
