package diarize

import (
	"reflect"
	"testing"
)

func TestParseTurns(t *testing.T) {
	data := []byte(`[
		{"start": 12.4, "end": 15.0, "speaker": "SPEAKER_01"},
		{"start": 0.5, "end": 4.2, "speaker": "SPEAKER_00"},
		{"start": 4.5, "end": 12.0, "speaker": "SPEAKER_01"}
	]`)

	turns, err := ParseTurns(data)
	if err != nil {
		t.Fatalf("ParseTurns: %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("len(turns) = %d, want 3", len(turns))
	}
	// Output is sorted by start regardless of model ordering.
	for i := 1; i < len(turns); i++ {
		if turns[i].Start < turns[i-1].Start {
			t.Errorf("turns not sorted at index %d", i)
		}
	}
	if turns[0].Speaker != "SPEAKER_00" {
		t.Errorf("first turn speaker = %q", turns[0].Speaker)
	}
}

func TestParseTurnsRejectsBadOutput(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"invalid json", `{"oops"`},
		{"empty list", `[]`},
		{"missing speaker", `[{"start": 0, "end": 1}]`},
		{"end before start", `[{"start": 2, "end": 1, "speaker": "SPEAKER_00"}]`},
		{"zero length", `[{"start": 1, "end": 1, "speaker": "SPEAKER_00"}]`},
		{"negative start", `[{"start": -0.5, "end": 1, "speaker": "SPEAKER_00"}]`},
	}
	for _, tt := range tests {
		if _, err := ParseTurns([]byte(tt.data)); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
}

func TestSpeakers(t *testing.T) {
	turns := []Turn{
		{Start: 0, End: 1, Speaker: "SPEAKER_01"},
		{Start: 1, End: 2, Speaker: "SPEAKER_00"},
		{Start: 2, End: 3, Speaker: "SPEAKER_01"},
	}
	got := Speakers(turns)
	want := []string{"SPEAKER_00", "SPEAKER_01"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Speakers() = %v, want %v", got, want)
	}
}
