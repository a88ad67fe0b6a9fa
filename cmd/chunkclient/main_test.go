package main

import (
	"strings"
	"testing"
)

func TestReadTranscript(t *testing.T) {
	in := "# demo\nalice: start chart sales were 10\n\nbob:costs were 4 end chart\nno speaker here\n"

	got, err := readTranscript(strings.NewReader(in))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 utterances, got %d", len(got))
	}
	if got[0].speaker != "alice" || len(got[0].words) != 5 {
		t.Errorf("unexpected first utterance: %+v", got[0])
	}
	if got[1].speaker != "bob" || got[1].words[0] != "costs" {
		t.Errorf("unexpected second utterance: %+v", got[1])
	}
	if got[2].speaker != "speaker" {
		t.Errorf("expected default speaker, got %s", got[2].speaker)
	}
}

func TestBuildChunks_Cumulative(t *testing.T) {
	chunks := buildChunks("conv-1", []utterance{
		{speaker: "alice", words: strings.Fields("start chart sales were 10")},
		{speaker: "bob", words: strings.Fields("end chart")},
	}, 2)

	expected := []string{
		"start chart",
		"start chart sales were",
		"start chart sales were 10",
		"start chart sales were 10\nend chart",
	}
	if len(chunks) != len(expected) {
		t.Fatalf("expected %d chunks, got %d", len(expected), len(chunks))
	}
	for i, want := range expected {
		if chunks[i].CumulativeText != want {
			t.Errorf("chunk %d: expected %q, got %q", i, want, chunks[i].CumulativeText)
		}
		if !strings.HasPrefix(chunks[i].ChunkID, "chunk-") {
			t.Errorf("chunk %d: unexpected id %q", i, chunks[i].ChunkID)
		}
	}
	if chunks[3].Speaker != "bob" {
		t.Errorf("expected last chunk from bob, got %s", chunks[3].Speaker)
	}
}
