package web

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/simhire/callsim/pkg/transcript"
)

func getJSON(t *testing.T, s *Server, path string, out any) {
	t.Helper()
	resp, err := s.app.Test(httptest.NewRequest("GET", path, nil))
	if err != nil {
		t.Fatalf("request %s failed: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("GET %s = %d", path, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		t.Fatalf("GET %s returned bad JSON: %v", path, err)
	}
}

func TestServer_Status(t *testing.T) {
	s := NewServer(":0")
	s.UpdateStatus(func(st *CallStatus) {
		st.CallID = "abc123"
		st.State = "connected"
	})

	var status CallStatus
	getJSON(t, s, "/api/status", &status)
	if status.CallID != "abc123" || status.State != "connected" {
		t.Errorf("status = %+v", status)
	}
}

func TestServer_Transcript(t *testing.T) {
	s := NewServer(":0")
	s.AddTranscriptEntry(transcript.Entry{Speaker: transcript.SpeakerCandidate, Text: "Hello"})
	s.AddTranscriptEntry(transcript.Entry{Speaker: transcript.SpeakerAI, Text: "Hi there"})

	var entries []TranscriptEntry
	getJSON(t, s, "/api/transcript", &entries)
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].Speaker != "candidate" || entries[1].Speaker != "ai" {
		t.Errorf("speakers = %q, %q", entries[0].Speaker, entries[1].Speaker)
	}

	// The status reflects the committed entry count.
	var status CallStatus
	getJSON(t, s, "/api/status", &status)
	if status.Entries != 2 {
		t.Errorf("status.Entries = %d, want 2", status.Entries)
	}
}

func TestServer_Logs(t *testing.T) {
	s := NewServer(":0")
	s.AddLog("info", "call answered")
	s.AddLog("error", "device lost")

	var logs []LogEntry
	getJSON(t, s, "/api/logs", &logs)
	if len(logs) != 2 {
		t.Fatalf("logs = %d, want 2", len(logs))
	}
	if logs[1].Level != "error" {
		t.Errorf("level = %q", logs[1].Level)
	}
}

func TestServer_WSUpgradeRequired(t *testing.T) {
	s := NewServer(":0")
	resp, err := s.app.Test(httptest.NewRequest("GET", "/ws/status", nil))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 426 {
		t.Errorf("plain GET on ws route = %d, want 426", resp.StatusCode)
	}
}
