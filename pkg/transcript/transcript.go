// Package transcript assembles the two-sided call transcript from the
// partial transcription fragments the voice service streams during a turn.
package transcript

import (
	"strings"
	"sync"
)

// Speaker identifies who said a transcript entry.
type Speaker string

const (
	// SpeakerCandidate is the person on the microphone.
	SpeakerCandidate Speaker = "candidate"
	// SpeakerAI is the simulated client on the far end.
	SpeakerAI Speaker = "ai"
)

// Entry is one committed utterance. The list of entries is append-only.
type Entry struct {
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
}

// Assembler accumulates per-turn partial fragments and commits them as
// entries when the service signals the turn is complete. Fragments for the
// candidate and the AI buffer independently; a turn commits candidate first,
// then AI, so the flow of conversation reads in speaking order.
type Assembler struct {
	mu      sync.Mutex
	entries []Entry
	input   strings.Builder
	output  strings.Builder
}

func New() *Assembler {
	return &Assembler{}
}

// AddInput appends a candidate transcription fragment to the current turn.
func (a *Assembler) AddInput(fragment string) {
	if fragment == "" {
		return
	}
	a.mu.Lock()
	a.input.WriteString(fragment)
	a.mu.Unlock()
}

// AddOutput appends an AI transcription fragment to the current turn.
func (a *Assembler) AddOutput(fragment string) {
	if fragment == "" {
		return
	}
	a.mu.Lock()
	a.output.WriteString(fragment)
	a.mu.Unlock()
}

// AddEntry appends a complete utterance directly, bypassing the turn
// buffers. Used for scripted lines such as the failure apology.
func (a *Assembler) AddEntry(speaker Speaker, text string) {
	a.mu.Lock()
	a.entries = append(a.entries, Entry{Speaker: speaker, Text: text})
	a.mu.Unlock()
}

// CommitTurn converts the buffered fragments into entries and clears the
// buffers. The candidate entry always precedes the AI entry. An empty
// buffer commits nothing, so a turn with only one side produces one entry.
func (a *Assembler) CommitTurn() []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()

	var committed []Entry
	if text := strings.TrimSpace(a.input.String()); text != "" {
		committed = append(committed, Entry{Speaker: SpeakerCandidate, Text: text})
	}
	if text := strings.TrimSpace(a.output.String()); text != "" {
		committed = append(committed, Entry{Speaker: SpeakerAI, Text: text})
	}
	a.input.Reset()
	a.output.Reset()
	a.entries = append(a.entries, committed...)
	return committed
}

// Entries returns a copy of the committed entries.
func (a *Assembler) Entries() []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Entry, len(a.entries))
	copy(out, a.entries)
	return out
}

// Len returns the number of committed entries.
func (a *Assembler) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

// Render formats the transcript for display, one line per entry.
func (a *Assembler) Render() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	lines := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		label := "Client"
		if e.Speaker == SpeakerCandidate {
			label = "You"
		}
		lines = append(lines, label+": "+e.Text)
	}
	return strings.Join(lines, "\n")
}
