package engine

import "github.com/promptloom/loom/pkg/schema"

// Recorder accumulates one trace entry per executed node. Linear, append
// only, insertion order preserved; no deduplication.
type Recorder struct {
	entries []schema.NodeExecutionEntry
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Append records a node execution entry.
func (r *Recorder) Append(entry schema.NodeExecutionEntry) {
	r.entries = append(r.entries, entry)
}

// Len returns the number of recorded entries.
func (r *Recorder) Len() int {
	return len(r.entries)
}

// Entries returns the ordered trace. The returned slice is a copy; the
// recorder keeps accepting appends independently.
func (r *Recorder) Entries() []schema.NodeExecutionEntry {
	out := make([]schema.NodeExecutionEntry, len(r.entries))
	copy(out, r.entries)
	return out
}
