// Package audit appends a best-effort JSONL trail of distillation calls
// and LTM mutations, grounded on the teacher's internal/audit package
// (Append(&Entry{...}) returning an id, one JSONL file per directory).
// Unlike the teacher's issue-tracking audit trail, entries here describe
// summarizer calls and LTM writes rather than label/triage decisions.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FileName is the JSONL file every Entry is appended to, relative to the
// directory passed to Append.
const FileName = "audit.jsonl"

// Entry is one audit record. Kind selects which fields are meaningful:
// "llm_call" uses Model/Prompt/Response/Error; "ltm_mutation" uses
// Actor/Slug/Operation.
type Entry struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Actor     string    `json:"actor,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	Model    string `json:"model,omitempty"`
	Prompt   string `json:"prompt,omitempty"`
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`

	Slug      string `json:"slug,omitempty"`
	Operation string `json:"operation,omitempty"`
}

var mu sync.Mutex

// Append writes e as one JSONL line under dir/FileName, assigning e.ID
// and e.Timestamp if unset, and returns the assigned id. It is meant to
// be called best-effort: callers should not fail their own operation if
// Append returns an error, matching the teacher's "audit logging must
// never fail compaction" comment in haiku.go.
func Append(dir string, e *Entry) (string, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	line, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("audit: marshal entry: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("audit: mkdir %s: %w", dir, err)
	}

	path := filepath.Join(dir, FileName)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("audit: open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return "", fmt.Errorf("audit: write %s: %w", path, err)
	}
	return e.ID, nil
}
