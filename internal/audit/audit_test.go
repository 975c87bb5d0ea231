package audit

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"
)

func TestAppendCreatesFileAndWritesJSONL(t *testing.T) {
	dir := t.TempDir()

	id1, err := Append(dir, &Entry{Kind: "llm_call", Model: "test-model", Prompt: "p", Response: "r"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if id1 == "" {
		t.Fatalf("expected id")
	}

	if _, err := Append(dir, &Entry{Kind: "ltm_mutation", Slug: "doc", Operation: "update"}); err != nil {
		t.Fatalf("append ltm_mutation: %v", err)
	}

	f, err := os.Open(filepath.Join(dir, FileName))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	lines := 0
	for sc.Scan() {
		lines++
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if lines != 2 {
		t.Fatalf("expected 2 lines, got %d", lines)
	}
}
