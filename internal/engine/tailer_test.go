package engine

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCursorReadsIncrementally(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.log")
	c := newLogCursor(path)

	// Missing file: no lines, no error.
	lines, err := c.ReadNew()
	if err != nil || len(lines) != 0 {
		t.Fatalf("missing file: lines=%v err=%v", lines, err)
	}

	os.WriteFile(path, []byte("one\ntwo\npar"), 0644)
	lines, err = c.ReadNew()
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 2 || lines[0] != "one" || lines[1] != "two" {
		t.Fatalf("expected [one two], got %v", lines)
	}

	// Completing the partial line yields exactly one more line.
	f, _ := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	f.WriteString("tial\n")
	f.Close()

	lines, err = c.ReadNew()
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 1 || lines[0] != "partial" {
		t.Fatalf("expected [partial], got %v", lines)
	}
}

func TestCursorResetsOnTruncation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.log")
	c := newLogCursor(path)

	os.WriteFile(path, []byte("first session line\n"), 0644)
	c.ReadNew()

	// New launch truncates the log.
	os.WriteFile(path, []byte("fresh\n"), 0644)
	lines, err := c.ReadNew()
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 1 || lines[0] != "fresh" {
		t.Fatalf("expected [fresh] after truncation, got %v", lines)
	}
}
