package ingest

import (
	"bytes"
	"os"
	"testing"
)

func TestSpoolCAR_WritesFullBodyUnderCap(t *testing.T) {
	dir := t.TempDir()
	body := bytes.NewReader([]byte("hello car bytes"))

	result, err := spoolCAR(body, dir, 1024)
	if err != nil {
		t.Fatalf("spoolCAR: %v", err)
	}
	if result.exceeded {
		t.Fatalf("expected exceeded=false for a small body")
	}
	if result.bytes != int64(len("hello car bytes")) {
		t.Fatalf("expected %d bytes written, got %d", len("hello car bytes"), result.bytes)
	}

	data, err := os.ReadFile(result.path)
	if err != nil {
		t.Fatalf("could not read spooled file: %v", err)
	}
	if string(data) != "hello car bytes" {
		t.Fatalf("unexpected spooled content: %q", data)
	}
}

func TestSpoolCAR_DrainsAndDeletesWhenOverCap(t *testing.T) {
	dir := t.TempDir()
	body := bytes.NewReader(bytes.Repeat([]byte("x"), 100))

	result, err := spoolCAR(body, dir, 10)
	if err != nil {
		t.Fatalf("spoolCAR: %v", err)
	}
	if !result.exceeded {
		t.Fatalf("expected exceeded=true when body is larger than the cap")
	}
	if _, err := os.Stat(result.path); !os.IsNotExist(err) {
		t.Fatalf("expected spooled file to be deleted once the cap is exceeded")
	}
}
