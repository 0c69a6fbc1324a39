package ingest

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// spoolResult describes what landed on disk for one /ingest/car call.
type spoolResult struct {
	path     string
	bytes    int64
	exceeded bool
}

// spoolCAR streams body to a unique file under dir, counting bytes as it
// writes. Once maxBytes is reached, writes stop but the source continues to
// be drained to EOF — spec.md §3 "The CAR request body must never be
// decrypted/buffered beyond the spool; if max size is exceeded the
// remaining bytes are drained and the file is deleted."
func spoolCAR(body io.Reader, dir string, maxBytes int64) (spoolResult, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return spoolResult{}, fmt.Errorf("mkdir spool dir: %w", err)
	}

	suffix := make([]byte, 8)
	if _, err := rand.Read(suffix); err != nil {
		return spoolResult{}, err
	}
	name := fmt.Sprintf("upload-%d-%s.car", time.Now().UnixNano(), hex.EncodeToString(suffix))
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return spoolResult{}, fmt.Errorf("create spool file: %w", err)
	}

	cw := &cappedWriter{dst: f, max: maxBytes}
	_, copyErr := io.Copy(cw, body)
	closeErr := f.Close()

	result := spoolResult{path: path, bytes: cw.written, exceeded: cw.capped}

	if copyErr != nil {
		os.Remove(path)
		return spoolResult{}, fmt.Errorf("spool copy: %w", copyErr)
	}
	if closeErr != nil {
		os.Remove(path)
		return spoolResult{}, fmt.Errorf("spool close: %w", closeErr)
	}
	if result.exceeded {
		os.Remove(path)
	}
	return result, nil
}

// cappedWriter writes at most max bytes to dst; once the cap is hit it
// reports every subsequent Write as fully consumed (without writing) so
// io.Copy keeps reading the source to EOF instead of erroring out.
type cappedWriter struct {
	dst     io.Writer
	max     int64
	written int64
	capped  bool
}

func (w *cappedWriter) Write(p []byte) (int, error) {
	if w.written >= w.max {
		w.capped = true
		return len(p), nil
	}
	remaining := w.max - w.written
	if int64(len(p)) > remaining {
		w.capped = true
		n, err := w.dst.Write(p[:remaining])
		w.written += int64(n)
		if err != nil {
			return n, err
		}
		return len(p), nil
	}
	n, err := w.dst.Write(p)
	w.written += int64(n)
	return n, err
}
