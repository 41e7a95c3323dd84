// Package transcript records every frame of a run as zstd-compressed JSONL,
// one file per run.
package transcript

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"marketprobe/internal/client"
)

type Entry struct {
	At      time.Time       `json:"at"`
	Session string          `json:"session"`
	Dir     string          `json:"dir"`
	Frame   json.RawMessage `json:"frame"`
}

type Writer struct {
	path string

	mu  sync.Mutex
	f   *os.File
	enc *zstd.Encoder
	w   *bufio.Writer
	n   int
	err error
}

// Open creates dir/<runID>.jsonl.zst.
func Open(dir, runID string) (*Writer, error) {
	if runID == "" {
		return nil, fmt.Errorf("empty run id")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, runID+".jsonl.zst")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Writer{path: path, f: f, enc: enc, w: bufio.NewWriterSize(enc, 64*1024)}, nil
}

func (w *Writer) Path() string { return w.path }

// Len is the number of frames written so far.
func (w *Writer) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.n
}

func (w *Writer) Write(e Entry) error {
	if !json.Valid(e.Frame) {
		quoted, _ := json.Marshal(string(e.Frame))
		e.Frame = quoted
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.w == nil {
		return errors.New("transcript closed")
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	w.n++
	return nil
}

// Recorder adapts w to a session's frame hook. Write failures are kept and
// reported by Close.
func (w *Writer) Recorder() client.FrameRecorder { return recorder{w} }

type recorder struct{ w *Writer }

func (r recorder) Record(session, dir string, frame []byte) {
	err := r.w.Write(Entry{At: time.Now().UTC(), Session: session, Dir: dir, Frame: append([]byte(nil), frame...)})
	if err != nil {
		r.w.mu.Lock()
		if r.w.err == nil {
			r.w.err = err
		}
		r.w.mu.Unlock()
	}
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.w == nil {
		return w.err
	}
	errs := []error{w.err, w.w.Flush(), w.enc.Close(), w.f.Close()}
	w.w, w.enc, w.f = nil, nil, nil
	return errors.Join(errs...)
}

// ReadAll decodes a transcript file.
func ReadAll(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []Entry
	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return out, fmt.Errorf("%s line %d: %w", path, len(out)+1, err)
		}
		out = append(out, e)
	}
	return out, sc.Err()
}
