package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/uhyunpark/hyperport/pkg/settlement"
)

// FileWAL appends every published event to a file as one JSON line.
type FileWAL struct {
	mu  sync.Mutex
	f   *os.File
	seq uint64
	err error
}

// NewFileWAL opens path for appending. Sequence numbers continue after the
// last record already in the file.
func NewFileWAL(path string) (*FileWAL, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	next, err := nextWALSeq(f)
	if err == nil {
		err = terminateLastLine(f)
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open event wal %s: %w", path, err)
	}
	return &FileWAL{f: f, seq: next}, nil
}

// terminateLastLine ends a torn final line so the next record starts on
// its own line.
func terminateLastLine(f *os.File) error {
	info, err := f.Stat()
	if err != nil || info.Size() == 0 {
		return err
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil {
		return err
	}
	if last[0] == '\n' {
		return nil
	}
	_, err = f.Write([]byte{'\n'})
	return err
}

// nextWALSeq returns one past the highest seq in r, or 0 when r holds no
// records. A torn final line from a crash is skipped.
func nextWALSeq(r io.Reader) (uint64, error) {
	var (
		next  uint64
		found bool
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		var rec struct {
			Seq *uint64 `json:"seq"`
		}
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil || rec.Seq == nil {
			continue
		}
		if !found || *rec.Seq >= next {
			next = *rec.Seq + 1
			found = true
		}
	}
	return next, sc.Err()
}

func (w *FileWAL) Publish(events []settlement.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, ev := range events {
		rec, err := newEventRecord(w.seq, ev)
		if err == nil {
			var line []byte
			if line, err = json.Marshal(rec); err == nil {
				_, err = fmt.Fprintln(w.f, string(line))
			}
		}
		if err != nil {
			if w.err == nil {
				w.err = err
			}
			continue
		}
		w.seq++
	}
}

// Err returns the first write error, if any.
func (w *FileWAL) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *FileWAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

var _ settlement.EventSink = (*FileWAL)(nil)
