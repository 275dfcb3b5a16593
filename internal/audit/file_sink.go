package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/guillermoBallester/callmeter/internal/adapter/memory"
	"github.com/guillermoBallester/callmeter/internal/core/domain"
)

// fileEntry is the NDJSON-serializable form of a call record.
type fileEntry struct {
	Timestamp  string  `json:"ts"`
	Seq        int64   `json:"seq"`
	Function   string  `json:"function_name"`
	StartTime  string  `json:"start_time"`
	DurationMS int64   `json:"duration_ms"`
	Status     string  `json:"status"`
	Error      *string `json:"error_message"`
}

// FileSink writes call records as NDJSON (one JSON object per line) to a
// file. Sequence numbering resumes from the highest seq already in the file.
type FileSink struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	enc     *json.Encoder
	lastSeq int64
	closed  bool
	now     func() time.Time
}

// NewFileSink opens (or creates) the file at path for append-only writing.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	entries, err := readEntries(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var last int64
	for _, e := range entries {
		last = max(last, e.Seq)
	}
	if err := terminateLastLine(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("repairing %s: %w", path, err)
	}

	return &FileSink{
		path:    path,
		file:    f,
		enc:     json.NewEncoder(f),
		lastSeq: last,
		now:     time.Now,
	}, nil
}

func (s *FileSink) Path() string { return s.path }

func (s *FileSink) Append(_ context.Context, rec domain.CallRecord) error {
	if err := rec.Validate(); err != nil {
		return domain.NewStorageError("append", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.NewStorageError("append", domain.ErrSinkClosed)
	}

	fe := fileEntry{
		Timestamp:  s.now().UTC().Format(time.RFC3339),
		Seq:        s.lastSeq + 1,
		Function:   rec.Function,
		StartTime:  rec.StartTime.UTC().Format(time.RFC3339Nano),
		DurationMS: rec.DurationMS,
		Status:     string(rec.Status),
		Error:      rec.ErrorMessage,
	}
	if err := s.enc.Encode(fe); err != nil {
		return domain.NewStorageError("append", err)
	}
	s.lastSeq = fe.Seq
	return nil
}

func (s *FileSink) QueryRecent(_ context.Context, n int) ([]domain.CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, domain.NewStorageError("query recent", domain.ErrSinkClosed)
	}
	if n <= 0 {
		return []domain.CallRecord{}, nil
	}

	f, err := os.Open(s.path)
	if err != nil {
		return nil, domain.NewStorageError("query recent", err)
	}
	defer func() { _ = f.Close() }()

	entries, err := readEntries(f)
	if err != nil {
		return nil, domain.NewStorageError("query recent", err)
	}

	out := make([]domain.CallRecord, 0, len(entries))
	for _, e := range entries {
		rec, ok := e.record()
		if ok {
			out = append(out, rec)
		}
	}
	memory.SortRecent(out)
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.file.Close()
}

// terminateLastLine ends a torn final line so the next entry starts on a
// line of its own.
func terminateLastLine(f *os.File) error {
	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		return nil
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

// readEntries decodes every well-formed line in r. Torn or foreign lines
// are skipped.
func readEntries(r io.Reader) ([]fileEntry, error) {
	var entries []fileEntry
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e fileEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil || e.Seq <= 0 {
			continue
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}

func (e fileEntry) record() (domain.CallRecord, bool) {
	start, err := time.Parse(time.RFC3339Nano, e.StartTime)
	if err != nil {
		return domain.CallRecord{}, false
	}
	rec := domain.CallRecord{
		Sequence:     e.Seq,
		Function:     e.Function,
		StartTime:    start.UTC(),
		DurationMS:   e.DurationMS,
		Status:       domain.Status(e.Status),
		ErrorMessage: e.Error,
	}
	return rec, rec.Validate() == nil
}
