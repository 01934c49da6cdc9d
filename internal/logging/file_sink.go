package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	defaultLogFileMaxBytes = 5 * 1024 * 1024
	defaultLogFileKeep     = 10
	logFilePrefix          = "vaultchat-"
	logFileSuffix          = ".jsonl"
)

// fileSink appends events as JSON lines. A file is rotated once it would
// exceed maxBytes, and only the newest keep files survive a rotation.
type fileSink struct {
	mu       sync.Mutex
	dir      string
	run      string
	maxBytes int64
	keep     int
	part     int
	file     *os.File
	size     int64
	closed   bool
}

type jsonLogLine struct {
	Time    string         `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
}

func DefaultLogDirPath() (string, error) {
	root, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, "vaultchat", "logs"), nil
}

func openFileSink(dir string, maxBytes int64, keep int) (*fileSink, error) {
	if maxBytes <= 0 {
		maxBytes = defaultLogFileMaxBytes
	}
	sink := &fileSink{
		dir:      dir,
		run:      time.Now().UTC().Format("20060102-150405"),
		maxBytes: maxBytes,
		keep:     keep,
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if err := sink.rotateLocked(); err != nil {
		return nil, err
	}
	return sink, nil
}

func (s *fileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func (s *fileSink) WriteEvent(event Event) error {
	line, err := json.Marshal(jsonLogLine{
		Time:    event.Time.UTC().Format(time.RFC3339Nano),
		Level:   strings.ToUpper(event.Level.String()),
		Message: event.Message,
		Fields:  jsonFields(event.Fields),
	})
	if err != nil {
		return err
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return os.ErrClosed
	}
	if s.file == nil || (s.size > 0 && s.size+int64(len(line)) > s.maxBytes) {
		if err := s.rotateLocked(); err != nil {
			return err
		}
	}
	n, err := s.file.Write(line)
	s.size += int64(n)
	return err
}

func (s *fileSink) rotateLocked() error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return err
	}
	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
	s.part++
	name := fmt.Sprintf("%s%s-%03d%s", logFilePrefix, s.run, s.part, logFileSuffix)
	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	s.file = f
	s.size = info.Size()
	s.pruneLocked()
	return nil
}

// pruneLocked removes the oldest log files beyond keep. Names sort by run
// timestamp then part, so lexical order is age order.
func (s *fileSink) pruneLocked() {
	if s.keep <= 0 {
		return
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}
	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() && strings.HasPrefix(name, logFilePrefix) && strings.HasSuffix(name, logFileSuffix) {
			names = append(names, name)
		}
	}
	if len(names) <= s.keep {
		return
	}
	sort.Strings(names)
	for _, name := range names[:len(names)-s.keep] {
		_ = os.Remove(filepath.Join(s.dir, name))
	}
}

// jsonFields turns values that do not marshal usefully into text.
func jsonFields(fields map[string]any) map[string]any {
	if len(fields) == 0 {
		return nil
	}
	out := make(map[string]any, len(fields))
	for key, value := range fields {
		switch v := value.(type) {
		case error:
			out[key] = v.Error()
		case []byte:
			out[key] = string(v)
		case fmt.Stringer:
			out[key] = v.String()
		default:
			out[key] = value
		}
	}
	return out
}
