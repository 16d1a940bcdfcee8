package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"clayformer.ai/internal/sim/shaping"
)

// JSONLZstdWriter appends JSON lines to zstd files rotated by period. Each
// rotation starts a new zstd frame, so reopening an existing file appends.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	period  time.Duration
	now     func() time.Time
	onClose func(path string)

	mu     sync.Mutex
	curKey string
	f      *os.File
	enc    *zstd.Encoder
	w      *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string, period time.Duration) *JSONLZstdWriter {
	if period <= 0 {
		period = time.Hour
	}
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		period:  period,
		now:     time.Now,
	}
}

// SetOnClose registers fn to run with the path of every file the writer
// finishes, on rotation and on Close.
func (w *JSONLZstdWriter) SetOnClose(fn func(path string)) {
	w.mu.Lock()
	w.onClose = fn
	w.mu.Unlock()
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	key := w.now().UTC().Truncate(w.period).Format("2006-01-02-1504")
	if key != w.curKey {
		if err := w.rotateLocked(key); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(key string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.baseDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathFor(key), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 64*1024)
	w.curKey = key
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
		if w.onClose != nil {
			w.onClose(w.pathFor(w.curKey))
		}
	}
	w.w = nil
	w.curKey = ""
	return err1
}

func (w *JSONLZstdWriter) pathFor(key string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, key))
}

// ActionLogger writes one entry per applied action.
type ActionLogger struct{ w *JSONLZstdWriter }

var _ shaping.ActionLogger = (*ActionLogger)(nil)

func NewActionLogger(dataDir string, period time.Duration) *ActionLogger {
	return &ActionLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "actions"), "actions", period)}
}

func (l *ActionLogger) WriteAction(e shaping.ActionLogEntry) error { return l.w.Write(e) }
func (l *ActionLogger) Close() error                               { return l.w.Close() }
func (l *ActionLogger) SetOnClose(fn func(path string))            { l.w.SetOnClose(fn) }

// EventLogger writes engine events. Write failures are dropped; the engine
// never sees them.
type EventLogger struct {
	w      *JSONLZstdWriter
	onFail func(error)
}

var _ shaping.EventSink = (*EventLogger)(nil)

func NewEventLogger(dataDir string, period time.Duration, onFail func(error)) *EventLogger {
	return &EventLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "events"), "events", period), onFail: onFail}
}

func (l *EventLogger) Emit(ev shaping.Event) {
	if err := l.w.Write(ev); err != nil && l.onFail != nil {
		l.onFail(err)
	}
}

func (l *EventLogger) Close() error                    { return l.w.Close() }
func (l *EventLogger) SetOnClose(fn func(path string)) { l.w.SetOnClose(fn) }

// ListFiles returns dir/prefix-*.jsonl.zst in chronological order.
func ListFiles(dir, prefix string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, prefix+"-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

// ReadActions calls fn for each entry in path, stopping at the first error.
func ReadActions(path string, fn func(shaping.ActionLogEntry) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		var e shaping.ActionLogEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return sc.Err()
}
