package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"

	"cogs.ai/internal/sim/agent"
	"cogs.ai/internal/sim/arena"
)

type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "marshal entry")
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	path := w.pathForHour(hour)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "create log dir")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
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
	}
	w.w = nil
	w.curHour = ""
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// StepEntry is one decision as written to the step log.
type StepEntry struct {
	Tick      uint64    `json:"tick"`
	EpisodeID string    `json:"episode_id"`
	AgentID   string    `json:"agent_id"`
	Team      int       `json:"team"`
	Obs       []float32 `json:"obs"`
	Action    []int     `json:"action"`
	Reward    float64   `json:"reward"`
	Error     string    `json:"error,omitempty"`
}

func NewStepEntry(d agent.Decision) StepEntry {
	e := StepEntry{
		Tick:      d.Tick,
		EpisodeID: d.EpisodeID,
		AgentID:   d.AgentID,
		Team:      d.Team,
		Obs:       d.Obs,
		Action:    d.Action[:],
		Reward:    d.Reward,
	}
	if d.Err != nil {
		e.Error = d.Err.Error()
	}
	return e
}

// StepLogger writes one JSONL entry per decision (compressed).
type StepLogger struct {
	w      *JSONLZstdWriter
	errors atomic.Uint64
}

func NewStepLogger(dataDir string) *StepLogger {
	return &StepLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "steps"), "steps")}
}

func (l *StepLogger) WriteStep(e StepEntry) error { return l.w.Write(e) }
func (l *StepLogger) Close() error                { return l.w.Close() }

// Errors counts failed writes made through the Recorder methods.
func (l *StepLogger) Errors() uint64 { return l.errors.Load() }

func (l *StepLogger) RecordDecision(d agent.Decision) {
	if err := l.WriteStep(NewStepEntry(d)); err != nil {
		l.errors.Add(1)
	}
}

func (l *StepLogger) RecordEpisode(arena.EpisodeReport) {}

// EpisodeLogger writes one JSONL entry per finished episode (compressed).
type EpisodeLogger struct {
	w      *JSONLZstdWriter
	errors atomic.Uint64
}

func NewEpisodeLogger(dataDir string) *EpisodeLogger {
	return &EpisodeLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "episodes"), "episodes")}
}

func (l *EpisodeLogger) WriteEpisode(r arena.EpisodeReport) error { return l.w.Write(r) }
func (l *EpisodeLogger) Close() error                             { return l.w.Close() }
func (l *EpisodeLogger) Errors() uint64                           { return l.errors.Load() }

func (l *EpisodeLogger) RecordDecision(agent.Decision) {}

func (l *EpisodeLogger) RecordEpisode(r arena.EpisodeReport) {
	if err := l.WriteEpisode(r); err != nil {
		l.errors.Add(1)
	}
}

// Files lists the log files of a kind ("steps" or "episodes") under dataDir in
// chronological order.
func Files(dataDir, kind string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dataDir, kind, kind+"-*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

// ReadJSONL decodes a compressed JSONL file, calling fn once per line.
func ReadJSONL(path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "zstd %s", path)
	}
	defer dec.Close()
	return scanLines(dec, fn)
}

func scanLines(r io.Reader, fn func([]byte) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	return sc.Err()
}

func ReadSteps(path string, fn func(StepEntry) error) error {
	return ReadJSONL(path, func(line []byte) error {
		var e StepEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return errors.Wrap(err, "decode step")
		}
		return fn(e)
	})
}

func ReadEpisodes(path string, fn func(arena.EpisodeReport) error) error {
	return ReadJSONL(path, func(line []byte) error {
		var r arena.EpisodeReport
		if err := json.Unmarshal(line, &r); err != nil {
			return errors.Wrap(err, "decode episode")
		}
		return fn(r)
	})
}
