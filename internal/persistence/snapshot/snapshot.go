package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"

	"cogs.ai/internal/sim/agent"
	"cogs.ai/internal/sim/arena"
)

const Version = 1

type Header struct {
	Version   int    `json:"version"`
	EpisodeID string `json:"episode_id"`
	Tick      uint64 `json:"tick"`
}

// SnapshotV1 is the arena state at the end of one episode.
type SnapshotV1 struct {
	Header Header `json:"header"`

	Index       uint64 `json:"index"`
	StartTick   uint64 `json:"start_tick"`
	EpisodeTick uint64 `json:"episode_tick"`

	Score   map[int]int        `json:"score"`
	Agents  []arena.AgentState `json:"agents"`
	Targets []agent.Target     `json:"targets"`
	Returns []agent.Summary    `json:"returns"`
}

// FromReport builds a snapshot from a finished episode. ok is false when the
// report carries no final state.
func FromReport(rep arena.EpisodeReport) (snap SnapshotV1, ok bool) {
	if rep.Final == nil {
		return snap, false
	}
	f := rep.Final
	snap = SnapshotV1{
		Header:      Header{Version: Version, EpisodeID: rep.EpisodeID, Tick: f.Tick},
		Index:       rep.Index,
		StartTick:   rep.StartTick,
		EpisodeTick: f.EpisodeTick,
		Score:       rep.Score,
		Agents:      f.Agents,
		Targets:     f.Targets,
		Returns:     rep.Agents,
	}
	return snap, true
}

// FileName orders snapshots by episode index.
func FileName(index uint64, episodeID string) string {
	return fmt.Sprintf("ep-%08d-%s.snap.zst", index, episodeID)
}

func Dir(dataDir string) string { return filepath.Join(dataDir, "snapshots") }

// Find returns the snapshot path for episodeID, or "" if none was kept.
func Find(dataDir, episodeID string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(Dir(dataDir), "ep-*-"+episodeID+".snap.zst"))
	if err != nil {
		return "", errors.Wrap(err, "glob snapshots")
	}
	if len(matches) == 0 {
		return "", nil
	}
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}

func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := writeFile(tmp, snap); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func writeFile(path string, snap SnapshotV1) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return errors.Wrap(err, "gob encode")
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return f.Sync()
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)

	line, err := br.ReadBytes('\n')
	if err != nil {
		return snap, errors.Wrap(err, "read header")
	}
	var h Header
	if err := json.Unmarshal(line, &h); err != nil {
		return snap, errors.Wrap(err, "decode header")
	}
	if h.Version != Version {
		return snap, errors.Errorf("unsupported snapshot version %d", h.Version)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, errors.Wrap(err, "gob decode")
	}
	return snap, nil
}

// Writer keeps the final state of the most recent episodes on disk.
type Writer struct {
	dir  string
	keep int
	log  *log.Logger

	written atomic.Uint64
	errs    atomic.Uint64
}

// NewWriter keeps at most keep snapshots under <dataDir>/snapshots; keep <= 0
// keeps all of them.
func NewWriter(dataDir string, keep int, logger *log.Logger) *Writer {
	return &Writer{dir: Dir(dataDir), keep: keep, log: logger}
}

func (w *Writer) RecordDecision(agent.Decision) {}

func (w *Writer) RecordEpisode(rep arena.EpisodeReport) {
	snap, ok := FromReport(rep)
	if !ok {
		return
	}
	path := filepath.Join(w.dir, FileName(rep.Index, rep.EpisodeID))
	if err := WriteSnapshot(path, snap); err != nil {
		w.errs.Add(1)
		if w.log != nil {
			w.log.Printf("snapshot %s: %v", rep.EpisodeID, err)
		}
		return
	}
	w.written.Add(1)
	if err := w.prune(); err != nil && w.log != nil {
		w.log.Printf("snapshot prune: %v", err)
	}
}

func (w *Writer) Written() uint64 { return w.written.Load() }
func (w *Writer) Errors() uint64  { return w.errs.Load() }

func (w *Writer) prune() error {
	if w.keep <= 0 {
		return nil
	}
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".snap.zst") {
			names = append(names, e.Name())
		}
	}
	if len(names) <= w.keep {
		return nil
	}
	sort.Strings(names)
	for _, name := range names[:len(names)-w.keep] {
		if err := os.Remove(filepath.Join(w.dir, name)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

var _ arena.Recorder = (*Writer)(nil)
