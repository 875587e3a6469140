package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"cogs.ai/internal/sim/agent"
	"cogs.ai/internal/sim/arena"
	"cogs.ai/internal/sim/tuning"
)

// SQLiteIndex is a queryable read model of finished episodes and non-zero
// reward decisions. The JSONL logs remain the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropDecision atomic.Uint64
	dropEpisode  atomic.Uint64
	writeErrors  atomic.Uint64
}

type Stats struct {
	DropDecisionTotal uint64 `json:"drop_decision_total"`
	DropEpisodeTotal  uint64 `json:"drop_episode_total"`
	WriteErrorTotal   uint64 `json:"write_error_total"`
	QueueDepth        int    `json:"queue_depth"`
	QueueCapacity     int    `json:"queue_capacity"`
}

type reqKind int

const (
	reqDecision reqKind = iota + 1
	reqEpisode
	reqFlush
)

type req struct {
	kind reqKind

	decision agent.Decision
	episode  arena.EpisodeReport
	flushed  chan struct{}
}

// EpisodeRow is one row of the episodes table.
type EpisodeRow struct {
	EpisodeID string      `json:"episode_id"`
	Index     uint64      `json:"index"`
	StartTick uint64      `json:"start_tick"`
	EndTick   uint64      `json:"end_tick"`
	StartedAt string      `json:"started_at"`
	EndedAt   string      `json:"ended_at"`
	Score     map[int]int `json:"score"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, errors.New("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create db dir")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	// One writer connection plus one for readers; WAL lets them overlap.
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return errors.Wrap(err, p)
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS configs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS episodes (
			episode_id TEXT PRIMARY KEY,
			idx INTEGER NOT NULL,
			start_tick INTEGER NOT NULL,
			end_tick INTEGER NOT NULL,
			started_at TEXT NOT NULL,
			ended_at TEXT NOT NULL,
			score_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_episodes_idx ON episodes(idx);`,
		`CREATE TABLE IF NOT EXISTS agent_episodes (
			episode_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			team INTEGER NOT NULL,
			total REAL NOT NULL,
			tally_json TEXT NOT NULL,
			PRIMARY KEY (episode_id, agent_id)
		);`,
		`CREATE TABLE IF NOT EXISTS reward_events (
			episode_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			agent_id TEXT NOT NULL,
			team INTEGER NOT NULL,
			reward REAL NOT NULL,
			action_json TEXT NOT NULL,
			error TEXT,
			PRIMARY KEY (episode_id, tick, agent_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_reward_events_agent_tick ON reward_events(agent_id, tick);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		DropDecisionTotal: s.dropDecision.Load(),
		DropEpisodeTotal:  s.dropEpisode.Load(),
		WriteErrorTotal:   s.writeErrors.Load(),
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
	}
}

// RecordDecision indexes decisions that carried a reward or an error.
func (s *SQLiteIndex) RecordDecision(d agent.Decision) {
	if s == nil || s.closed.Load() {
		return
	}
	if d.Reward == 0 && d.Err == nil {
		return
	}
	select {
	case s.ch <- req{kind: reqDecision, decision: d}:
	default:
		// Drop if the indexer falls behind.
		s.dropDecision.Add(1)
	}
}

func (s *SQLiteIndex) RecordEpisode(r arena.EpisodeReport) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqEpisode, episode: r}:
	default:
		s.dropEpisode.Add(1)
	}
}

// Flush commits everything queued so far.
func (s *SQLiteIndex) Flush(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqFlush, flushed: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UpsertTuning stores the tuning actually applied, with its digest.
func (s *SQLiteIndex) UpsertTuning(tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(tune)
	if err != nil {
		return errors.Wrap(err, "marshal tuning")
	}
	sum := sha256.Sum256(b)
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO configs(name,digest,json,updated_at) VALUES(?,?,?,?)`,
		"tuning", hex.EncodeToString(sum[:]), string(b), now); err != nil {
		return errors.Wrap(err, "upsert tuning")
	}
	return tx.Commit()
}

// Episodes returns up to limit finished episodes, newest first.
func (s *SQLiteIndex) Episodes(ctx context.Context, limit int) ([]EpisodeRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT episode_id,idx,start_tick,end_tick,started_at,ended_at,score_json FROM episodes ORDER BY idx DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query episodes")
	}
	defer rows.Close()

	var out []EpisodeRow
	for rows.Next() {
		var (
			r     EpisodeRow
			start int64
			end   int64
			idx   int64
			score string
		)
		if err := rows.Scan(&r.EpisodeID, &idx, &start, &end, &r.StartedAt, &r.EndedAt, &score); err != nil {
			return nil, err
		}
		r.Index, r.StartTick, r.EndTick = uint64(idx), uint64(start), uint64(end)
		if err := json.Unmarshal([]byte(score), &r.Score); err != nil {
			return nil, errors.Wrap(err, "decode score")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scoreJSON(score map[int]int) string {
	teams := make([]int, 0, len(score))
	for t := range score {
		teams = append(teams, t)
	}
	sort.Ints(teams)
	m := make(map[string]int, len(score))
	for _, t := range teams {
		m[strconv.Itoa(t)] = score[t]
	}
	b, _ := json.Marshal(m)
	return string(b)
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertEpisode, _ := s.db.Prepare(`INSERT OR REPLACE INTO episodes(episode_id,idx,start_tick,end_tick,started_at,ended_at,score_json) VALUES(?,?,?,?,?,?,?)`)
	insertAgent, _ := s.db.Prepare(`INSERT OR REPLACE INTO agent_episodes(episode_id,agent_id,team,total,tally_json) VALUES(?,?,?,?,?)`)
	insertReward, _ := s.db.Prepare(`INSERT OR REPLACE INTO reward_events(episode_id,tick,agent_id,team,reward,action_json,error) VALUES(?,?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertEpisode, insertAgent, insertReward} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			s.writeErrors.Add(1)
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.writeErrors.Add(1)
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		s.writeErrors.Add(1)
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	idle := time.NewTicker(commitMaxWait)
	defer idle.Stop()

	for {
		var r req
		select {
		case rr, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			r = rr
		case <-idle.C:
			flushIfNeeded()
			continue
		}

		if r.kind == reqFlush {
			commit()
			close(r.flushed)
			continue
		}

		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqDecision:
			d := r.decision
			if insertReward == nil {
				break
			}
			act, _ := json.Marshal(d.Action)
			var errText any
			if d.Err != nil {
				errText = d.Err.Error()
			}
			if _, err := tx.Stmt(insertReward).Exec(d.EpisodeID, int64(d.Tick), d.AgentID, d.Team, d.Reward, string(act), errText); err != nil {
				rollback()
				continue
			}
			opCount++

		case reqEpisode:
			e := r.episode
			if insertEpisode != nil {
				if _, err := tx.Stmt(insertEpisode).Exec(
					e.EpisodeID,
					int64(e.Index),
					int64(e.StartTick),
					int64(e.EndTick),
					e.StartedAt.UTC().Format(time.RFC3339Nano),
					e.EndedAt.UTC().Format(time.RFC3339Nano),
					scoreJSON(e.Score),
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}
			for _, a := range e.Agents {
				if insertAgent == nil {
					break
				}
				tally, _ := json.Marshal(a.Tally)
				if _, err := tx.Stmt(insertAgent).Exec(e.EpisodeID, a.AgentID, a.Team, a.Total, string(tally)); err != nil {
					rollback()
					break
				}
				opCount++
			}
		}
		flushIfNeeded()
	}
}
