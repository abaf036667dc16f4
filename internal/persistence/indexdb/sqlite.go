package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"tilemove.ai/internal/persistence/snapshot"
	"tilemove.ai/internal/sim/tuning"
	"tilemove.ai/internal/sim/world"
)

// SQLiteIndex is a queryable read model of the tick log. Writes are queued
// and applied by one goroutine in batched transactions; when the queue is
// full they are dropped and counted.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropTick         atomic.Uint64
	dropInvalidation atomic.Uint64
	dropSnapshot     atomic.Uint64
	writeErrors      atomic.Uint64
}

type reqKind int

const (
	reqTick reqKind = iota + 1
	reqInvalidation
	reqSnapshot
)

type req struct {
	kind reqKind

	tick         world.TickLogEntry
	invalidation invalidationRow
	snapshot     snapshotRow
}

type invalidationRow struct {
	Tick    uint64
	Room    string
	Key     string
	Dropped int
}

type snapshotRow struct {
	Tick     uint64
	Path     string
	RunID    string
	Scenario string
	Seed     int64
	Agents   int
	Paths    int
	Flows    int
	Edits    int
}

// Stats reports queue pressure; the tick log stays the source of truth.
type Stats struct {
	QueueDepth        int    `json:"queue_depth"`
	QueueCapacity     int    `json:"queue_capacity"`
	DropTickTotal     uint64 `json:"drop_tick_total"`
	DropInvalidTotal  uint64 `json:"drop_invalidation_total"`
	DropSnapshotTotal uint64 `json:"drop_snapshot_total"`
	WriteErrorTotal   uint64 `json:"write_error_total"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
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
	// WAL is much faster for append-style workloads.
	// NORMAL is a decent durability/perf tradeoff for a secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
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
		`CREATE TABLE IF NOT EXISTS tuning (
			digest TEXT PRIMARY KEY,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			tick INTEGER PRIMARY KEY,
			digest TEXT NOT NULL,
			requests INTEGER NOT NULL,
			moves INTEGER NOT NULL,
			blocked INTEGER NOT NULL,
			searches INTEGER NOT NULL,
			search_ops INTEGER NOT NULL,
			replay_steps INTEGER NOT NULL,
			flow_steps INTEGER NOT NULL,
			crossings INTEGER NOT NULL,
			reverted INTEGER NOT NULL,
			step_ms REAL NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS moves (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			agent_id TEXT NOT NULL,
			from_pos TEXT NOT NULL,
			to_pos TEXT NOT NULL,
			dir TEXT NOT NULL,
			source TEXT NOT NULL,
			crossing INTEGER NOT NULL,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_moves_agent_tick ON moves(agent_id, tick);`,
		`CREATE TABLE IF NOT EXISTS invalidations (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			room TEXT NOT NULL,
			key TEXT NOT NULL,
			dropped INTEGER NOT NULL,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_invalidations_room ON invalidations(room, tick);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			tick INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			run_id TEXT NOT NULL,
			scenario TEXT NOT NULL,
			seed INTEGER NOT NULL,
			agents INTEGER NOT NULL,
			paths INTEGER NOT NULL,
			flows INTEGER NOT NULL,
			edits INTEGER NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
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
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropTickTotal:     s.dropTick.Load(),
		DropInvalidTotal:  s.dropInvalidation.Load(),
		DropSnapshotTotal: s.dropSnapshot.Load(),
		WriteErrorTotal:   s.writeErrors.Load(),
	}
}

func (s *SQLiteIndex) WriteTick(entry world.TickLogEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqTick, tick: entry}:
	default:
		s.dropTick.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) RecordInvalidation(tick uint64, room, key string, dropped int) {
	if s == nil || s.closed.Load() {
		return
	}
	r := invalidationRow{Tick: tick, Room: room, Key: key, Dropped: dropped}
	select {
	case s.ch <- req{kind: reqInvalidation, invalidation: r}:
	default:
		s.dropInvalidation.Add(1)
	}
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.ReplayStateV1) {
	if s == nil || s.closed.Load() {
		return
	}
	r := snapshotRow{
		Tick:     snap.Header.Tick,
		Path:     path,
		RunID:    snap.Header.RunID,
		Scenario: snap.ScenarioID,
		Seed:     snap.Seed,
		Agents:   len(snap.Agents),
		Flows:    len(snap.Flows),
		Edits:    len(snap.Costs),
	}
	for _, a := range snap.Agents {
		if a.Path != "" {
			r.Paths++
		}
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r}:
	default:
		s.dropSnapshot.Add(1)
	}
}

// UpsertTuning stores the tuning actually applied, keyed by its digest,
// and points meta.tuning_digest at it.
func (s *SQLiteIndex) UpsertTuning(tune tuning.Tuning) (string, error) {
	if s == nil {
		return "", nil
	}
	b, err := json.Marshal(tune)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	digest := hex.EncodeToString(sum[:])
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return "", err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO tuning(digest,json,updated_at) VALUES(?,?,?)`, digest, string(b), now); err != nil {
		return "", err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('tuning_digest',?)`, digest); err != nil {
		return "", err
	}
	return digest, tx.Commit()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	// Prepared statements (on db; executed within tx).
	insertTick, _ := s.db.Prepare(`INSERT OR REPLACE INTO ticks(tick,digest,requests,moves,blocked,searches,search_ops,replay_steps,flow_steps,crossings,reverted,step_ms,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	insertMove, _ := s.db.Prepare(`INSERT OR REPLACE INTO moves(tick,seq,agent_id,from_pos,to_pos,dir,source,crossing) VALUES(?,?,?,?,?,?,?,?)`)
	insertInvalidation, _ := s.db.Prepare(`INSERT OR REPLACE INTO invalidations(tick,seq,room,key,dropped) VALUES(?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(tick,path,run_id,scenario,seed,agents,paths,flows,edits) VALUES(?,?,?,?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertTick, insertMove, insertInvalidation, insertSnapshot} {
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

		lastInvalidTick uint64
		invalidSeq      int
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			// If we can't start a tx, we can't do much; sleep a bit.
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
	exec := func(st *sql.Stmt, args ...any) bool {
		if st == nil || tx == nil {
			return false
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return false
		}
		opCount++
		return true
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			s.writeErrors.Add(1)
			continue
		}
		switch r.kind {
		case reqTick:
			e := r.tick
			b, _ := json.Marshal(e)
			if !exec(insertTick,
				int64(e.Tick),
				e.Digest,
				e.Stats.Requests,
				e.Stats.Moves,
				e.Stats.Blocked,
				e.Stats.Searches,
				e.Stats.SearchOps,
				e.Stats.ReplaySteps,
				e.Stats.FlowSteps,
				len(e.Crossings),
				len(e.Reverted),
				e.StepMS,
				string(b),
			) {
				continue
			}
			seq := 0
			for _, m := range e.Moves {
				if !exec(insertMove, int64(e.Tick), seq, m.AgentID, m.From, m.To, m.Dir, m.Source, 0) {
					break
				}
				seq++
			}
			for _, m := range e.Crossings {
				if !exec(insertMove, int64(e.Tick), seq, m.AgentID, m.From, m.To, m.Dir, m.Source, 1) {
					break
				}
				seq++
			}

		case reqInvalidation:
			iv := r.invalidation
			if iv.Tick != lastInvalidTick {
				lastInvalidTick = iv.Tick
				invalidSeq = 0
			}
			seq := invalidSeq
			invalidSeq++
			exec(insertInvalidation, int64(iv.Tick), seq, iv.Room, iv.Key, iv.Dropped)

		case reqSnapshot:
			sn := r.snapshot
			exec(insertSnapshot,
				int64(sn.Tick),
				sn.Path,
				sn.RunID,
				sn.Scenario,
				sn.Seed,
				sn.Agents,
				sn.Paths,
				sn.Flows,
				sn.Edits,
			)
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}
