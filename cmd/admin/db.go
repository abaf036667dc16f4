package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

type dbQuery struct {
	Name    string
	Limit   int
	Tick    uint64
	AgentID string
	Room    string
}

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (required unless -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	tick := fs.Uint64("tick", 0, "only rows at or after this tick")
	limit := fs.Int("limit", 20, "result limit")
	agentID := fs.String("agent", "", "agent_id filter (moves)")
	room := fs.String("room", "", "room filter (invalidations)")
	_ = fs.Parse(args)

	q := dbQuery{Name: "snapshots", Limit: *limit, Tick: *tick, AgentID: strings.TrimSpace(*agentID), Room: strings.ToUpper(strings.TrimSpace(*room))}
	if fs.NArg() > 0 {
		q.Name = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		if strings.TrimSpace(*worldID) == "" {
			fmt.Fprintln(os.Stderr, "missing -world or -db")
			os.Exit(2)
		}
		path = filepath.Join(*dataDir, "worlds", *worldID, "index", "world.sqlite")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := runQuery(db, q, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runQuery prints one JSON object per row.
func runQuery(db *sql.DB, q dbQuery, out io.Writer) error {
	if q.Limit <= 0 {
		q.Limit = 20
	}
	switch q.Name {
	case "snapshots":
		rows, err := db.Query(`SELECT tick,path,run_id,scenario,seed,agents,paths,flows,edits FROM snapshots WHERE tick>=? ORDER BY tick DESC LIMIT ?`, q.Tick, q.Limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		return emitRows(rows, out, func(rows *sql.Rows) (any, error) {
			var r struct {
				Tick     uint64 `json:"tick"`
				Path     string `json:"path"`
				RunID    string `json:"run_id"`
				Scenario string `json:"scenario"`
				Seed     int64  `json:"seed"`
				Agents   int    `json:"agents"`
				Paths    int    `json:"paths"`
				Flows    int    `json:"flows"`
				Edits    int    `json:"edits"`
			}
			err := rows.Scan(&r.Tick, &r.Path, &r.RunID, &r.Scenario, &r.Seed, &r.Agents, &r.Paths, &r.Flows, &r.Edits)
			return r, err
		})

	case "ticks":
		rows, err := db.Query(`SELECT tick,digest,requests,moves,blocked,searches,search_ops,replay_steps,flow_steps,crossings,reverted,step_ms FROM ticks WHERE tick>=? ORDER BY tick DESC LIMIT ?`, q.Tick, q.Limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		return emitRows(rows, out, func(rows *sql.Rows) (any, error) {
			var r struct {
				Tick        uint64  `json:"tick"`
				Digest      string  `json:"digest"`
				Requests    int     `json:"requests"`
				Moves       int     `json:"moves"`
				Blocked     int     `json:"blocked"`
				Searches    int     `json:"searches"`
				SearchOps   int     `json:"search_ops"`
				ReplaySteps int     `json:"replay_steps"`
				FlowSteps   int     `json:"flow_steps"`
				Crossings   int     `json:"crossings"`
				Reverted    int     `json:"reverted"`
				StepMS      float64 `json:"step_ms"`
			}
			err := rows.Scan(&r.Tick, &r.Digest, &r.Requests, &r.Moves, &r.Blocked, &r.Searches, &r.SearchOps, &r.ReplaySteps, &r.FlowSteps, &r.Crossings, &r.Reverted, &r.StepMS)
			return r, err
		})

	case "moves":
		if q.AgentID == "" {
			return fmt.Errorf("moves: missing -agent")
		}
		rows, err := db.Query(`SELECT tick,seq,agent_id,from_pos,to_pos,dir,source,crossing FROM moves WHERE agent_id=? AND tick>=? ORDER BY tick DESC, seq DESC LIMIT ?`, q.AgentID, q.Tick, q.Limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		return emitRows(rows, out, func(rows *sql.Rows) (any, error) {
			var r struct {
				Tick     uint64 `json:"tick"`
				Seq      int    `json:"seq"`
				AgentID  string `json:"agent_id"`
				From     string `json:"from"`
				To       string `json:"to"`
				Dir      string `json:"dir"`
				Source   string `json:"source,omitempty"`
				Crossing bool   `json:"crossing"`
			}
			var crossing int
			err := rows.Scan(&r.Tick, &r.Seq, &r.AgentID, &r.From, &r.To, &r.Dir, &r.Source, &crossing)
			r.Crossing = crossing != 0
			return r, err
		})

	case "invalidations":
		query := `SELECT tick,seq,room,key,dropped FROM invalidations WHERE tick>=?`
		params := []any{q.Tick}
		if q.Room != "" {
			query += ` AND room=?`
			params = append(params, q.Room)
		}
		query += ` ORDER BY tick DESC, seq DESC LIMIT ?`
		params = append(params, q.Limit)
		rows, err := db.Query(query, params...)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		return emitRows(rows, out, func(rows *sql.Rows) (any, error) {
			var r struct {
				Tick    uint64 `json:"tick"`
				Seq     int    `json:"seq"`
				Room    string `json:"room"`
				Key     string `json:"key,omitempty"`
				Dropped int    `json:"dropped"`
			}
			err := rows.Scan(&r.Tick, &r.Seq, &r.Room, &r.Key, &r.Dropped)
			return r, err
		})

	case "tuning":
		rows, err := db.Query(`SELECT digest,json,updated_at FROM tuning ORDER BY updated_at DESC LIMIT ?`, q.Limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		return emitRows(rows, out, func(rows *sql.Rows) (any, error) {
			var r struct {
				Digest    string          `json:"digest"`
				Tuning    json.RawMessage `json:"tuning"`
				UpdatedAt string          `json:"updated_at"`
			}
			var raw string
			err := rows.Scan(&r.Digest, &raw, &r.UpdatedAt)
			r.Tuning = json.RawMessage(raw)
			return r, err
		})
	}
	return fmt.Errorf("unknown query: %s (snapshots|ticks|moves|invalidations|tuning)", q.Name)
}

func emitRows(rows *sql.Rows, out io.Writer, scan func(*sql.Rows) (any, error)) error {
	defer rows.Close()
	enc := json.NewEncoder(out)
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		if err := enc.Encode(v); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows: %w", err)
	}
	return nil
}
