package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gradewatch/internal/chrono"
	"gradewatch/internal/grades"

	"github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

//go:embed history.sql
var Schema string

type HistoryConfig struct {
	// File is a local SQLite database.
	File string `json:"file"`
	// URL is a remote libsql database (libsql://, https://), it takes
	// precedence over File.
	URL       string `json:"url"`
	AuthToken string `json:"auth_token"`
}

// OpenHistoryDB opens the configured database and applies the schema.
func OpenHistoryDB(ctx context.Context, config HistoryConfig) (*sql.DB, error) {
	var db *sql.DB
	var err error
	switch {
	case config.URL != "":
		db, err = openRemote(config)
	case config.File != "":
		db, err = openFile(config.File)
	default:
		return nil, fmt.Errorf("history: neither a file nor a url was specified")
	}
	if err != nil {
		return nil, err
	}

	if _, err := db.ExecContext(ctx, Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: apply schema: %w", err)
	}
	return db, nil
}

func openRemote(config HistoryConfig) (*sql.DB, error) {
	var opts []libsql.Option
	if config.AuthToken != "" {
		opts = append(opts, libsql.WithAuthToken(config.AuthToken))
	}
	connector, err := libsql.NewConnector(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return sql.OpenDB(connector), nil
}

func openFile(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			f, err := os.Create(path)
			if err != nil {
				return nil, err
			}
			f.Close()
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one connection, so ":memory:" databases live across calls
	db.SetMaxOpenConns(1)
	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, err
		}
	}
	return db, nil
}

// Change is one detected change of one course.
type Change struct {
	Time    time.Time
	CycleID string
	Course  string
	// PreviousTotal is nil when the course was new.
	PreviousTotal *string
	Current       grades.State
}

type History struct {
	db    *sql.DB
	clock chrono.TimeAPI
}

func NewHistory(db *sql.DB, clock chrono.TimeAPI) History {
	return History{db: db, clock: clock}
}

// Push records every changed course of one check cycle in a single
// transaction. prev is the snapshot the changes were detected against.
func (h History) Push(ctx context.Context, cycleID string, prev grades.Snapshot, changed []grades.Course) error {
	if len(changed) == 0 {
		return nil
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := h.clock.Now().Unix()
	for _, course := range changed {
		state := course.State()
		components, err := json.Marshal(state.Components)
		if err != nil {
			return err
		}

		var previous sql.NullString
		if p, ok := prev[course.Name]; ok {
			previous = sql.NullString{String: p.Total, Valid: true}
		}

		_, err = tx.ExecContext(
			ctx,
			`insert into grade_change (time, cycle, course, previous_total, total, components)
			values (?, ?, ?, ?, ?, ?)`,
			now, cycleID, course.Name, previous, state.Total, string(components),
		)
		if err != nil {
			return fmt.Errorf("history: insert %s: %w", course.Name, err)
		}
	}
	return tx.Commit()
}

// Pull lists recorded changes, newest first. An empty course lists every
// course.
func (h History) Pull(ctx context.Context, course string, limit int) ([]Change, error) {
	query := strings.Builder{}
	query.WriteString(`select time, cycle, course, previous_total, total, components from grade_change`)
	args := []any{}
	if course != "" {
		query.WriteString(` where course = ?`)
		args = append(args, course)
	}
	query.WriteString(` order by time desc, id desc`)
	if limit > 0 {
		query.WriteString(` limit ?`)
		args = append(args, limit)
	}

	rows, err := h.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	changes := []Change{}
	for rows.Next() {
		var (
			unix       int64
			c          Change
			previous   sql.NullString
			components string
		)
		err := rows.Scan(&unix, &c.CycleID, &c.Course, &previous, &c.Current.Total, &components)
		if err != nil {
			return nil, err
		}
		c.Time = time.Unix(unix, 0)
		if previous.Valid {
			c.PreviousTotal = &previous.String
		}
		if err := json.Unmarshal([]byte(components), &c.Current.Components); err != nil {
			return nil, fmt.Errorf("history: decode components of %s: %w", c.Course, err)
		}
		changes = append(changes, c)
	}
	return changes, rows.Err()
}
