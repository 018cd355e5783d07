// Package store persists experiment tables, augmentation designs, and
// surrogate metadata to a SQLite database. It is an external collaborator
// of the modeling core: the core never depends on it.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/metamodel-sim/metamodel-sim/meta"

	_ "modernc.org/sqlite"
)

// Store is a SQLite-backed experiment database.
type Store struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

// New creates a store for the database file at path. Call Init before use.
func New(path string) *Store {
	return &Store{path: path}
}

// Init opens the database and creates the schema if needed. Idempotent.
func (s *Store) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("store: database path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}
	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}
	s.db = db
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, errors.New("store: not initialized")
	}
	return s.db, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS scopes (
			name    TEXT PRIMARY KEY,
			content TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS experiments (
			id     TEXT PRIMARY KEY,
			scope  TEXT NOT NULL,
			design TEXT NOT NULL,
			seq    INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS experiment_values (
			experiment_id TEXT NOT NULL,
			name          TEXT NOT NULL,
			is_output     INTEGER NOT NULL,
			num           REAL,
			txt           TEXT,
			PRIMARY KEY (experiment_id, name)
		);
		CREATE TABLE IF NOT EXISTS metamodels (
			id      TEXT PRIMARY KEY,
			scope   TEXT NOT NULL,
			name    TEXT NOT NULL,
			created TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS metamodel_scores (
			metamodel_id TEXT NOT NULL,
			output       TEXT NOT NULL,
			score        REAL NOT NULL,
			PRIMARY KEY (metamodel_id, output)
		);
	`)
	return err
}

// WriteScope stores (or replaces) a scope definition by name.
func (s *Store) WriteScope(ctx context.Context, name, content string) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO scopes (name, content) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET content = excluded.content
	`, name, content)
	return err
}

// ReadScope returns a stored scope definition.
func (s *Store) ReadScope(ctx context.Context, name string) (string, error) {
	db, err := s.getDB()
	if err != nil {
		return "", err
	}
	var content string
	err = db.QueryRowContext(ctx, `SELECT content FROM scopes WHERE name = ?`, name).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("store: no scope named %q", name)
	}
	return content, err
}

// WriteExperiments stores a row-aligned pair of input and output tables
// under a design name, returning the generated experiment ids in row
// order. outputs may be nil for a design whose experiments have not been
// evaluated yet.
func (s *Store) WriteExperiments(ctx context.Context, scopeName, designName string, inputs, outputs *meta.Table) ([]string, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	if outputs != nil && outputs.NumRows() != inputs.NumRows() {
		return nil, fmt.Errorf("store: input table has %d rows, output table has %d", inputs.NumRows(), outputs.NumRows())
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	ids := make([]string, inputs.NumRows())
	for i := range ids {
		ids[i] = uuid.NewString()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO experiments (id, scope, design, seq) VALUES (?, ?, ?, ?)
		`, ids[i], scopeName, designName, i); err != nil {
			return nil, err
		}
		if err := writeRowValues(ctx, tx, ids[i], inputs, i, false); err != nil {
			return nil, err
		}
		if outputs != nil {
			if err := writeRowValues(ctx, tx, ids[i], outputs, i, true); err != nil {
				return nil, err
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

func writeRowValues(ctx context.Context, tx *sql.Tx, id string, t *meta.Table, row int, isOutput bool) error {
	for _, name := range t.Names() {
		col, err := t.Column(name)
		if err != nil {
			return err
		}
		var num sql.NullFloat64
		var txt sql.NullString
		if col.Kind == meta.Categorical {
			txt = sql.NullString{String: col.Strings[row], Valid: true}
		} else {
			num = sql.NullFloat64{Float64: col.Floats[row], Valid: true}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO experiment_values (experiment_id, name, is_output, num, txt)
			VALUES (?, ?, ?, ?, ?)
		`, id, name, boolInt(isOutput), num, txt); err != nil {
			return err
		}
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ReadExperiments reconstructs the stored input and output tables of a
// design, rows in their original order and columns in name order.
func (s *Store) ReadExperiments(ctx context.Context, scopeName, designName string) (inputs, outputs *meta.Table, err error) {
	db, err := s.getDB()
	if err != nil {
		return nil, nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT e.seq, v.name, v.is_output, v.num, v.txt
		FROM experiments e JOIN experiment_values v ON v.experiment_id = e.id
		WHERE e.scope = ? AND e.design = ?
		ORDER BY v.name, e.seq
	`, scopeName, designName)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	type colAcc struct {
		isOutput bool
		nums     []float64
		txts     []string
		isText   bool
	}
	cols := map[string]*colAcc{}
	var order []string
	for rows.Next() {
		var seq, isOutput int
		var name string
		var num sql.NullFloat64
		var txt sql.NullString
		if err := rows.Scan(&seq, &name, &isOutput, &num, &txt); err != nil {
			return nil, nil, err
		}
		acc, ok := cols[name]
		if !ok {
			acc = &colAcc{isOutput: isOutput == 1, isText: txt.Valid}
			cols[name] = acc
			order = append(order, name)
		}
		if acc.isText {
			acc.txts = append(acc.txts, txt.String)
		} else {
			acc.nums = append(acc.nums, num.Float64)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	if len(order) == 0 {
		return nil, nil, fmt.Errorf("store: no design named %q for scope %q", designName, scopeName)
	}

	inputs, outputs = meta.NewTable(), meta.NewTable()
	for _, name := range order {
		acc := cols[name]
		dst := inputs
		if acc.isOutput {
			dst = outputs
		}
		if acc.isText {
			err = dst.AddCategorical(name, acc.txts)
		} else {
			err = dst.AddNumeric(name, acc.nums)
		}
		if err != nil {
			return nil, nil, err
		}
	}
	return inputs, outputs, nil
}

// ReadDesignNames lists the design names stored for a scope.
func (s *Store) ReadDesignNames(ctx context.Context, scopeName string) ([]string, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT DISTINCT design FROM experiments WHERE scope = ? ORDER BY design
	`, scopeName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// NewDesignName returns proposed if unused for this scope, else the first
// unused "proposed_N" starting at N=2.
func (s *Store) NewDesignName(ctx context.Context, scopeName, proposed string) (string, error) {
	existing, err := s.ReadDesignNames(ctx, scopeName)
	if err != nil {
		return "", err
	}
	used := map[string]bool{}
	for _, name := range existing {
		used[name] = true
	}
	if !used[proposed] {
		return proposed, nil
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s_%d", proposed, n)
		if !used[candidate] {
			return candidate, nil
		}
	}
}

// WriteMetamodel records surrogate metadata and its per-output
// cross-validation scores, returning the generated metamodel id.
func (s *Store) WriteMetamodel(ctx context.Context, scopeName, name string, scores map[string]float64) (string, error) {
	db, err := s.getDB()
	if err != nil {
		return "", err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	id := uuid.NewString()
	if name == "" {
		name = "MetaModel-" + id[:8]
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO metamodels (id, scope, name, created) VALUES (?, ?, ?, ?)
	`, id, scopeName, name, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return "", err
	}
	for output, score := range scores {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO metamodel_scores (metamodel_id, output, score) VALUES (?, ?, ?)
		`, id, output, score); err != nil {
			return "", err
		}
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return id, nil
}
