// Package store persists source models: source spaces and labels go to a
// SQLite database keyed by run, and labels can also be written as
// FreeSurfer .label files.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r3"
	_ "modernc.org/sqlite"

	"bv2src/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	subject     TEXT NOT NULL,
	created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS source_spaces (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT NOT NULL,
	kind        TEXT NOT NULL,
	name        TEXT NOT NULL,
	space_id    INTEGER NOT NULL,
	np          INTEGER NOT NULL,
	nuse        INTEGER NOT NULL,
	coords      BLOB NOT NULL,
	inuse       BLOB NOT NULL,
	tris        BLOB,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE TABLE IF NOT EXISTS labels (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT NOT NULL,
	kind        TEXT NOT NULL,
	hemi        TEXT NOT NULL,
	name        TEXT NOT NULL,
	vertices    BLOB NOT NULL,
	pos         BLOB NOT NULL,
	vals        BLOB NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE INDEX IF NOT EXISTS idx_runs_subject ON runs(subject, created_at);
`

// timeFormat is fixed width so that stored timestamps sort as text
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// ErrNoRun is returned when a subject has no stored run
var ErrNoRun = errors.New("no stored run")

// Run identifies one persisted pipeline run of a subject
type Run struct {
	ID        string
	Subject   string
	CreatedAt time.Time
}

// Store manages persisted source models in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) a SQLite store and runs migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// BeginRun registers a new run for subject and returns it.
func (s *Store) BeginRun(ctx context.Context, subject string) (Run, error) {
	run := Run{ID: uuid.New().String(), Subject: subject, CreatedAt: time.Now().UTC()}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, subject, created_at) VALUES (?, ?, ?)`,
		run.ID, run.Subject, run.CreatedAt.Format(timeFormat),
	)
	if err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// SaveSourceSpaces stores source spaces under a run, in one transaction.
func (s *Store) SaveSourceSpaces(ctx context.Context, runID string, spaces []models.SourceSpace) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, sp := range spaces {
		var tris []byte
		if sp.Tris != nil {
			tris = encodeTris(sp.Tris)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO source_spaces (run_id, kind, name, space_id, np, nuse, coords, inuse, tris)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, string(sp.Kind), sp.Name, sp.ID, sp.NP(), sp.NUse(),
			encodeVecs(sp.Coords), encodeBools(sp.InUse), tris,
		)
		if err != nil {
			return fmt.Errorf("insert source space %s: %w", sp.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// SaveLabels stores labels of the given kind under a run.
func (s *Store) SaveLabels(ctx context.Context, runID string, kind models.SourceKind, labels []models.Label) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, l := range labels {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO labels (run_id, kind, hemi, name, vertices, pos, vals) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			runID, string(kind), string(l.Hemi), l.Name,
			encodeInts(l.Vertices), encodeVecs(l.Pos), encodeFloats(l.Values),
		)
		if err != nil {
			return fmt.Errorf("insert label %s: %w", l.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// LatestRun returns the most recent run of a subject, or ErrNoRun.
func (s *Store) LatestRun(ctx context.Context, subject string) (Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, subject, created_at FROM runs WHERE subject = ?
		 ORDER BY created_at DESC, rowid DESC LIMIT 1`, subject)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("subject %s: %w", subject, ErrNoRun)
	}
	return run, err
}

// Runs lists every run, oldest first.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT run_id, subject, created_at FROM runs ORDER BY created_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// SourceSpaces loads the source spaces of a run in insertion order.
func (s *Store) SourceSpaces(ctx context.Context, run Run) ([]models.SourceSpace, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, name, space_id, coords, inuse, tris FROM source_spaces WHERE run_id = ? ORDER BY id`, run.ID)
	if err != nil {
		return nil, fmt.Errorf("query source spaces: %w", err)
	}
	defer rows.Close()

	var spaces []models.SourceSpace
	for rows.Next() {
		var (
			kind, name          string
			id                  int
			coords, inuse, tris []byte
		)
		if err := rows.Scan(&kind, &name, &id, &coords, &inuse, &tris); err != nil {
			return nil, fmt.Errorf("scan source space: %w", err)
		}
		sp := models.SourceSpace{
			Kind:    models.SourceKind(kind),
			Name:    name,
			ID:      id,
			Subject: run.Subject,
			Coords:  decodeVecs(coords),
			InUse:   decodeBools(inuse),
		}
		if tris != nil {
			sp.Tris = decodeTris(tris)
		}
		spaces = append(spaces, sp)
	}
	return spaces, rows.Err()
}

// Labels loads the labels of a run in insertion order.
func (s *Store) Labels(ctx context.Context, run Run) ([]models.Label, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT hemi, name, vertices, pos, vals FROM labels WHERE run_id = ? ORDER BY id`, run.ID)
	if err != nil {
		return nil, fmt.Errorf("query labels: %w", err)
	}
	defer rows.Close()

	var labels []models.Label
	for rows.Next() {
		var (
			hemi, name          string
			vertices, pos, vals []byte
		)
		if err := rows.Scan(&hemi, &name, &vertices, &pos, &vals); err != nil {
			return nil, fmt.Errorf("scan label: %w", err)
		}
		labels = append(labels, models.Label{
			Name:     name,
			Comment:  name,
			Hemi:     models.Hemisphere(hemi),
			Subject:  run.Subject,
			Vertices: decodeInts(vertices),
			Pos:      decodeVecs(pos),
			Values:   decodeFloats(vals),
		})
	}
	return labels, rows.Err()
}

// LatestSourceSpaces loads the source spaces of the subject's latest run.
func (s *Store) LatestSourceSpaces(ctx context.Context, subject string) ([]models.SourceSpace, error) {
	run, err := s.LatestRun(ctx, subject)
	if err != nil {
		return nil, err
	}
	return s.SourceSpaces(ctx, run)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		run     Run
		created string
	)
	if err := row.Scan(&run.ID, &run.Subject, &created); err != nil {
		return Run{}, err
	}
	t, err := time.Parse(timeFormat, created)
	if err != nil {
		return Run{}, fmt.Errorf("parse created_at: %w", err)
	}
	run.CreatedAt = t
	return run, nil
}

// Blob encodings are little-endian: float64 for coordinates and values,
// int32 for indices, one byte per in-use flag.

func encodeVecs(vs []r3.Vec) []byte {
	buf := make([]byte, 24*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint64(buf[24*i:], math.Float64bits(v.X))
		binary.LittleEndian.PutUint64(buf[24*i+8:], math.Float64bits(v.Y))
		binary.LittleEndian.PutUint64(buf[24*i+16:], math.Float64bits(v.Z))
	}
	return buf
}

func decodeVecs(b []byte) []r3.Vec {
	vs := make([]r3.Vec, len(b)/24)
	for i := range vs {
		vs[i] = r3.Vec{
			X: math.Float64frombits(binary.LittleEndian.Uint64(b[24*i:])),
			Y: math.Float64frombits(binary.LittleEndian.Uint64(b[24*i+8:])),
			Z: math.Float64frombits(binary.LittleEndian.Uint64(b[24*i+16:])),
		}
	}
	return vs
}

func encodeFloats(fs []float64) []byte {
	buf := make([]byte, 8*len(fs))
	for i, f := range fs {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(f))
	}
	return buf
}

func decodeFloats(b []byte) []float64 {
	fs := make([]float64, len(b)/8)
	for i := range fs {
		fs[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[8*i:]))
	}
	return fs
}

func encodeInts(is []int) []byte {
	buf := make([]byte, 4*len(is))
	for i, v := range is {
		binary.LittleEndian.PutUint32(buf[4*i:], uint32(int32(v)))
	}
	return buf
}

func decodeInts(b []byte) []int {
	is := make([]int, len(b)/4)
	for i := range is {
		is[i] = int(int32(binary.LittleEndian.Uint32(b[4*i:])))
	}
	return is
}

func encodeTris(ts [][3]int) []byte {
	flat := make([]int, 0, 3*len(ts))
	for _, t := range ts {
		flat = append(flat, t[0], t[1], t[2])
	}
	return encodeInts(flat)
}

func decodeTris(b []byte) [][3]int {
	flat := decodeInts(b)
	ts := make([][3]int, len(flat)/3)
	for i := range ts {
		ts[i] = [3]int{flat[3*i], flat[3*i+1], flat[3*i+2]}
	}
	return ts
}

func encodeBools(bs []bool) []byte {
	buf := make([]byte, len(bs))
	for i, b := range bs {
		if b {
			buf[i] = 1
		}
	}
	return buf
}

func decodeBools(b []byte) []bool {
	bs := make([]bool, len(b))
	for i, v := range b {
		bs[i] = v != 0
	}
	return bs
}
