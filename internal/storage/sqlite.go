// Package storage persists indexed chunks and their vectors in SQLite.
package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	_ "modernc.org/sqlite"
)

// Meta keys recorded for an index.
const (
	MetaModel      = "model"
	MetaDimensions = "dimensions"
)

// ErrCorruptVector indicates a stored vector blob of invalid length.
var ErrCorruptVector = errors.New("corrupt vector blob")

// DB wraps a SQLite database connection.
type DB struct {
	db *sql.DB
}

// ChunkRecord is one stored chunk. ID is assigned on insert and increases
// monotonically, so it doubles as insertion order.
type ChunkRecord struct {
	ID       int64
	FileName string
	FilePath string
	Text     string
	Metadata map[string]string
	Vector   []float32
}

// FileStat summarises the chunks stored for one file.
type FileStat struct {
	FileName string
	FilePath string
	Chunks   int
}

// OpenDB opens or creates a SQLite database at the given path.
func OpenDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite doesn't support concurrent writes
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA synchronous=FULL; PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting pragmas: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &DB{db: db}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

func createSchema(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS chunks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			file_name TEXT NOT NULL,
			file_path TEXT NOT NULL,
			text TEXT NOT NULL,
			metadata_json TEXT NOT NULL,
			vector BLOB NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_chunks_file_path ON chunks(file_path);

		CREATE TABLE IF NOT EXISTS index_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`
	_, err := db.Exec(schema)
	return err
}

// Append inserts records and upserts meta in one transaction. On success
// the assigned IDs are written back into records.
func (d *DB) Append(ctx context.Context, meta map[string]string, records []ChunkRecord) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for k, v := range meta {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO index_meta (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, k, v); err != nil {
			return fmt.Errorf("writing meta %s: %w", k, err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (file_name, file_path, text, metadata_json, vector)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing chunk insert: %w", err)
	}
	defer stmt.Close()

	ids := make([]int64, len(records))
	for i, r := range records {
		mdJSON, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("marshaling metadata for chunk %d of %s: %w", i, r.FileName, err)
		}
		res, err := stmt.ExecContext(ctx, r.FileName, r.FilePath, r.Text, string(mdJSON), EncodeVector(r.Vector))
		if err != nil {
			return fmt.Errorf("inserting chunk %d of %s: %w", i, r.FileName, err)
		}
		if ids[i], err = res.LastInsertId(); err != nil {
			return fmt.Errorf("reading chunk id: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing chunks: %w", err)
	}
	for i := range records {
		records[i].ID = ids[i]
	}
	return nil
}

// AllChunks returns every stored chunk in insertion order.
func (d *DB) AllChunks(ctx context.Context) ([]ChunkRecord, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, file_name, file_path, text, metadata_json, vector FROM chunks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	var out []ChunkRecord
	for rows.Next() {
		var (
			r      ChunkRecord
			mdJSON string
			blob   []byte
		)
		if err := rows.Scan(&r.ID, &r.FileName, &r.FilePath, &r.Text, &mdJSON, &blob); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		if err := json.Unmarshal([]byte(mdJSON), &r.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata of chunk %d: %w", r.ID, err)
		}
		if r.Vector, err = DecodeVector(blob); err != nil {
			return nil, fmt.Errorf("chunk %d: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Count returns the number of stored chunks.
func (d *DB) Count(ctx context.Context) (int, error) {
	var n int
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting chunks: %w", err)
	}
	return n, nil
}

// Meta returns the value stored under key, or "" and false.
func (d *DB) Meta(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := d.db.QueryRowContext(ctx, `SELECT value FROM index_meta WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading meta %s: %w", key, err)
	}
	return v, true, nil
}

// Files lists each stored file with its chunk count, in first-ingest order.
func (d *DB) Files(ctx context.Context) ([]FileStat, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT file_name, file_path, COUNT(*) FROM chunks
		GROUP BY file_path ORDER BY MIN(id)
	`)
	if err != nil {
		return nil, fmt.Errorf("querying files: %w", err)
	}
	defer rows.Close()

	var out []FileStat
	for rows.Next() {
		var f FileStat
		if err := rows.Scan(&f.FileName, &f.FilePath, &f.Chunks); err != nil {
			return nil, fmt.Errorf("scanning file: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// EncodeVector packs v as little-endian float32.
func EncodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector unpacks a blob written by EncodeVector.
func DecodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrCorruptVector, len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}
