// Package store persists bytecode modules and their run history in SQLite.
// Modules are content-addressed: the key is the SHA-256 of the module's
// binary encoding, so identical modules dedupe and a stored hash can be
// verified on the way back out.
package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/kumovm/kumo/modfile"
	"github.com/kumovm/kumo/vm"
)

// ErrNotFound indicates the requested module or run doesn't exist.
var ErrNotFound = errors.New("not found")

// Store is a SQLite-backed module cache and run log.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) a store at the given database path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS modules (
			hash       TEXT PRIMARY KEY,
			data       BLOB NOT NULL,
			functions  INTEGER NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			id          TEXT PRIMARY KEY,
			module_hash TEXT NOT NULL,
			result      TEXT,
			fault       TEXT,
			created_at  TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS runs_module ON runs(module_hash)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating schema: %w", err)
		}
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// Modules
// ---------------------------------------------------------------------------

// ModuleInfo describes one stored module.
type ModuleInfo struct {
	Hash      string
	Functions int
	CreatedAt time.Time
}

// Hash returns the content hash of a module: the SHA-256 of its binary
// encoding, hex-encoded.
func Hash(m *vm.Module) string {
	sum := sha256.Sum256(modfile.EncodeBinary(m))
	return hex.EncodeToString(sum[:])
}

// PutModule stores a module keyed by its content hash and returns the hash.
// Storing the same module twice is a no-op.
func (s *Store) PutModule(m *vm.Module) (string, error) {
	data := modfile.EncodeBinary(m)
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO modules (hash, data, functions, created_at) VALUES (?, ?, ?, ?)`,
		hash, data, m.NumFunctions(), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("storing module: %w", err)
	}
	return hash, nil
}

// GetModule loads and decodes the module with the given content hash.
func (s *Store) GetModule(hash string) (*vm.Module, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT data FROM modules WHERE hash = ?`, hash).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: module %s", ErrNotFound, hash)
	}
	if err != nil {
		return nil, fmt.Errorf("loading module %s: %w", hash, err)
	}

	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != hash {
		return nil, fmt.Errorf("module %s: stored data fails hash verification", hash)
	}
	return modfile.DecodeBinary(data)
}

// HasModule reports whether a module with the given hash is stored.
func (s *Store) HasModule(hash string) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM modules WHERE hash = ?`, hash).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListModules returns all stored modules, newest first.
func (s *Store) ListModules() ([]ModuleInfo, error) {
	rows, err := s.db.Query(`SELECT hash, functions, created_at FROM modules ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing modules: %w", err)
	}
	defer rows.Close()

	var out []ModuleInfo
	for rows.Next() {
		var info ModuleInfo
		var created string
		if err := rows.Scan(&info.Hash, &info.Functions, &created); err != nil {
			return nil, err
		}
		info.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, info)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Run history
// ---------------------------------------------------------------------------

// RunInfo describes one recorded execution.
type RunInfo struct {
	ID         string
	ModuleHash string
	Result     string // rendered final value, empty on fault
	Fault      string // fault description, empty on success
	CreatedAt  time.Time
}

// RecordRun stores one execution outcome for a module and returns the run ID.
func (s *Store) RecordRun(moduleHash string, result vm.Value, runErr error) (string, error) {
	id := uuid.NewString()

	var resultText, faultText sql.NullString
	if runErr != nil {
		faultText = sql.NullString{String: runErr.Error(), Valid: true}
	} else {
		resultText = sql.NullString{String: result.String(), Valid: true}
	}

	_, err := s.db.Exec(
		`INSERT INTO runs (id, module_hash, result, fault, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, moduleHash, resultText, faultText, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("recording run: %w", err)
	}
	return id, nil
}

// Runs returns the recorded executions of a module, newest first.
func (s *Store) Runs(moduleHash string) ([]RunInfo, error) {
	rows, err := s.db.Query(
		`SELECT id, module_hash, result, fault, created_at FROM runs WHERE module_hash = ? ORDER BY created_at DESC`,
		moduleHash,
	)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []RunInfo
	for rows.Next() {
		var info RunInfo
		var result, fault sql.NullString
		var created string
		if err := rows.Scan(&info.ID, &info.ModuleHash, &result, &fault, &created); err != nil {
			return nil, err
		}
		info.Result = result.String
		info.Fault = fault.String
		info.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, info)
	}
	return out, rows.Err()
}
