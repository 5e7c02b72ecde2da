// Package store is the optional durable write-through backend for
// pipeline.Cache: it persists every cache state transition to a
// modernc.org/sqlite database, schema-managed by golang-migrate, and
// can rebuild pipeline.EntrySnapshot rows back from it to bootstrap a
// Cache on process start.
//
// The in-memory Cache remains authoritative; Store never drives
// evaluation on its own.
package store

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/liveflow/pipeline"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Open opens (creating if absent) a sqlite database at path and
// applies every pending migration under migrations/.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func migrateUp(db *sql.DB) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("store: migration source: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("store: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("store: migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("store: migrate up: %w", err)
	}
	return nil
}

// Store is a durable write-through backend for one Operation's cache
// entries, identified by opID (pipeline.Operation.ID).
type Store[K comparable, V any, O any] struct {
	db   *sql.DB
	opID string
}

// New builds a Store writing to the cache_entries table of db under
// opID.
func New[K comparable, V any, O any](db *sql.DB, opID string) *Store[K, V, O] {
	return &Store[K, V, O]{db: db, opID: opID}
}

type row[K any, V any, O any] struct {
	Key   K `json:"key"`
	Value V `json:"value"`
}

// WriteThrough returns a pipeline.WriteThrough hook that upserts every
// cache state transition as one row keyed by (op_id, key_digest).
func (s *Store[K, V, O]) WriteThrough() pipeline.WriteThrough[K, V, O] {
	return func(entry pipeline.EntrySnapshot[K, V, O]) {
		if err := s.persist(entry); err != nil {
			// WriteThrough has no error return in the Cache contract —
			// the in-memory cache stays authoritative regardless — so
			// a persistence failure is attributed to its job and
			// logged rather than silently dropped.
			wrapped := pipeline.WrapError(string(entry.JobID), err, "cache write-through")
			log.Warn().Str("op", s.opID).Str("key_digest", entry.KeyDigest).Err(wrapped).Msg("store: write-through failed")
		}
	}
}

func (s *Store[K, V, O]) persist(entry pipeline.EntrySnapshot[K, V, O]) error {
	keyJSON, err := json.Marshal(entry.Key)
	if err != nil {
		return fmt.Errorf("store: marshal key: %w", err)
	}
	valueJSON, err := json.Marshal(entry.Value)
	if err != nil {
		return fmt.Errorf("store: marshal value: %w", err)
	}
	outcomeValueJSON, err := json.Marshal(entry.Outcome.Value)
	if err != nil {
		return fmt.Errorf("store: marshal outcome: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO cache_entries (
			op_id, key_digest, key_json, build, value_digest, value_json,
			outcome_ok, outcome_value_json, outcome_err, job_id,
			running_at, finished_at, rebuild_requested, valid_for_seconds
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (op_id, key_digest) DO UPDATE SET
			build = excluded.build,
			value_digest = excluded.value_digest,
			value_json = excluded.value_json,
			outcome_ok = excluded.outcome_ok,
			outcome_value_json = excluded.outcome_value_json,
			outcome_err = excluded.outcome_err,
			job_id = excluded.job_id,
			running_at = excluded.running_at,
			finished_at = excluded.finished_at,
			rebuild_requested = excluded.rebuild_requested,
			valid_for_seconds = excluded.valid_for_seconds
	`,
		s.opID, entry.KeyDigest, string(keyJSON), entry.Build, entry.ValueDigest, string(valueJSON),
		boolToInt(entry.Outcome.IsOk()), string(outcomeValueJSON), string(entry.Outcome.Err), string(entry.JobID),
		entry.RunningAt.Format(time.RFC3339Nano), entry.FinishedAt.Format(time.RFC3339Nano),
		boolToInt(entry.RebuildRequested), int(entry.ValidFor/time.Second),
	)
	if err != nil {
		return fmt.Errorf("store: upsert cache entry: %w", err)
	}
	return nil
}

// LoadRows reads every persisted row for this store's operation back
// into pipeline.EntrySnapshot values, suitable for Cache.Bootstrap.
func (s *Store[K, V, O]) LoadRows() ([]pipeline.EntrySnapshot[K, V, O], error) {
	rows, err := s.db.Query(`
		SELECT key_json, build, value_json, outcome_ok, outcome_value_json,
		       outcome_err, job_id, finished_at, valid_for_seconds
		FROM cache_entries WHERE op_id = ?`, s.opID)
	if err != nil {
		return nil, fmt.Errorf("store: query cache entries: %w", err)
	}
	defer rows.Close()

	var out []pipeline.EntrySnapshot[K, V, O]
	for rows.Next() {
		var (
			keyJSON, valueJSON, outcomeValueJSON string
			outcomeOk                            int
			outcomeErr, jobID, finishedAt        string
			build, validForSeconds               int
		)
		if err := rows.Scan(&keyJSON, &build, &valueJSON, &outcomeOk, &outcomeValueJSON,
			&outcomeErr, &jobID, &finishedAt, &validForSeconds); err != nil {
			return nil, fmt.Errorf("store: scan cache entry: %w", err)
		}

		var key K
		if err := json.Unmarshal([]byte(keyJSON), &key); err != nil {
			return nil, fmt.Errorf("store: unmarshal key: %w", err)
		}
		var value V
		if err := json.Unmarshal([]byte(valueJSON), &value); err != nil {
			return nil, fmt.Errorf("store: unmarshal value: %w", err)
		}
		var outcomeValue O
		if outcomeValueJSON != "" {
			if err := json.Unmarshal([]byte(outcomeValueJSON), &outcomeValue); err != nil {
				return nil, fmt.Errorf("store: unmarshal outcome value: %w", err)
			}
		}
		finished, err := time.Parse(time.RFC3339Nano, finishedAt)
		if err != nil {
			return nil, fmt.Errorf("store: parse finished_at: %w", err)
		}

		out = append(out, pipeline.EntrySnapshot[K, V, O]{
			Key:        key,
			Value:      value,
			Build:      build,
			Outcome:    pipeline.Outcome[O]{Value: outcomeValue, Err: pipeline.Msg(outcomeErr)},
			JobID:      pipeline.JobID(jobID),
			FinishedAt: finished,
			ValidFor:   time.Duration(validForSeconds) * time.Second,
		})
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
