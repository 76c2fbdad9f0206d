package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// Store persists checkpoint payloads in a local SQLite database, one row
// per (experiment, generation). It lets a worker resume the latest
// checkpoint after a restart without talking to the controller.
type Store struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

// NewStore creates a store for the given database path. Init must be
// called before use.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Init opens the database and creates the schema.
func (s *Store) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("checkpoint: store path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("checkpoint: opening store: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("checkpoint: pinging store: %w", err)
	}

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS checkpoints (
			experiment_id TEXT NOT NULL,
			generation INTEGER NOT NULL,
			payload BLOB NOT NULL,
			PRIMARY KEY (experiment_id, generation)
		);
	`); err != nil {
		_ = db.Close()
		return fmt.Errorf("checkpoint: creating schema: %w", err)
	}

	s.db = db
	return nil
}

// Save upserts a checkpoint payload for the experiment.
func (s *Store) Save(ctx context.Context, experimentID string, p Payload) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	data, err := p.Encode()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO checkpoints (experiment_id, generation, payload)
		VALUES (?, ?, ?)
		ON CONFLICT(experiment_id, generation) DO UPDATE SET
			payload = excluded.payload
	`, experimentID, p.Generation, data)
	if err != nil {
		return fmt.Errorf("checkpoint: saving generation %d: %w", p.Generation, err)
	}
	return nil
}

// Load returns the checkpoint for a specific generation. The boolean is
// false when no such checkpoint exists.
func (s *Store) Load(ctx context.Context, experimentID string, generation int) (Payload, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return Payload{}, false, err
	}

	var data []byte
	err = db.QueryRowContext(ctx,
		`SELECT payload FROM checkpoints WHERE experiment_id = ? AND generation = ?`,
		experimentID, generation,
	).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Payload{}, false, nil
		}
		return Payload{}, false, fmt.Errorf("checkpoint: loading generation %d: %w", generation, err)
	}

	p, err := Decode(data)
	if err != nil {
		return Payload{}, false, err
	}
	return p, true, nil
}

// Latest returns the highest-generation checkpoint for the experiment.
func (s *Store) Latest(ctx context.Context, experimentID string) (Payload, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return Payload{}, false, err
	}

	var data []byte
	err = db.QueryRowContext(ctx, `
		SELECT payload FROM checkpoints
		WHERE experiment_id = ?
		ORDER BY generation DESC
		LIMIT 1
	`, experimentID).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Payload{}, false, nil
		}
		return Payload{}, false, fmt.Errorf("checkpoint: loading latest: %w", err)
	}

	p, err := Decode(data)
	if err != nil {
		return Payload{}, false, err
	}
	return p, true, nil
}

// Prune deletes checkpoints older than keepLast generations back from
// the newest one.
func (s *Store) Prune(ctx context.Context, experimentID string, keepLast int) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		DELETE FROM checkpoints
		WHERE experiment_id = ?
		AND generation < (
			SELECT MAX(generation) FROM checkpoints WHERE experiment_id = ?
		) - ?
	`, experimentID, experimentID, keepLast)
	if err != nil {
		return fmt.Errorf("checkpoint: pruning: %w", err)
	}
	return nil
}

// Close closes the underlying database.
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
		return nil, errors.New("checkpoint: store is not initialized")
	}
	return s.db, nil
}
