package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // register pure-Go SQLite driver

	"mnist-forge/internal/model"
)

// ErrNotFound is returned when no checkpoint matches a lookup.
var ErrNotFound = errors.New("store: checkpoint not found")

const checkpointsSchema = `
CREATE TABLE IF NOT EXISTS checkpoints (
    epoch      INTEGER PRIMARY KEY,
    classes    INTEGER NOT NULL,
    features   INTEGER NOT NULL,
    weights    BLOB NOT NULL,
    bias       BLOB NOT NULL,
    loss       REAL NOT NULL DEFAULT 0,
    accuracy   REAL NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// Open opens a SQLite database using the modernc.org/sqlite driver. Pass
// ":memory:" for a private in-memory database.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dsn, err)
	}
	// Every pooled connection to ":memory:" would see its own database.
	db.SetMaxOpenConns(1)
	return db, nil
}

// Entry is a stored checkpoint together with the metrics of its epoch.
type Entry struct {
	Checkpoint model.Checkpoint
	Loss       float64
	Accuracy   float64
}

// CheckpointStore keeps one checkpoint per epoch in SQLite.
type CheckpointStore struct {
	db *sql.DB
}

// NewCheckpointStore ensures the schema exists in db.
func NewCheckpointStore(db *sql.DB) (*CheckpointStore, error) {
	if db == nil {
		return nil, fmt.Errorf("store: db is nil")
	}
	if _, err := db.Exec(checkpointsSchema); err != nil {
		return nil, fmt.Errorf("store: ensure schema: %w", err)
	}
	return &CheckpointStore{db: db}, nil
}

// Save upserts the checkpoint for its epoch.
func (s *CheckpointStore) Save(ctx context.Context, ckpt model.Checkpoint, loss, accuracy float64) error {
	if err := ckpt.Validate(); err != nil {
		return err
	}
	features := len(ckpt.Weights[0])
	flat := make([]float32, 0, len(ckpt.Weights)*features)
	for _, row := range ckpt.Weights {
		flat = append(flat, row...)
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO checkpoints(epoch, classes, features, weights, bias, loss, accuracy)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(epoch) DO UPDATE SET
    classes = excluded.classes,
    features = excluded.features,
    weights = excluded.weights,
    bias = excluded.bias,
    loss = excluded.loss,
    accuracy = excluded.accuracy`,
		ckpt.Epoch, len(ckpt.Weights), features, encodeFloats(flat), encodeFloats(ckpt.Bias), loss, accuracy)
	if err != nil {
		return fmt.Errorf("store: save epoch %d: %w", ckpt.Epoch, err)
	}
	return nil
}

const selectEntry = `SELECT epoch, classes, features, weights, bias, loss, accuracy FROM checkpoints`

func scanEntry(row *sql.Row) (Entry, error) {
	var (
		e                 Entry
		classes, features int
		weights, bias     []byte
	)
	err := row.Scan(&e.Checkpoint.Epoch, &classes, &features, &weights, &bias, &e.Loss, &e.Accuracy)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, err
	}
	flat, err := decodeFloats(weights)
	if err != nil {
		return Entry{}, err
	}
	if len(flat) != classes*features {
		return Entry{}, fmt.Errorf("%w: epoch %d stores %d weights, want %dx%d",
			model.ErrMalformedCheckpoint, e.Checkpoint.Epoch, len(flat), classes, features)
	}
	e.Checkpoint.Weights = make([][]float32, classes)
	for c := range e.Checkpoint.Weights {
		e.Checkpoint.Weights[c] = flat[c*features : (c+1)*features : (c+1)*features]
	}
	if e.Checkpoint.Bias, err = decodeFloats(bias); err != nil {
		return Entry{}, err
	}
	return e, e.Checkpoint.Validate()
}

// Load returns the checkpoint stored for epoch.
func (s *CheckpointStore) Load(ctx context.Context, epoch int) (Entry, error) {
	return scanEntry(s.db.QueryRowContext(ctx, selectEntry+` WHERE epoch = ?`, epoch))
}

// Latest returns the checkpoint with the highest epoch.
func (s *CheckpointStore) Latest(ctx context.Context) (Entry, error) {
	return scanEntry(s.db.QueryRowContext(ctx, selectEntry+` ORDER BY epoch DESC LIMIT 1`))
}

// Best returns the checkpoint with the lowest recorded loss.
func (s *CheckpointStore) Best(ctx context.Context) (Entry, error) {
	return scanEntry(s.db.QueryRowContext(ctx, selectEntry+` ORDER BY loss ASC, epoch ASC LIMIT 1`))
}

// Epochs lists stored epochs in ascending order.
func (s *CheckpointStore) Epochs(ctx context.Context) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT epoch FROM checkpoints ORDER BY epoch`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var epoch int
		if err := rows.Scan(&epoch); err != nil {
			return nil, err
		}
		out = append(out, epoch)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
