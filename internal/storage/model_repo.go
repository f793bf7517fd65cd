package storage

import (
	"context"
	"fmt"
	"log/slog"
)

// ModelRepo is the embedding-model registry. Models are created lazily on
// first use; the dimension is learned from the first successful embedding call
// and only warned about on later mismatch.
type ModelRepo struct {
	db     *DB
	logger *slog.Logger
}

func NewModelRepo(db *DB, logger *slog.Logger) *ModelRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &ModelRepo{db: db, logger: logger.With("component", "model-registry")}
}

// GetOrCreate returns the model id for name, inserting a row with an unknown
// dimension when the model is new.
func (r *ModelRepo) GetOrCreate(ctx context.Context, name string) (int, error) {
	var id int
	err := r.db.Pool.QueryRow(ctx, `
INSERT INTO embedding_models (name)
VALUES ($1)
ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
RETURNING model_id`, name).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("get or create model %q: %w", name, err)
	}
	return id, nil
}

// ObserveDimension records the dimension seen for a model. The first
// observation is persisted; a differing later observation is logged and the
// stored value kept.
func (r *ModelRepo) ObserveDimension(ctx context.Context, modelID, dimension int) error {
	if dimension <= 0 {
		return nil
	}
	var stored *int
	err := r.db.Pool.QueryRow(ctx, `SELECT dimension FROM embedding_models WHERE model_id=$1`, modelID).Scan(&stored)
	if err != nil {
		return fmt.Errorf("read model dimension %d: %w", modelID, err)
	}
	if stored == nil {
		_, err := r.db.Pool.Exec(ctx, `UPDATE embedding_models SET dimension=$2 WHERE model_id=$1 AND dimension IS NULL`, modelID, dimension)
		if err != nil {
			return fmt.Errorf("set model dimension %d: %w", modelID, err)
		}
		return nil
	}
	if *stored != dimension {
		r.logger.Warn("model dimension mismatch", "model_id", modelID, "stored", *stored, "observed", dimension)
	}
	return nil
}

func (r *ModelRepo) Dimension(ctx context.Context, modelID int) (int, error) {
	var stored *int
	err := r.db.Pool.QueryRow(ctx, `SELECT dimension FROM embedding_models WHERE model_id=$1`, modelID).Scan(&stored)
	if err != nil {
		return 0, fmt.Errorf("read model dimension %d: %w", modelID, err)
	}
	if stored == nil {
		return 0, nil
	}
	return *stored, nil
}
