package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/openartifacts/registry/common/db"
	"github.com/openartifacts/registry/common/logger"
)

// QuotaRepository stores per-project quota overrides.
type QuotaRepository struct {
	db  *db.DB
	log *logger.Logger
}

// NewQuotaRepository creates a new quota repository
func NewQuotaRepository(database *db.DB, log *logger.Logger) *QuotaRepository {
	return &QuotaRepository{db: database, log: log}
}

// SetQuotas replaces the quota set of every listed project: existing
// rows for a project are dropped before its new values are written, so
// omitting a name resets it to the configured default.
func (r *QuotaRepository) SetQuotas(ctx context.Context, values map[string]map[string]int64) error {
	return r.db.WithTxRetry(ctx, func(tx pgx.Tx) error {
		for projectID, quotas := range values {
			if _, err := tx.Exec(ctx,
				`DELETE FROM artifact_quotas WHERE project_id = $1`,
				projectID); err != nil {
				return fmt.Errorf("reset quotas for %s: %w", projectID, err)
			}

			for name, value := range quotas {
				if _, err := tx.Exec(ctx, `
					INSERT INTO artifact_quotas (project_id, quota_name, quota_value)
					VALUES ($1, $2, $3)`,
					projectID, name, value); err != nil {
					return fmt.Errorf("set quota %s for %s: %w", name, projectID, err)
				}
			}
		}
		return nil
	})
}

// GetAllQuotas lists quota overrides grouped by project. A non-empty
// projectID narrows the listing to one project.
func (r *QuotaRepository) GetAllQuotas(ctx context.Context, projectID string) (map[string]map[string]int64, error) {
	query := `SELECT project_id, quota_name, quota_value FROM artifact_quotas`
	var args []any
	if projectID != "" {
		query += " WHERE project_id = $1"
		args = append(args, projectID)
	}
	query += " ORDER BY project_id, quota_name"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list quotas: %w", err)
	}
	defer rows.Close()

	res := map[string]map[string]int64{}
	for rows.Next() {
		var project, name string
		var value int64
		if err := rows.Scan(&project, &name, &value); err != nil {
			return nil, fmt.Errorf("scan quota: %w", err)
		}
		if res[project] == nil {
			res[project] = map[string]int64{}
		}
		res[project][name] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list quotas: %w", err)
	}
	return res, nil
}
