package repository

import (
	"context"
	"fmt"

	"vipcommerce/imagefetch/internal/domain"

	"github.com/jackc/pgx/v5/pgxpool"
)

// CatalogRepository persists what other systems consume after a run: the
// storefront-ID to ERP-code map and the per-run download tallies.
type CatalogRepository interface {
	SaveProductMapping(ctx context.Context, productID, externalCode string) error
	SaveRunSummary(ctx context.Context, summary domain.RunSummary) error
}

type catalogRepository struct {
	db *pgxpool.Pool
}

func NewCatalogRepository(db *pgxpool.Pool) CatalogRepository {
	return &catalogRepository{
		db: db,
	}
}

func (r *catalogRepository) SaveProductMapping(ctx context.Context, productID, externalCode string) error {
	query := `
	INSERT INTO product_map (product_id, external_code)
	VALUES ($1, $2)
	ON CONFLICT (product_id)
	DO UPDATE SET external_code = $2`
	_, err := r.db.Exec(ctx, query, productID, externalCode)
	if err != nil {
		return fmt.Errorf("failed to save product mapping: %w", err)
	}

	return nil
}

func (r *catalogRepository) SaveRunSummary(ctx context.Context, summary domain.RunSummary) error {
	query := `
	INSERT INTO image_runs (total, succeeded, failed, skipped, finished_at)
	VALUES ($1, $2, $3, $4, now())`
	_, err := r.db.Exec(ctx, query, summary.Total, summary.Succeeded, summary.Failed, summary.Skipped)
	if err != nil {
		return fmt.Errorf("failed to save run summary: %w", err)
	}

	return nil
}
