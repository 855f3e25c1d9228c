package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/maltedev/trustpilot-scraper/internal/models"
)

// CompanyRepository persists extracted company profiles.
type CompanyRepository struct {
	db *DB
}

// NewCompanyRepository creates a new company repository.
func NewCompanyRepository(db *DB) *CompanyRepository {
	return &CompanyRepository{db: db}
}

// UpsertWithTx writes rec keyed by its profile URL. inserted is false when
// an existing row was updated.
func (r *CompanyRepository) UpsertWithTx(ctx context.Context, tx pgx.Tx, rec *models.CompanyRecord) (id int64, inserted bool, err error) {
	query := `
		INSERT INTO companies (
			trustpilot_url, company_name, category, subcategory,
			avg_review_score, review_count, address, website,
			email, phone, country, scraped_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
		ON CONFLICT (trustpilot_url) DO UPDATE SET
			company_name = EXCLUDED.company_name,
			category = EXCLUDED.category,
			subcategory = EXCLUDED.subcategory,
			avg_review_score = EXCLUDED.avg_review_score,
			review_count = EXCLUDED.review_count,
			address = EXCLUDED.address,
			website = EXCLUDED.website,
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			country = EXCLUDED.country,
			scraped_at = EXCLUDED.scraped_at,
			updated_at = NOW()
		RETURNING id, (xmax = 0) AS inserted`

	err = tx.QueryRow(ctx, query,
		rec.TrustpilotURL, rec.CompanyName, rec.Category, rec.Subcategory,
		rec.AvgReviewScore, rec.ReviewCount, rec.Address, rec.Website,
		rec.Email, rec.Phone, rec.Country, rec.ScrapedAt,
	).Scan(&id, &inserted)
	if err != nil {
		return 0, false, fmt.Errorf("failed to upsert company: %w", err)
	}

	return id, inserted, nil
}

// GetByURL loads one company by profile URL.
func (r *CompanyRepository) GetByURL(ctx context.Context, trustpilotURL string) (*models.CompanyRecord, error) {
	query := `
		SELECT trustpilot_url, company_name, category, subcategory,
			avg_review_score, review_count, address, website,
			email, phone, country, scraped_at
		FROM companies
		WHERE trustpilot_url = $1`

	rec := &models.CompanyRecord{}
	err := r.db.pool.QueryRow(ctx, query, trustpilotURL).Scan(
		&rec.TrustpilotURL, &rec.CompanyName, &rec.Category, &rec.Subcategory,
		&rec.AvgReviewScore, &rec.ReviewCount, &rec.Address, &rec.Website,
		&rec.Email, &rec.Phone, &rec.Country, &rec.ScrapedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get company: %w", err)
	}
	return rec, nil
}

// CountByCountry returns the number of stored companies per country code.
func (r *CompanyRepository) CountByCountry(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.pool.Query(ctx, `SELECT country, COUNT(*) FROM companies GROUP BY country`)
	if err != nil {
		return nil, fmt.Errorf("failed to count companies: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var country string
		var n int64
		if err := rows.Scan(&country, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[country] = n
	}
	return counts, rows.Err()
}
