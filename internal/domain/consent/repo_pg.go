package consent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/integrator/internal/domain/cachekey"
	"github.com/ehr/integrator/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type storePG struct{ pool *pgxpool.Pool }

func NewStorePG(pool *pgxpool.Pool) Store {
	return &storePG{pool: pool}
}

func (r *storePG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const consentCols = `facility_id, demographic_id, created_date, status, expiry, exclude_mental_health, share_overrides`

func (r *storePG) scanRow(row pgx.Row) (*Record, error) {
	var rec Record
	var status string
	var overrides []byte
	err := row.Scan(&rec.Key.FacilityID, &rec.Key.ItemID, &rec.CreatedDate, &status,
		&rec.Expiry, &rec.ExcludeMentalHealthData, &overrides)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.Status = Status(status)
	rec.ShareOverrides, err = decodeOverrides(overrides)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Overrides are stored as a JSON object keyed by the destination facility id.
func encodeOverrides(m map[int]bool) ([]byte, error) {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[strconv.Itoa(k)] = v
	}
	return json.Marshal(out)
}

func decodeOverrides(b []byte) (map[int]bool, error) {
	raw := map[string]bool{}
	if len(b) > 0 {
		if err := json.Unmarshal(b, &raw); err != nil {
			return nil, fmt.Errorf("decode share overrides: %w", err)
		}
	}
	out := make(map[int]bool, len(raw))
	for k, v := range raw {
		id, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("decode share overrides: facility id %q: %w", k, err)
		}
		out[id] = v
	}
	return out, nil
}

func (r *storePG) Get(ctx context.Context, key cachekey.IntKey) (*Record, error) {
	return r.scanRow(r.conn(ctx).QueryRow(ctx,
		`SELECT `+consentCols+` FROM demographic_consent WHERE facility_id = $1 AND demographic_id = $2`,
		key.FacilityID, key.ItemID))
}

func (r *storePG) Upsert(ctx context.Context, rec *Record) error {
	overrides, err := encodeOverrides(rec.ShareOverrides)
	if err != nil {
		return err
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO demographic_consent (`+consentCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (facility_id, demographic_id) DO UPDATE SET
			status = EXCLUDED.status,
			expiry = EXCLUDED.expiry,
			exclude_mental_health = EXCLUDED.exclude_mental_health,
			share_overrides = EXCLUDED.share_overrides`,
		rec.Key.FacilityID, rec.Key.ItemID, rec.CreatedDate, string(rec.Status),
		rec.Expiry, rec.ExcludeMentalHealthData, overrides)
	if err != nil {
		return fmt.Errorf("upsert consent %s: %w", rec.Key, err)
	}
	return nil
}

func (r *storePG) ListByFacility(ctx context.Context, facilityID int) ([]*Record, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+consentCols+` FROM demographic_consent WHERE facility_id = $1 ORDER BY demographic_id`,
		facilityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Record
	for rows.Next() {
		rec, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, rec)
	}
	return items, rows.Err()
}
