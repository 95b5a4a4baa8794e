package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

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

// storePG keeps every kind in the cached_record table with the record as a
// JSONB payload.
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

func nullableDemographic(id int) *int {
	if id <= 0 {
		return nil
	}
	return &id
}

func (r *storePG) Load(ctx context.Context, kind Kind, key cachekey.Key) (Record, error) {
	var payload []byte
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT payload FROM cached_record WHERE kind = $1 AND cache_key = $2`,
		string(kind), key.String()).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return Decode(kind, payload)
}

func (r *storePG) save(ctx context.Context, q queryable, rec Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s: %w", rec.Kind(), err)
	}
	_, err = q.Exec(ctx, `
		INSERT INTO cached_record (kind, cache_key, facility_id, demographic_id, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (kind, cache_key) DO UPDATE SET
			facility_id = EXCLUDED.facility_id,
			demographic_id = EXCLUDED.demographic_id,
			payload = EXCLUDED.payload,
			updated_at = NOW()`,
		string(rec.Kind()), rec.CacheKey().String(), rec.CacheKey().SourceFacility(),
		nullableDemographic(rec.PatientID()), payload)
	if err != nil {
		return fmt.Errorf("save %s %s: %w", rec.Kind(), rec.CacheKey(), err)
	}
	return nil
}

func (r *storePG) Save(ctx context.Context, rec Record) error {
	return r.save(ctx, r.conn(ctx), rec)
}

func (r *storePG) Delete(ctx context.Context, kind Kind, key cachekey.Key) error {
	_, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM cached_record WHERE kind = $1 AND cache_key = $2`, string(kind), key.String())
	return err
}

func (r *storePG) query(ctx context.Context, kind Kind, sql string, args ...interface{}) ([]Record, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Record
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		rec, err := Decode(kind, payload)
		if err != nil {
			return nil, err
		}
		items = append(items, rec)
	}
	return items, rows.Err()
}

func (r *storePG) FindByFacilityAndPatient(ctx context.Context, kind Kind, facilityID, demographicID int) ([]Record, error) {
	return r.query(ctx, kind, `
		SELECT payload FROM cached_record
		WHERE kind = $1 AND facility_id = $2 AND demographic_id = $3
		ORDER BY cache_key`,
		string(kind), facilityID, demographicID)
}

func (r *storePG) FindByFacility(ctx context.Context, kind Kind, facilityID int) ([]Record, error) {
	return r.query(ctx, kind, `
		SELECT payload FROM cached_record
		WHERE kind = $1 AND facility_id = $2
		ORDER BY cache_key`,
		string(kind), facilityID)
}

func (r *storePG) ReplacePatient(ctx context.Context, kind Kind, facilityID, demographicID int, recs []Record) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		q := r.conn(ctx)
		if _, err := q.Exec(ctx, `
			DELETE FROM cached_record
			WHERE kind = $1 AND facility_id = $2 AND demographic_id = $3`,
			string(kind), facilityID, demographicID); err != nil {
			return fmt.Errorf("clear %s for patient %d:%d: %w", kind, facilityID, demographicID, err)
		}
		for _, rec := range recs {
			if err := r.save(ctx, q, rec); err != nil {
				return err
			}
		}
		return nil
	})
}
