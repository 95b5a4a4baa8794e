package eventlog

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/integrator/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// PGPublisher persists events to the event_log table.
type PGPublisher struct{ pool *pgxpool.Pool }

func NewPGPublisher(pool *pgxpool.Pool) *PGPublisher {
	return &PGPublisher{pool: pool}
}

func (p *PGPublisher) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return p.pool
}

func (p *PGPublisher) Publish(ctx context.Context, evt Event) error {
	_, err := p.conn(ctx).Exec(ctx, `
		INSERT INTO event_log (id, date, source, action, parameters)
		VALUES ($1, $2, $3, $4, $5)`,
		evt.ID, evt.Date, evt.Source, evt.Action, evt.Parameters)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// Since returns events dated at or after t, oldest first.
func (p *PGPublisher) Since(ctx context.Context, t time.Time, limit int) ([]Event, error) {
	rows, err := p.conn(ctx).Query(ctx, `
		SELECT id, date, COALESCE(source, ''), action, COALESCE(parameters, '')
		FROM event_log WHERE date >= $1 ORDER BY date LIMIT $2`, t, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Date, &e.Source, &e.Action, &e.Parameters); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
