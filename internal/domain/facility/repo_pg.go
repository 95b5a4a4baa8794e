package facility

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

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

const facilityCols = `id, name, credential_scheme, credential_hash, last_login, disabled, created_at, updated_at`

func (r *storePG) scanRow(row pgx.Row) (*Facility, error) {
	var f Facility
	var scheme *string
	err := row.Scan(&f.ID, &f.Name, &scheme, &f.credential.Hash, &f.LastLogin, &f.Disabled, &f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if scheme != nil {
		f.credential.Scheme = Scheme(*scheme)
	}
	return &f, nil
}

func (r *storePG) Create(ctx context.Context, d Draft) (*Facility, error) {
	var scheme *string
	if d.credential.IsSet() {
		s := string(d.credential.Scheme)
		scheme = &s
	}
	f, err := r.scanRow(r.conn(ctx).QueryRow(ctx, `
		INSERT INTO facility (name, credential_scheme, credential_hash)
		VALUES ($1, $2, $3)
		RETURNING `+facilityCols,
		d.Name, scheme, d.credential.Hash))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrNameTaken
		}
		return nil, fmt.Errorf("insert facility: %w", err)
	}
	return f, nil
}

func (r *storePG) GetByID(ctx context.Context, id int) (*Facility, error) {
	return r.scanRow(r.conn(ctx).QueryRow(ctx, `SELECT `+facilityCols+` FROM facility WHERE id = $1`, id))
}

func (r *storePG) GetByName(ctx context.Context, name string) (*Facility, error) {
	return r.scanRow(r.conn(ctx).QueryRow(ctx, `SELECT `+facilityCols+` FROM facility WHERE name = $1`, name))
}

func (r *storePG) List(ctx context.Context) ([]*Facility, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+facilityCols+` FROM facility ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Facility
	for rows.Next() {
		f, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, f)
	}
	return items, rows.Err()
}

func (r *storePG) Update(ctx context.Context, f *Facility, fields ...Field) error {
	if len(fields) == 0 {
		return nil
	}

	sets := make([]string, 0, len(fields)+1)
	args := []interface{}{f.ID}
	add := func(col string, v interface{}) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	for _, field := range fields {
		switch field {
		case FieldName:
			add("name", f.Name)
		case FieldCredential:
			add("credential_scheme", string(f.credential.Scheme))
			add("credential_hash", f.credential.Hash)
		case FieldDisabled:
			add("disabled", f.Disabled)
		case FieldLastLogin:
			add("last_login", f.LastLogin)
		default:
			return fmt.Errorf("unknown facility field %q", field)
		}
	}
	sets = append(sets, "updated_at = NOW()")

	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE facility SET `+strings.Join(sets, ", ")+` WHERE id = $1`, args...)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrNameTaken
		}
		return fmt.Errorf("update facility %d: %w", f.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
