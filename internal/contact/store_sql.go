package contact

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

const contactColumns = `id, first_name, last_name, owner_id, company, active, marketing_opt_in, tags`

type sqlStore struct {
	db *sqlx.DB
}

// NewSQLStore creates a Store backed by the contacts table.
func NewSQLStore(db *sqlx.DB) Store {
	return &sqlStore{db: db}
}

func (s *sqlStore) FindOne(ctx context.Context, id string) (Contact, error) {
	var c Contact
	err := s.db.GetContext(ctx, &c, `SELECT `+contactColumns+` FROM contacts WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Contact{}, ErrNotFound
	}
	return c, err
}

func (s *sqlStore) Find(ctx context.Context) ([]Contact, error) {
	contacts := []Contact{}
	err := s.db.SelectContext(ctx, &contacts, `SELECT `+contactColumns+` FROM contacts ORDER BY id`)
	return contacts, err
}

func (s *sqlStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Seed inserts contacts, leaving existing ids untouched.
func Seed(ctx context.Context, db *sqlx.DB, contacts []Contact) (int64, error) {
	var inserted int64
	for _, c := range contacts {
		if c.Tags == nil {
			c.Tags = []string{}
		}
		res, err := db.NamedExecContext(ctx, `INSERT INTO contacts (`+contactColumns+`)
			VALUES (:id, :first_name, :last_name, :owner_id, :company, :active, :marketing_opt_in, :tags)
			ON CONFLICT (id) DO NOTHING`, c)
		if err != nil {
			return inserted, fmt.Errorf("seed contact %s: %w", c.ID, err)
		}
		n, _ := res.RowsAffected()
		inserted += n
	}
	return inserted, nil
}
