package tokens

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/relabs-tech/restful/core/csql"
)

// PostgresRepository keeps tokens in the "_token_" table of the database schema
type PostgresRepository struct {
	db *csql.DB
}

// NewPostgresRepository creates the token table if it does not exist yet
func NewPostgresRepository(db *csql.DB) (*PostgresRepository, error) {
	_, err := db.Exec(`CREATE table IF NOT EXISTS ` + db.Table("_token_") + `
(value varchar NOT NULL,
principal_id bigint NOT NULL,
expires timestamptz NOT NULL,
PRIMARY KEY(value)
);
CREATE INDEX IF NOT EXISTS token_expires ON ` + db.Table("_token_") + `(expires);`)
	if err != nil {
		return nil, err
	}
	return &PostgresRepository{db: db}, nil
}

// Insert implements Repository
func (r *PostgresRepository) Insert(ctx context.Context, t Token) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO `+r.db.Table("_token_")+` (value,principal_id,expires) VALUES($1,$2,$3);`,
		t.Value, t.PrincipalID, t.Expires)
	return err
}

// Lookup implements Repository
func (r *PostgresRepository) Lookup(ctx context.Context, value string) (*Token, error) {
	t := Token{}
	err := r.db.QueryRowContext(ctx, `SELECT value,principal_id,expires FROM `+r.db.Table("_token_")+` WHERE value=$1;`, value).
		Scan(&t.Value, &t.PrincipalID, &t.Expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// DeleteExpired implements Repository
func (r *PostgresRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM `+r.db.Table("_token_")+` WHERE expires < $1;`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
