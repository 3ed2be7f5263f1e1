package access

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/restful/core"
	"github.com/relabs-tech/restful/core/csql"
)

// PostgresAccounts keeps accounts in the "_account_" table of the database schema
type PostgresAccounts struct {
	db *csql.DB
}

// NewPostgresAccounts creates the account table if it does not exist yet
func NewPostgresAccounts(db *csql.DB) (*PostgresAccounts, error) {
	_, err := db.Exec(`CREATE table IF NOT EXISTS ` + db.Table("_account_") + `
(id SERIAL PRIMARY KEY,
login varchar NOT NULL UNIQUE,
password varchar NOT NULL,
roles json NOT NULL DEFAULT '[]'::json
);`)
	if err != nil {
		return nil, err
	}
	return &PostgresAccounts{db: db}, nil
}

// EnsureFunctionAccounts creates the specified function accounts if they do not exist yet
func (a *PostgresAccounts) EnsureFunctionAccounts(ctx context.Context, accounts ...FunctionAccount) error {
	insertQuery := fmt.Sprintf("INSERT INTO %s (login,password,roles) VALUES($1,$2,$3) ON CONFLICT DO NOTHING;", a.db.Table("_account_"))
	for _, account := range accounts {
		hash, err := HashPassword(account.Password)
		if err != nil {
			return err
		}
		roles, _ := json.Marshal(account.Roles)
		if _, err := a.db.ExecContext(ctx, insertQuery, account.Login, hash, string(roles)); err != nil {
			return err
		}
	}
	return nil
}

func (a *PostgresAccounts) scan(row *sql.Row) (*Principal, string, error) {
	var (
		p     Principal
		hash  string
		roles []byte
	)
	if err := row.Scan(&p.ID, &p.Login, &hash, &roles); err != nil {
		return nil, "", err
	}
	if err := json.Unmarshal(roles, &p.Roles); err != nil {
		return nil, "", err
	}
	return &p, hash, nil
}

// Authenticate implements Accounts
func (a *PostgresAccounts) Authenticate(ctx context.Context, login, password string) (*Principal, error) {
	p, hash, err := a.scan(a.db.QueryRowContext(ctx,
		`SELECT id,login,password,roles FROM `+a.db.Table("_account_")+` WHERE login=$1;`, login))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrAuthentication
	}
	if err != nil {
		return nil, err
	}
	if !checkPassword(hash, password) {
		return nil, core.ErrAuthentication
	}
	return p, nil
}

// ChangePassword implements Accounts
func (a *PostgresAccounts) ChangePassword(ctx context.Context, id int64, oldPassword, newPassword string) error {
	if err := validateNewPassword(oldPassword, newPassword); err != nil {
		return err
	}
	_, hash, err := a.scan(a.db.QueryRowContext(ctx,
		`SELECT id,login,password,roles FROM `+a.db.Table("_account_")+` WHERE id=$1;`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.ErrAuthentication
	}
	if err != nil {
		return err
	}
	if !checkPassword(hash, oldPassword) {
		return core.ErrAuthentication
	}
	newHash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	_, err = a.db.ExecContext(ctx, `UPDATE `+a.db.Table("_account_")+` SET password=$2 WHERE id=$1;`, id, newHash)
	return err
}

// Principal implements Accounts
func (a *PostgresAccounts) Principal(ctx context.Context, id int64) (*Principal, error) {
	p, _, err := a.scan(a.db.QueryRowContext(ctx,
		`SELECT id,login,password,roles FROM `+a.db.Table("_account_")+` WHERE id=$1;`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NotFoundError("principal %d not found", id)
	}
	return p, err
}
