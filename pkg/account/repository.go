package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/klokku/taskmanager/internal/database"
	log "github.com/sirupsen/logrus"
)

var ErrAccountNotFound = errors.New("account not found")

type Repository interface {
	Insert(ctx context.Context, account Account) (int64, error)
	Update(ctx context.Context, account Account) error
	Get(ctx context.Context, id int64) (Account, error)
	GetAll(ctx context.Context) ([]Account, error)
	Count(ctx context.Context) (int, error)
	Remove(ctx context.Context, id int64) error
}

type RepositoryImpl struct {
	db *database.DB
}

func NewRepository(db *database.DB) *RepositoryImpl {
	return &RepositoryImpl{db: db}
}

const selectAccount = `SELECT id, email, account_type, refresh_token, display_name, endpoint FROM accounts`

func (r *RepositoryImpl) Insert(ctx context.Context, account Account) (int64, error) {
	query := r.db.Rebind(`INSERT INTO accounts (
                      email,
                      account_type,
                      refresh_token,
                      display_name,
                      endpoint
				) VALUES (?, ?, ?, ?, ?) RETURNING id`)

	var id int64
	err := r.db.InTransaction(ctx, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, query,
			account.Email,
			int(account.Type),
			account.RefreshToken,
			account.UserInfo.DisplayName,
			account.Endpoint,
		).Scan(&id)
	})
	if err != nil {
		err := fmt.Errorf("could not insert account %s: %w", account.Email, err)
		log.Error(err)
		return 0, err
	}
	return id, nil
}

func (r *RepositoryImpl) Update(ctx context.Context, account Account) error {
	query := r.db.Rebind(`UPDATE accounts SET email = ?, account_type = ?, refresh_token = ?, display_name = ?, endpoint = ? WHERE id = ?`)
	result, err := r.db.ExecContext(ctx, query,
		account.Email,
		int(account.Type),
		account.RefreshToken,
		account.UserInfo.DisplayName,
		account.Endpoint,
		account.Id,
	)
	if err != nil {
		err := fmt.Errorf("could not update account %d: %w", account.Id, err)
		log.Error(err)
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not read affected rows: %w", err)
	}
	if affected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *RepositoryImpl) Get(ctx context.Context, id int64) (Account, error) {
	row := r.db.QueryRowContext(ctx, r.db.Rebind(selectAccount+` WHERE id = ?`), id)
	account, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrAccountNotFound
	}
	if err != nil {
		err := fmt.Errorf("could not query account %d: %w", id, err)
		log.Error(err)
		return Account{}, err
	}
	return account, nil
}

func (r *RepositoryImpl) GetAll(ctx context.Context) ([]Account, error) {
	rows, err := r.db.QueryContext(ctx, selectAccount+` ORDER BY id`)
	if err != nil {
		err := fmt.Errorf("could not query accounts: %w", err)
		log.Error(err)
		return nil, err
	}
	defer rows.Close()

	accounts := make([]Account, 0, 4)
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			err := fmt.Errorf("could not scan row: %w", err)
			log.Error(err)
			return nil, err
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over rows: %w", err)
	}
	return accounts, nil
}

func (r *RepositoryImpl) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&count); err != nil {
		err := fmt.Errorf("could not count accounts: %w", err)
		log.Error(err)
		return 0, err
	}
	return count, nil
}

func (r *RepositoryImpl) Remove(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM accounts WHERE id = ?`), id)
	if err != nil {
		err := fmt.Errorf("could not delete account %d: %w", id, err)
		log.Error(err)
		return err
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (Account, error) {
	var account Account
	var accountType int
	err := row.Scan(
		&account.Id,
		&account.Email,
		&accountType,
		&account.RefreshToken,
		&account.UserInfo.DisplayName,
		&account.Endpoint,
	)
	if err != nil {
		return Account{}, err
	}
	account.Type = Type(accountType)
	account.UserInfo.Email = account.Email
	return account, nil
}
