package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pribylovaa/go-auth-session/internal/models"
	"github.com/pribylovaa/go-auth-session/internal/storage"
)

const accountColumns = `
	id, email, name, password_hash, role, status, permissions,
	refresh_token_hash, rotation_history, last_login_at, last_token_refresh_at,
	created_at, updated_at, version
`

// SaveAccount создает новый аккаунт в БД.
func (s *Storage) SaveAccount(ctx context.Context, acc *models.Account) error {
	const op = "storage.postgres.SaveAccount"

	history, err := marshalHistory(acc.RotationHistory)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	query := `
		INSERT INTO accounts(id, email, name, password_hash, role, status, permissions,
			refresh_token_hash, rotation_history, last_login_at, last_token_refresh_at,
			created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err = s.db.Exec(ctx, query,
		acc.ID,
		acc.Email,
		acc.Name,
		acc.PasswordHash,
		string(acc.Role),
		string(acc.Status),
		nonNil(acc.Permissions),
		acc.RefreshTokenHash,
		history,
		nullTime(acc.LastLoginAt),
		nullTime(acc.LastTokenRefreshAt),
		acc.CreatedAt,
		acc.UpdatedAt,
		acc.Version,
	)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// AccountByEmail находит аккаунт по email (email хранится в CITEXT).
func (s *Storage) AccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	const op = "storage.postgres.AccountByEmail"

	acc, err := scanAccount(s.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return acc, nil
}

// AccountByID находит аккаунт по ID.
func (s *Storage) AccountByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	const op = "storage.postgres.AccountByID"

	acc, err := scanAccount(s.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return acc, nil
}

// UpdateAccount читает строку с SELECT ... FOR UPDATE и сохраняет результат fn
// в той же транзакции. Параллельные обновления одного аккаунта ждут на блокировке строки.
func (s *Storage) UpdateAccount(ctx context.Context, id uuid.UUID, fn storage.UpdateFunc) (*models.Account, error) {
	const op = "storage.postgres.UpdateAccount"

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("%s: begin: %w", op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	acc, err := scanAccount(tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	email, createdAt := acc.Email, acc.CreatedAt
	if err := fn(acc); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	acc.ID, acc.Email, acc.CreatedAt = id, email, createdAt
	acc.UpdatedAt = time.Now().UTC()
	acc.Version++

	history, err := marshalHistory(acc.RotationHistory)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	query := `
		UPDATE accounts
		SET name = $2, password_hash = $3, role = $4, status = $5, permissions = $6,
			refresh_token_hash = $7, rotation_history = $8,
			last_login_at = $9, last_token_refresh_at = $10,
			updated_at = $11, version = $12
		WHERE id = $1
	`

	_, err = tx.Exec(ctx, query,
		id,
		acc.Name,
		acc.PasswordHash,
		string(acc.Role),
		string(acc.Status),
		nonNil(acc.Permissions),
		acc.RefreshTokenHash,
		history,
		nullTime(acc.LastLoginAt),
		nullTime(acc.LastTokenRefreshAt),
		acc.UpdatedAt,
		acc.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: update: %w", op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%s: commit: %w", op, err)
	}

	return acc, nil
}

// scanAccount читает одну строку accounts; pgx.ErrNoRows → storage.ErrNotFound.
func scanAccount(row pgx.Row) (*models.Account, error) {
	var (
		acc                 models.Account
		role, status        string
		history             []byte
		lastLogin, lastRefr *time.Time
	)

	err := row.Scan(
		&acc.ID,
		&acc.Email,
		&acc.Name,
		&acc.PasswordHash,
		&role,
		&status,
		&acc.Permissions,
		&acc.RefreshTokenHash,
		&history,
		&lastLogin,
		&lastRefr,
		&acc.CreatedAt,
		&acc.UpdatedAt,
		&acc.Version,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}

		return nil, err
	}

	acc.Role = models.Role(role)
	acc.Status = models.AccountStatus(status)
	if lastLogin != nil {
		acc.LastLoginAt = lastLogin.UTC()
	}
	if lastRefr != nil {
		acc.LastTokenRefreshAt = lastRefr.UTC()
	}
	acc.CreatedAt = acc.CreatedAt.UTC()
	acc.UpdatedAt = acc.UpdatedAt.UTC()

	if len(history) > 0 {
		if err := json.Unmarshal(history, &acc.RotationHistory); err != nil {
			return nil, fmt.Errorf("decode rotation_history: %w", err)
		}
	}
	if len(acc.RotationHistory) == 0 {
		acc.RotationHistory = nil
	}

	return &acc, nil
}

func marshalHistory(h []models.RotationRecord) (string, error) {
	if h == nil {
		h = []models.RotationRecord{}
	}

	b, err := json.Marshal(h)
	if err != nil {
		return "", fmt.Errorf("encode rotation_history: %w", err)
	}

	return string(b), nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}

	return &t
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}

	return s
}
