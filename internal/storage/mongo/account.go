package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"

	"github.com/pribylovaa/go-auth-session/internal/models"
	"github.com/pribylovaa/go-auth-session/internal/storage"
)

// accountDoc — представление аккаунта в коллекции.
// MongoDB хранит время с точностью до миллисекунд.
type accountDoc struct {
	ID                 string                  `bson:"_id"`
	Email              string                  `bson:"email"`
	EmailLower         string                  `bson:"email_lower"`
	Name               string                  `bson:"name"`
	PasswordHash       string                  `bson:"password_hash"`
	Role               string                  `bson:"role"`
	Status             string                  `bson:"status"`
	Permissions        []string                `bson:"permissions"`
	RefreshTokenHash   string                  `bson:"refresh_token_hash"`
	RotationHistory    []models.RotationRecord `bson:"rotation_history"`
	LastLoginAt        time.Time               `bson:"last_login_at,omitempty"`
	LastTokenRefreshAt time.Time               `bson:"last_token_refresh_at,omitempty"`
	CreatedAt          time.Time               `bson:"created_at"`
	UpdatedAt          time.Time               `bson:"updated_at"`
	Version            int64                   `bson:"version"`
}

func toMS(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}

	return t.UTC().Truncate(time.Millisecond)
}

func toDoc(a *models.Account) accountDoc {
	history := make([]models.RotationRecord, len(a.RotationHistory))
	for i, r := range a.RotationHistory {
		r.RotatedAt = toMS(r.RotatedAt)
		history[i] = r
	}

	perms := a.Permissions
	if perms == nil {
		perms = []string{}
	}

	return accountDoc{
		ID:                 a.ID.String(),
		Email:              a.Email,
		EmailLower:         strings.ToLower(a.Email),
		Name:               a.Name,
		PasswordHash:       a.PasswordHash,
		Role:               string(a.Role),
		Status:             string(a.Status),
		Permissions:        perms,
		RefreshTokenHash:   a.RefreshTokenHash,
		RotationHistory:    history,
		LastLoginAt:        toMS(a.LastLoginAt),
		LastTokenRefreshAt: toMS(a.LastTokenRefreshAt),
		CreatedAt:          toMS(a.CreatedAt),
		UpdatedAt:          toMS(a.UpdatedAt),
		Version:            a.Version,
	}
}

func (d *accountDoc) toModel() (*models.Account, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("decode _id: %w", err)
	}

	acc := &models.Account{
		ID:                 id,
		Email:              d.Email,
		Name:               d.Name,
		PasswordHash:       d.PasswordHash,
		Role:               models.Role(d.Role),
		Status:             models.AccountStatus(d.Status),
		Permissions:        d.Permissions,
		RefreshTokenHash:   d.RefreshTokenHash,
		LastLoginAt:        d.LastLoginAt.UTC(),
		LastTokenRefreshAt: d.LastTokenRefreshAt.UTC(),
		CreatedAt:          d.CreatedAt.UTC(),
		UpdatedAt:          d.UpdatedAt.UTC(),
		Version:            d.Version,
	}

	if len(d.RotationHistory) > 0 {
		acc.RotationHistory = make([]models.RotationRecord, len(d.RotationHistory))
		for i, r := range d.RotationHistory {
			r.RotatedAt = r.RotatedAt.UTC()
			acc.RotationHistory[i] = r
		}
	}

	return acc, nil
}

// SaveAccount вставляет документ; конфликт по _id или email_lower → ErrAlreadyExists.
func (s *Storage) SaveAccount(ctx context.Context, acc *models.Account) error {
	const op = "storage.mongo.SaveAccount"

	if _, err := s.accounts.InsertOne(ctx, toDoc(acc)); err != nil {
		if mongodriver.IsDuplicateKeyError(err) {
			return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
		}

		return fmt.Errorf("%s: insert: %w", op, err)
	}

	return nil
}

// AccountByEmail ищет по email_lower.
func (s *Storage) AccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	const op = "storage.mongo.AccountByEmail"

	acc, err := s.findOne(ctx, bson.D{{Key: "email_lower", Value: strings.ToLower(email)}})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return acc, nil
}

// AccountByID ищет по _id.
func (s *Storage) AccountByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	const op = "storage.mongo.AccountByID"

	acc, err := s.findOne(ctx, bson.D{{Key: "_id", Value: id.String()}})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return acc, nil
}

// UpdateAccount — оптимистичное обновление: документ заменяется, только если
// его version не изменилась с момента чтения. При конфликте fn вызывается
// заново на свежем состоянии, не более maxCASAttempts раз.
func (s *Storage) UpdateAccount(ctx context.Context, id uuid.UUID, fn storage.UpdateFunc) (*models.Account, error) {
	const op = "storage.mongo.UpdateAccount"

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		cur, err := s.findOne(ctx, bson.D{{Key: "_id", Value: id.String()}})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		prevVersion := cur.Version
		email, createdAt := cur.Email, cur.CreatedAt

		if err := fn(cur); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		cur.ID, cur.Email, cur.CreatedAt = id, email, createdAt
		cur.UpdatedAt = time.Now().UTC()
		cur.Version = prevVersion + 1

		res, err := s.accounts.ReplaceOne(ctx,
			bson.D{{Key: "_id", Value: id.String()}, {Key: "version", Value: prevVersion}},
			toDoc(cur),
		)
		if err != nil {
			return nil, fmt.Errorf("%s: replace: %w", op, err)
		}

		if res.MatchedCount == 1 {
			return cur, nil
		}
	}

	return nil, fmt.Errorf("%s: %w", op, storage.ErrConflict)
}

func (s *Storage) findOne(ctx context.Context, filter bson.D) (*models.Account, error) {
	var doc accountDoc
	if err := s.accounts.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, storage.ErrNotFound
		}

		return nil, err
	}

	return doc.toModel()
}
