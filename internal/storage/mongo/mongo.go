// mongo — хранилище аккаунтов в MongoDB. Атомарность обновления одного
// аккаунта обеспечивается compare-and-swap по полю version.
package mongo

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/pribylovaa/go-auth-session/internal/storage"
)

const (
	accountsCollection = "accounts"
	defaultDBName      = "auth"
	// maxCASAttempts — сколько раз UpdateAccount перечитывает документ при конфликте версий.
	maxCASAttempts = 5
)

// Storage — адаптер над коллекцией accounts.
type Storage struct {
	client   *mongodriver.Client
	accounts *mongodriver.Collection
}

// New подключается к MongoDB, проверяет соединение и создаёт индексы.
func New(ctx context.Context, uri string) (*Storage, error) {
	const op = "storage.mongo.New"

	if uri == "" {
		return nil, fmt.Errorf("%s: empty database url", op)
	}

	cli, err := mongodriver.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("%s: connect: %w", op, err)
	}

	if err := cli.Ping(ctx, readpref.Primary()); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}

	s := &Storage{
		client:   cli,
		accounts: cli.Database(databaseFromURI(uri)).Collection(accountsCollection),
	}

	if err := s.ensureIndexes(ctx); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return s, nil
}

// ensureIndexes — уникальный индекс по email в нижнем регистре.
func (s *Storage) ensureIndexes(ctx context.Context) error {
	_, err := s.accounts.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys:    bson.D{{Key: "email_lower", Value: 1}},
		Options: options.Index().SetName("uniq_email_lower").SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("ensure indexes: %w", err)
	}

	return nil
}

// Ping проверяет соединение с primary.
func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Close отключается от MongoDB.
func (s *Storage) Close() {
	_ = s.client.Disconnect(context.Background())
}

// databaseFromURI извлекает имя базы из пути URI или возвращает значение по умолчанию.
func databaseFromURI(uri string) string {
	u, err := url.Parse(uri)
	if err == nil {
		if name := strings.Trim(u.Path, "/"); name != "" {
			return name
		}
	}

	return defaultDBName
}

// Проверка на соответствие интерфейсу Storage.
var _ storage.Storage = (*Storage)(nil)
