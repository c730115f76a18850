package handlers

import (
	"context"
	"encoding/json"
	"net"
	"net/http"

	"github.com/google/uuid"

	"github.com/pribylovaa/go-auth-session/internal/models"
)

// maxBodyBytes — ограничение размера тела запроса.
const maxBodyBytes = 64 << 10

// Service — операции issuer, нужные HTTP-слою.
type Service interface {
	Issue(ctx context.Context, creds models.Credentials, client models.ClientMeta) (*models.TokenPair, *models.Account, error)
	Refresh(ctx context.Context, refreshToken string, client models.ClientMeta) (*models.TokenPair, error)
	Logout(ctx context.Context, refreshToken string) error
	Register(ctx context.Context, email, name, password string) (*models.Account, error)
	Whoami(ctx context.Context, accessToken string) (*models.Account, error)
	SetAccountStatus(ctx context.Context, id uuid.UUID, status models.AccountStatus) (*models.Account, error)
	VerifyClient(clientID, clientSecret string) error
}

// Handlers агрегирует зависимости хендлеров.
type Handlers struct {
	svc Service
}

func New(svc Service) *Handlers {
	return &Handlers{svc: svc}
}

// writeJSON — единый ответ JSON с нужным Content-Type.
// Ошибки выводим через apierrors.WriteError.
func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

// decodeStrict — строгий JSON-декодер: запрещаем неизвестные поля.
func decodeStrict(w http.ResponseWriter, r *http.Request, value any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(value)
}

// clientMeta собирает метаданные клиента для истории ротаций.
func clientMeta(r *http.Request) models.ClientMeta {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}

	return models.ClientMeta{
		UserAgent: r.UserAgent(),
		IP:        ip,
	}
}
