package models

import "time"

// Credentials — email и пароль. Используются один раз при входе и нигде не сохраняются.
type Credentials struct {
	Email    string
	Password string
}

// TokenPair — пара токенов, выдаваемая при входе/обновлении.
//
// Описание:
//   - AccessToken — JWT для авторизации запросов;
//   - RefreshToken — подписанный JWT для выпуска новой пары; на сервере
//     хранится только его хэш;
//   - AccessExpiresAt — момент истечения access-токена (UTC), всегда позже IssuedAt.
type TokenPair struct {
	AccessToken     string
	RefreshToken    string
	AccessExpiresAt time.Time
	IssuedAt        time.Time
}

// ExpiresIn — оставшееся время жизни access-токена в секундах.
func (p *TokenPair) ExpiresIn() int64 {
	return int64(p.AccessExpiresAt.Sub(p.IssuedAt) / time.Second)
}

// ClientMeta — метаданные клиента, запросившего ротацию.
type ClientMeta struct {
	UserAgent string `json:"userAgent,omitempty" bson:"user_agent,omitempty"`
	IP        string `json:"ip,omitempty" bson:"ip,omitempty"`
}

// RotationRecord — запись истории refresh-токенов, замещённых ротацией.
type RotationRecord struct {
	TokenHash string     `json:"tokenHash" bson:"token_hash"`
	RotatedAt time.Time  `json:"rotatedAt" bson:"rotated_at"`
	Client    ClientMeta `json:"client" bson:"client"`
}
