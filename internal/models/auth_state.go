package models

import (
	"slices"
	"time"
)

// UserProfile — данные пользователя, которые клиент кэширует для
// аутентификации без сервера.
type UserProfile struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Email       string   `json:"email"`
	Role        Role     `json:"role"`
	Permissions []string `json:"permissions"`
}

// AuthState — производная проекция сессии для остального приложения.
// Не сохраняется, всегда восстанавливается из хранилища токенов и кэша профиля.
type AuthState struct {
	IsAuthenticated bool
	UserID          string
	Username        string
	Role            Role
	Permissions     []string
	ExpiresAt       time.Time
}

// GuestState — состояние неаутентифицированного пользователя.
func GuestState() AuthState {
	return AuthState{}
}

// StateFromProfile строит аутентифицированное состояние по профилю.
func StateFromProfile(p UserProfile, expiresAt time.Time) AuthState {
	return AuthState{
		IsAuthenticated: true,
		UserID:          p.ID,
		Username:        p.Name,
		Role:            p.Role,
		Permissions:     slices.Clone(p.Permissions),
		ExpiresAt:       expiresAt.UTC(),
	}
}

// Diff возвращает имена полей, которыми s отличается от other.
// Пустой результат означает, что наблюдателей уведомлять не нужно.
func (s AuthState) Diff(other AuthState) []string {
	var changed []string

	if s.IsAuthenticated != other.IsAuthenticated {
		changed = append(changed, "isAuthenticated")
	}
	if s.UserID != other.UserID {
		changed = append(changed, "userId")
	}
	if s.Username != other.Username {
		changed = append(changed, "username")
	}
	if s.Role != other.Role {
		changed = append(changed, "role")
	}
	if !slices.Equal(s.Permissions, other.Permissions) {
		changed = append(changed, "permissions")
	}
	if !s.ExpiresAt.Equal(other.ExpiresAt) {
		changed = append(changed, "expiresAt")
	}

	return changed
}

// Equal — состояния совпадают по всем полям.
func (s AuthState) Equal(other AuthState) bool {
	return len(s.Diff(other)) == 0
}

// Clone возвращает копию с независимым срезом прав.
func (s AuthState) Clone() AuthState {
	s.Permissions = slices.Clone(s.Permissions)
	return s
}
