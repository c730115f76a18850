package models

import (
	"time"

	"github.com/google/uuid"
)

// Role — уровень прав аккаунта.
type Role string

const (
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// Valid сообщает, является ли роль одной из известных.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAdmin, RoleSuperAdmin:
		return true
	}

	return false
}

// IsAdmin — admin и super_admin.
func (r Role) IsAdmin() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// AccountStatus — состояние аккаунта. Не зависит от роли:
// приостановленный администратор не может аутентифицироваться.
type AccountStatus string

const (
	StatusActive      AccountStatus = "active"
	StatusSuspended   AccountStatus = "suspended"
	StatusDeactivated AccountStatus = "deactivated"
)

// Valid сообщает, является ли статус одним из известных.
func (s AccountStatus) Valid() bool {
	switch s {
	case StatusActive, StatusSuspended, StatusDeactivated:
		return true
	}

	return false
}

// Account — серверная сущность пользователя вместе с состоянием
// семейства refresh-токенов.
//
// Описание:
//   - RefreshTokenHash — SHA-256 (base64url) текущего refresh-токена,
//     пустая строка означает отсутствие активной сессии;
//   - RotationHistory — хэши замещённых ротацией токенов, новые первыми;
//   - Version — счётчик изменений, используется хранилищами без блокировок
//     строк для compare-and-swap.
type Account struct {
	ID           uuid.UUID
	Email        string
	Name         string
	PasswordHash string
	Role         Role
	Status       AccountStatus
	Permissions  []string

	RefreshTokenHash string
	RotationHistory  []RotationRecord

	LastLoginAt        time.Time
	LastTokenRefreshAt time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
	Version            int64
}

// IsActive — аккаунт может аутентифицироваться.
func (a *Account) IsActive() bool {
	return a.Status == StatusActive
}

// Profile возвращает публичное представление аккаунта.
func (a *Account) Profile() UserProfile {
	perms := make([]string, len(a.Permissions))
	copy(perms, a.Permissions)

	return UserProfile{
		ID:          a.ID.String(),
		Name:        a.Name,
		Email:       a.Email,
		Role:        a.Role,
		Permissions: perms,
	}
}

// PushRotation кладёт запись в начало истории и отбрасывает самые старые
// записи сверх limit.
func (a *Account) PushRotation(rec RotationRecord, limit int) {
	if limit <= 0 {
		a.RotationHistory = nil
		return
	}

	history := make([]RotationRecord, 0, min(len(a.RotationHistory)+1, limit))
	history = append(history, rec)
	for _, r := range a.RotationHistory {
		if len(history) == limit {
			break
		}
		history = append(history, r)
	}

	a.RotationHistory = history
}

// RecentlyRotated ищет hash в истории ротаций и сообщает, был ли он
// замещён не раньше чем window назад относительно now.
func (a *Account) RecentlyRotated(hash string, now time.Time, window time.Duration) bool {
	for _, r := range a.RotationHistory {
		if r.TokenHash != hash {
			continue
		}

		age := now.Sub(r.RotatedAt)
		return age >= 0 && age <= window
	}

	return false
}

// InHistory сообщает, встречается ли hash в истории ротаций (без учёта окна).
func (a *Account) InHistory(hash string) bool {
	for _, r := range a.RotationHistory {
		if r.TokenHash == hash {
			return true
		}
	}

	return false
}

// ClearRefresh сбрасывает текущий refresh-токен и историю ротаций.
func (a *Account) ClearRefresh() {
	a.RefreshTokenHash = ""
	a.RotationHistory = nil
}

// Clone возвращает глубокую копию аккаунта.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}

	out := *a
	if a.Permissions != nil {
		out.Permissions = append([]string(nil), a.Permissions...)
	}
	if a.RotationHistory != nil {
		out.RotationHistory = append([]RotationRecord(nil), a.RotationHistory...)
	}

	return &out
}
