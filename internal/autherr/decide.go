package autherr

// Action — реакция сессии на ошибку.
type Action int

const (
	// ActionNone — ошибки нет.
	ActionNone Action = iota
	// ActionSurface — показать ошибку пользователю, оставаясь гостем.
	ActionSurface
	// ActionForceLogout — очистить токены и перейти в Guest.
	ActionForceLogout
	// ActionRefresh — обновить пару токенов и повторить.
	ActionRefresh
	// ActionFallback — попробовать аутентификацию по кэшу (после исчерпания повторов).
	ActionFallback
	// ActionAbort — сессия закрыта во время операции, результат отбрасывается.
	ActionAbort
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionSurface:
		return "surface"
	case ActionForceLogout:
		return "force_logout"
	case ActionRefresh:
		return "refresh"
	case ActionFallback:
		return "fallback"
	case ActionAbort:
		return "abort"
	}

	return "unknown"
}

var decisions = map[Kind]Action{
	KindInvalidCredentials:  ActionSurface,
	KindRejected:            ActionSurface,
	KindAccountDisabled:     ActionForceLogout,
	KindInvalidRefreshToken: ActionForceLogout,
	KindMalformedToken:      ActionForceLogout,
	KindInvalidAccessToken:  ActionRefresh,
	KindNetwork:             ActionFallback,
	KindServer:              ActionFallback,
	KindUnknown:             ActionFallback,
	KindCanceled:            ActionAbort,
}

// Decide — таблица решений по виду ошибки.
func Decide(err error) Action {
	if err == nil {
		return ActionNone
	}

	if a, ok := decisions[KindOf(err)]; ok {
		return a
	}

	return ActionFallback
}
