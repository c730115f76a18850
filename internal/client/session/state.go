package session

import (
	"log/slog"

	"github.com/pribylovaa/go-auth-session/internal/models"
)

// Phase — фаза автомата состояний сессии.
type Phase int

const (
	PhaseGuest Phase = iota
	PhaseAuthenticating
	PhaseAuthenticated
	PhaseRefreshing
	// PhaseDegraded — аутентификация по кэшу, сервер недоступен.
	// Для остального приложения эквивалентна PhaseAuthenticated.
	PhaseDegraded
)

func (p Phase) String() string {
	switch p {
	case PhaseGuest:
		return "guest"
	case PhaseAuthenticating:
		return "authenticating"
	case PhaseAuthenticated:
		return "authenticated"
	case PhaseRefreshing:
		return "refreshing"
	case PhaseDegraded:
		return "degraded"
	}

	return "unknown"
}

// Наблюдатели. Вызываются синхронно, вне c.mu, но возможно во время
// операции клиента, поэтому не должны синхронно вызывать Login, Logout
// или Refresh.
type (
	StateObserver       func(models.AuthState)
	LoginFailedObserver func(error)
	// SessionEndedObserver получает терминальную ошибку, из-за которой
	// сессия была закрыта без явного Logout.
	SessionEndedObserver func(error)
)

// OnStateChanged подписывает на изменения AuthState. Уведомление приходит,
// только если новое состояние отличается от прежнего хотя бы одним полем.
func (c *Client) OnStateChanged(fn StateObserver) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stateObs = append(c.stateObs, fn)
}

// OnLoginFailed подписывает на неудачные попытки входа.
func (c *Client) OnLoginFailed(fn LoginFailedObserver) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.loginFailedObs = append(c.loginFailedObs, fn)
}

// OnSessionEnded подписывает на принудительное завершение сессии.
func (c *Client) OnSessionEnded(fn SessionEndedObserver) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.endedObs = append(c.endedObs, fn)
}

// State — текущая проекция сессии.
func (c *Client) State() models.AuthState {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state.Clone()
}

// Phase — текущая фаза.
func (c *Client) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.phase
}

// notification — отложенный вызов наблюдателей после снятия блокировки.
type notification func()

func (n notification) fire() {
	if n != nil {
		n()
	}
}

// transitionLocked меняет фазу и состояние. Вызывается под c.mu.
func (c *Client) transitionLocked(phase Phase, st models.AuthState) notification {
	from := c.phase
	changed := c.state.Diff(st)

	c.phase = phase
	c.state = st.Clone()

	if from != phase {
		c.metrics.PhaseTransition(from.String(), phase.String())
		c.log.Debug("session_phase_changed",
			slog.String("from", from.String()),
			slog.String("to", phase.String()),
		)
	}

	if len(changed) == 0 {
		return nil
	}

	c.log.Info("auth_state_changed", slog.Any("fields", changed))

	observers := append([]StateObserver(nil), c.stateObs...)
	snapshot := st.Clone()

	return func() {
		for _, fn := range observers {
			fn(snapshot.Clone())
		}
	}
}

// setPhase меняет только фазу, сохраняя состояние.
func (c *Client) setPhase(gen uint64, phase Phase) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	n := c.transitionLocked(phase, c.state)
	c.mu.Unlock()

	n.fire()
}

// commit применяет переход, только если сессия gen всё ещё текущая.
// Результаты операций, начатых до Logout, так отбрасываются.
func (c *Client) commit(gen uint64, phase Phase, st models.AuthState) bool {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return false
	}
	n := c.transitionLocked(phase, st)
	c.mu.Unlock()

	n.fire()

	return true
}

func (c *Client) notifyLoginFailed(err error) {
	c.mu.Lock()
	observers := append([]LoginFailedObserver(nil), c.loginFailedObs...)
	c.mu.Unlock()

	for _, fn := range observers {
		fn(err)
	}
}

func (c *Client) notifySessionEnded(err error) {
	c.mu.Lock()
	observers := append([]SessionEndedObserver(nil), c.endedObs...)
	c.mu.Unlock()

	for _, fn := range observers {
		fn(err)
	}
}
