// session — клиент сессии: вход, выход, обновление токенов, перепроверка
// по таймеру и деградация до аутентификации по кэшу.
//
// Один Client на процесс. Вход, обновление и выход сериализуются одной
// блокировкой операций; параллельные вызовы Refresh разделяют один
// сетевой запрос. Каждый Logout начинает новое поколение сессии и
// отменяет её контекст, поэтому отложенные повторы старой сессии
// ничего не меняют.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/pribylovaa/go-auth-session/internal/autherr"
	"github.com/pribylovaa/go-auth-session/internal/client/fallback"
	"github.com/pribylovaa/go-auth-session/internal/client/retry"
	"github.com/pribylovaa/go-auth-session/internal/client/tokenstore"
	"github.com/pribylovaa/go-auth-session/internal/config"
	"github.com/pribylovaa/go-auth-session/internal/metrics"
	"github.com/pribylovaa/go-auth-session/internal/models"
	"github.com/pribylovaa/go-auth-session/internal/pkg/log"
	"github.com/pribylovaa/go-auth-session/internal/pkg/redact"
)

const (
	defaultRefreshAhead      = time.Hour
	defaultDegradedBaseDelay = 5 * time.Minute
)

// API — сервер выдачи токенов. Реализуется authapi.Client.
type API interface {
	Login(ctx context.Context, creds models.Credentials) (*models.TokenPair, models.UserProfile, error)
	Refresh(ctx context.Context, refreshToken string) (*models.TokenPair, error)
	Logout(ctx context.Context, refreshToken string) error
	Whoami(ctx context.Context, accessToken string) (models.UserProfile, error)
}

// Store — хранилище токенов и кэша профиля. Реализуется *tokenstore.Store.
type Store interface {
	SaveTokens(ctx context.Context, pair *models.TokenPair) error
	Session(ctx context.Context) (*tokenstore.Session, error)
	SaveProfile(ctx context.Context, p models.UserProfile) error
	Profile(ctx context.Context) (*models.UserProfile, error)
	Clear(ctx context.Context) error
}

// Recoverer восстанавливает состояние по кэшу при недоступности сервера.
type Recoverer interface {
	TryRecover(ctx context.Context, lastErr error) (*models.AuthState, bool)
}

// Options — необязательные зависимости клиента.
type Options struct {
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Scheduler *retry.Scheduler
	// Fallback по умолчанию — fallback.New(store).
	Fallback Recoverer
	Now      func() time.Time
}

type Client struct {
	api      API
	store    Store
	fallback Recoverer
	sched    *retry.Scheduler
	policy   retry.Policy
	cfg      config.ClientConfig
	log      *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	// opMu сериализует вход, обновление и выход.
	opMu sync.Mutex
	sf   singleflight.Group

	rootCtx    context.Context
	rootCancel context.CancelFunc
	loopOnce   sync.Once
	wg         sync.WaitGroup

	mu              sync.Mutex
	phase           Phase
	state           models.AuthState
	gen             uint64
	sessCtx         context.Context
	sessCancel      context.CancelFunc
	pending         *retry.Pending
	degradedAttempt int
	stateObs        []StateObserver
	loginFailedObs  []LoginFailedObserver
	endedObs        []SessionEndedObserver
}

// New собирает клиент. cfg приводится к допустимым диапазонам (config.ClientConfig.Normalize).
func New(api API, store Store, cfg config.ClientConfig, opts Options) *Client {
	c := &Client{
		api:      api,
		store:    store,
		fallback: opts.Fallback,
		sched:    opts.Scheduler,
		cfg:      cfg.Normalize(),
		log:      opts.Logger,
		metrics:  opts.Metrics,
		now:      opts.Now,
		state:    models.GuestState(),
	}

	if c.log == nil {
		c.log = slog.Default()
	}
	c.log = c.log.With(slog.String("component", "session"))

	if c.fallback == nil {
		c.fallback = fallback.New(store)
	}
	if c.sched == nil {
		c.sched = retry.New()
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.cfg.RefreshAhead <= 0 {
		c.cfg.RefreshAhead = defaultRefreshAhead
	}
	if c.cfg.DegradedBaseDelay <= 0 {
		c.cfg.DegradedBaseDelay = defaultDegradedBaseDelay
	}
	c.cfg.DegradedMaxDelay = max(c.cfg.DegradedMaxDelay, c.cfg.DegradedBaseDelay)

	c.policy = retry.Policy{
		MaxRetries: c.cfg.MaxRetries,
		BaseDelay:  c.cfg.RetryBaseDelay,
		Retryable:  retry.DefaultRetryable,
	}

	c.rootCtx, c.rootCancel = context.WithCancel(context.Background())

	c.mu.Lock()
	c.beginSessionLocked()
	c.mu.Unlock()

	return c
}

// beginSessionLocked отменяет текущее поколение сессии со всеми
// отложенными повторами и начинает новое. Вызывается под c.mu.
func (c *Client) beginSessionLocked() (uint64, context.Context) {
	if c.sessCancel != nil {
		c.sessCancel()
	}
	c.pending.Cancel()
	c.pending = nil
	c.degradedAttempt = 0

	c.gen++
	ctx, cancel := context.WithCancel(c.rootCtx)
	c.sessCtx, c.sessCancel = log.Into(ctx, c.log), cancel

	return c.gen, c.sessCtx
}

// current — поколение и контекст текущей сессии.
func (c *Client) current() (uint64, context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.gen, c.sessCtx
}

// Init восстанавливает сессию из хранилища и запускает перепроверку по таймеру.
//
// Порядок: whoami по сохранённому access-токену; при его отказе — обновление
// пары; при временной ошибке — аутентификация по кэшу. Исход отражается в
// фазе и состоянии; ошибка возвращается, только если хранилище недоступно.
func (c *Client) Init(ctx context.Context) error {
	const op = "session.Init"

	c.startLoop()

	c.opMu.Lock()
	defer c.opMu.Unlock()

	sess, err := c.store.Session(ctx)
	if errors.Is(err, tokenstore.ErrNoSession) {
		c.log.Info("session_restore_skipped", slog.String("reason", "no_tokens"))
		return nil
	}
	if err != nil {
		c.log.Error("session_store_failed", slog.String("op", op), slog.String("err", err.Error()))
		return fmt.Errorf("%s: %w", op, err)
	}

	c.mu.Lock()
	gen, sctx := c.beginSessionLocked()
	c.mu.Unlock()

	if sess.AccessToken == "" {
		_ = c.doRefresh(sctx, gen)
		return nil
	}

	c.setPhase(gen, PhaseAuthenticating)

	profile, err := retry.Do(sctx, c.sched, c.policy, func(ctx context.Context) (models.UserProfile, error) {
		return c.api.Whoami(ctx, sess.AccessToken)
	})

	switch autherr.Decide(err) {
	case autherr.ActionNone:
		c.saveProfile(sctx, profile)
		c.commit(gen, PhaseAuthenticated, models.StateFromProfile(profile, sess.ExpiresAt))
		c.log.Info("session_restored", slog.String("user_id", profile.ID))
	case autherr.ActionRefresh:
		c.log.Info("session_restore_refreshing", slog.String("kind", autherr.KindOf(err).String()))
		_ = c.doRefresh(sctx, gen)
	case autherr.ActionForceLogout:
		c.endSession(sctx, gen, err)
	case autherr.ActionFallback:
		c.degrade(sctx, gen, err)
	case autherr.ActionAbort:
		return fmt.Errorf("%s: %w", op, err)
	default:
		c.log.Warn("session_restore_rejected", slog.String("err", err.Error()))
		c.commit(gen, PhaseGuest, models.GuestState())
	}

	return nil
}

// Login выполняет вход. Активная сессия предварительно закрывается.
// При неудаче клиент остаётся гостем, наблюдатели OnLoginFailed получают
// классифицированную ошибку.
func (c *Client) Login(ctx context.Context, email, password string) error {
	const op = "session.Login"

	if c.Phase() != PhaseGuest {
		if err := c.Logout(ctx); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	gen, sctx := c.beginSessionLocked()
	n := c.transitionLocked(PhaseAuthenticating, models.GuestState())
	c.mu.Unlock()
	n.fire()

	// Вход прерывается и отменой вызывающего, и выходом из сессии.
	lctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(sctx, cancel)
	defer stop()
	lctx = log.Into(lctx, c.log)

	l := c.log.With(slog.String("op", op), slog.String("email", redact.Email(email)))

	pair, profile, err := c.login(lctx, models.Credentials{Email: email, Password: password})
	if err == nil {
		err = c.store.SaveTokens(lctx, pair)
		if err != nil {
			l.Error("session_store_failed", slog.String("err", err.Error()))
		}
	}

	if err != nil {
		if c.commit(gen, PhaseGuest, models.GuestState()) && autherr.Decide(err) != autherr.ActionAbort {
			l.Warn("login_failed", slog.String("kind", autherr.KindOf(err).String()))
			c.notifyLoginFailed(err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	c.saveProfile(lctx, profile)

	if !c.commit(gen, PhaseAuthenticated, models.StateFromProfile(profile, pair.AccessExpiresAt)) {
		return autherr.New(autherr.KindCanceled, op, context.Canceled)
	}

	l.Info("login_succeeded", slog.String("user_id", profile.ID))

	return nil
}

func (c *Client) login(ctx context.Context, creds models.Credentials) (*models.TokenPair, models.UserProfile, error) {
	type result struct {
		pair    *models.TokenPair
		profile models.UserProfile
	}

	r, err := retry.Do(ctx, c.sched, c.policy, func(ctx context.Context) (result, error) {
		pair, profile, err := c.api.Login(ctx, creds)
		return result{pair: pair, profile: profile}, err
	})

	return r.pair, r.profile, err
}

// Logout закрывает сессию из любой фазы: отменяет отложенные повторы и
// операции в полёте, очищает хранилище, переводит клиента в Guest.
// Отзыв на сервере выполняется в фоне и на результат не влияет.
// Повторный вызов безопасен.
func (c *Client) Logout(ctx context.Context) error {
	const op = "session.Logout"

	c.mu.Lock()
	c.beginSessionLocked()
	n := c.transitionLocked(PhaseGuest, models.GuestState())
	c.mu.Unlock()
	n.fire()

	c.opMu.Lock()
	defer c.opMu.Unlock()

	// Отмена вызывающего не должна оставить токены в хранилище.
	ctx = context.WithoutCancel(ctx)

	var refreshToken string
	if sess, err := c.store.Session(ctx); err == nil {
		refreshToken = sess.RefreshToken
	}

	clearErr := c.store.Clear(ctx)

	// Операция, завершившаяся между отменой и захватом opMu, могла успеть
	// записать состояние; финальный переход делается безусловно.
	c.mu.Lock()
	n = c.transitionLocked(PhaseGuest, models.GuestState())
	c.mu.Unlock()
	n.fire()

	if refreshToken != "" {
		c.revokeAsync(refreshToken)
	}

	if clearErr != nil {
		c.log.Error("session_store_failed", slog.String("op", op), slog.String("err", clearErr.Error()))
		return fmt.Errorf("%s: %w", op, clearErr)
	}

	c.log.Info("logout_succeeded", slog.Bool("revoking", refreshToken != ""))

	return nil
}

// revokeAsync отзывает refresh-токен на сервере, не блокируя вызывающего.
func (c *Client) revokeAsync(refreshToken string) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		// Не зависит от rootCtx: Close дожидается отзыва, начатого до него.
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RequestTimeout)
		defer cancel()

		l := c.log.With(slog.String("op", "session.revoke"), slog.String("token", redact.Fingerprint(refreshToken)))
		if err := c.api.Logout(ctx, refreshToken); err != nil {
			l.Warn("revoke_failed", slog.String("kind", autherr.KindOf(err).String()), slog.String("err", err.Error()))
			return
		}

		l.Debug("revoke_succeeded")
	}()
}

// AuthHeader возвращает значение заголовка Authorization или false,
// если access-токена нет.
func (c *Client) AuthHeader(ctx context.Context) (string, bool) {
	sess, err := c.store.Session(ctx)
	if err != nil || sess.AccessToken == "" {
		return "", false
	}

	return "Bearer " + sess.AccessToken, true
}

// Close останавливает таймер перепроверки и отложенные повторы, дожидается
// фонового отзыва (не дольше RequestTimeout) и отложенной попытки обновления,
// уже начавшей запрос. Хранилище не очищается: сессия восстановится при
// следующем Init.
func (c *Client) Close() {
	c.mu.Lock()
	c.pending.Cancel()
	c.pending = nil
	c.rootCancel()
	c.mu.Unlock()

	c.wg.Wait()
}

// endSession — принудительное завершение по терминальной ошибке.
func (c *Client) endSession(ctx context.Context, gen uint64, cause error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.pending.Cancel()
	c.pending = nil
	c.mu.Unlock()

	if err := c.store.Clear(context.WithoutCancel(ctx)); err != nil {
		c.log.Error("session_store_failed", slog.String("op", "session.endSession"), slog.String("err", err.Error()))
	}

	if !c.commit(gen, PhaseGuest, models.GuestState()) {
		return
	}

	c.log.Warn("session_ended", slog.String("kind", autherr.KindOf(cause).String()))
	c.notifySessionEnded(cause)
}

// saveProfile обновляет кэш профиля; сбой хранилища не прерывает операцию.
func (c *Client) saveProfile(ctx context.Context, p models.UserProfile) {
	if err := c.store.SaveProfile(ctx, p); err != nil {
		c.log.Warn("profile_cache_failed", slog.String("err", err.Error()))
	}
}
