package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pribylovaa/go-auth-session/internal/autherr"
	"github.com/pribylovaa/go-auth-session/internal/client/retry"
	"github.com/pribylovaa/go-auth-session/internal/client/tokenstore"
	"github.com/pribylovaa/go-auth-session/internal/models"
)

// ErrNotAuthenticated — обновлять нечего: клиент в фазе Guest.
var ErrNotAuthenticated = errors.New("session: not authenticated")

// Исходы обновления для метрик.
const (
	outcomeSuccess  = "success"
	outcomeTerminal = "terminal"
	outcomeDegraded = "degraded"
	outcomeGuest    = "guest"
	outcomeCanceled = "canceled"
	outcomeRejected = "rejected"
)

// Refresh обновляет пару токенов. Параллельные вызовы разделяют один
// сетевой запрос; отмена ctx прерывает ожидание только этого вызывающего.
func (c *Client) Refresh(ctx context.Context) error {
	const op = "session.Refresh"

	ch := c.sf.DoChan("refresh", func() (any, error) {
		return nil, c.refreshOnce()
	})

	select {
	case <-ctx.Done():
		return autherr.New(autherr.KindCanceled, op, ctx.Err())
	case r := <-ch:
		return r.Err
	}
}

func (c *Client) refreshOnce() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.Phase() == PhaseGuest {
		return ErrNotAuthenticated
	}

	gen, sctx := c.current()

	return c.doRefresh(sctx, gen)
}

// doRefresh — обновление с повторами и реакцией на исход по таблице
// autherr.Decide. Вызывается под opMu.
func (c *Client) doRefresh(ctx context.Context, gen uint64) error {
	const op = "session.refresh"

	prev := c.Phase()
	c.setPhase(gen, PhaseRefreshing)

	sess, err := c.store.Session(ctx)
	switch {
	case errors.Is(err, tokenstore.ErrNoSession) || (err == nil && sess.RefreshToken == ""):
		err = autherr.New(autherr.KindMalformedToken, op, errors.New("no refresh token stored"))
		c.endSession(ctx, gen, err)
		c.metrics.RefreshOutcome(outcomeTerminal)
		return err
	case err != nil:
		c.log.Error("session_store_failed", slog.String("op", op), slog.String("err", err.Error()))
		c.restore(gen, prev)
		return fmt.Errorf("%s: %w", op, err)
	}

	pair, err := retryRefresh(ctx, c, sess.RefreshToken)
	if err == nil {
		return c.refreshed(ctx, gen, prev, pair)
	}

	kind := autherr.KindOf(err)

	switch autherr.Decide(err) {
	case autherr.ActionForceLogout:
		c.endSession(ctx, gen, err)
		c.metrics.RefreshOutcome(outcomeTerminal)
	case autherr.ActionFallback:
		c.log.Warn("refresh_unavailable", slog.String("kind", kind.String()), slog.String("err", err.Error()))
		c.degrade(ctx, gen, err)
	case autherr.ActionAbort:
		c.restore(gen, prev)
		c.metrics.RefreshOutcome(outcomeCanceled)
	default:
		c.log.Warn("refresh_rejected", slog.String("kind", kind.String()), slog.String("err", err.Error()))
		c.restore(gen, prev)
		c.metrics.RefreshOutcome(outcomeRejected)
	}

	return fmt.Errorf("%s: %w", op, err)
}

// refreshed сохраняет новую пару и переводит сессию в Authenticated.
// Профиль перечитывается одним запросом; при неудаче берётся кэш.
func (c *Client) refreshed(ctx context.Context, gen uint64, prev Phase, pair *models.TokenPair) error {
	const op = "session.refresh"

	if err := c.store.SaveTokens(ctx, pair); err != nil {
		c.log.Error("session_store_failed", slog.String("op", op), slog.String("err", err.Error()))
		c.restore(gen, prev)
		return fmt.Errorf("%s: %w", op, err)
	}

	var st models.AuthState

	profile, err := c.api.Whoami(ctx, pair.AccessToken)
	if err == nil {
		c.saveProfile(ctx, profile)
		st = models.StateFromProfile(profile, pair.AccessExpiresAt)
	} else {
		c.log.Debug("profile_fetch_failed", slog.String("kind", autherr.KindOf(err).String()))

		cached, _ := c.store.Profile(ctx)
		if cached != nil {
			st = models.StateFromProfile(*cached, pair.AccessExpiresAt)
		} else {
			st = c.State()
			st.IsAuthenticated = true
			st.ExpiresAt = pair.AccessExpiresAt.UTC()
		}
	}

	c.mu.Lock()
	if gen == c.gen {
		c.pending.Cancel()
		c.pending = nil
		c.degradedAttempt = 0
	}
	c.mu.Unlock()

	if !c.commit(gen, PhaseAuthenticated, st) {
		c.metrics.RefreshOutcome(outcomeCanceled)
		return autherr.New(autherr.KindCanceled, op, context.Canceled)
	}

	c.metrics.RefreshOutcome(outcomeSuccess)
	c.log.Info("refresh_succeeded", slog.Time("expires_at", pair.AccessExpiresAt))

	return nil
}

// restore возвращает фазу, бывшую до обновления. Если сессии ещё не было
// (восстановление при Init), клиент остаётся гостем.
func (c *Client) restore(gen uint64, prev Phase) {
	if prev == PhaseAuthenticated || prev == PhaseDegraded {
		c.setPhase(gen, prev)
		return
	}

	c.commit(gen, PhaseGuest, models.GuestState())
}

func retryRefresh(ctx context.Context, c *Client, refreshToken string) (*models.TokenPair, error) {
	return retry.Do(ctx, c.sched, c.policy, func(ctx context.Context) (*models.TokenPair, error) {
		return c.api.Refresh(ctx, refreshToken)
	})
}

// degrade — временный сбой после исчерпания повторов: аутентификация
// по кэшу и отложенная попытка настоящего обновления. Без кэша клиент
// становится гостем, но токены остаются в хранилище.
func (c *Client) degrade(ctx context.Context, gen uint64, lastErr error) {
	st, ok := c.fallback.TryRecover(ctx, lastErr)
	if !ok {
		c.commit(gen, PhaseGuest, models.GuestState())
		c.metrics.RefreshOutcome(outcomeGuest)
		c.log.Warn("session_fallback_unavailable", slog.String("kind", autherr.KindOf(lastErr).String()))
		return
	}

	if !c.commit(gen, PhaseDegraded, *st) {
		return
	}

	c.metrics.RefreshOutcome(outcomeDegraded)
	c.scheduleDegraded(gen)
}

// scheduleDegraded планирует следующую попытку обновления в Degraded:
// DegradedBaseDelay, затем вдвое больше, но не дольше DegradedMaxDelay.
func (c *Client) scheduleDegraded(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// После Close новых попыток не планируется: Close уже ждёт c.wg.
	if gen != c.gen || c.rootCtx.Err() != nil {
		return
	}

	delay := degradedDelay(c.cfg.DegradedBaseDelay, c.cfg.DegradedMaxDelay, c.degradedAttempt)
	c.degradedAttempt++

	c.pending.Cancel()
	p := c.sched.ScheduleRetry(c.sessCtx, delay, func(ctx context.Context) error {
		// Сработавшая попытка не должна прерываться отменой самой себя
		// при успехе; выход из сессии прерывает её через контекст сессии.
		return c.Refresh(context.WithoutCancel(ctx))
	})
	c.pending = p

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		<-p.Done()
	}()

	c.log.Info("degraded_retry_scheduled",
		slog.Int("attempt", c.degradedAttempt),
		slog.Duration("delay", delay),
	)
}

func degradedDelay(base, maxDelay time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt && d < maxDelay; i++ {
		d *= 2
	}

	return min(d, maxDelay)
}

// Revalidate — один такт перепроверки: в фазе Authenticated обновляет
// пару, если до истечения access-токена осталось не больше RefreshAhead.
func (c *Client) Revalidate(ctx context.Context) error {
	c.mu.Lock()
	phase, expiresAt := c.phase, c.state.ExpiresAt
	c.mu.Unlock()

	if phase != PhaseAuthenticated {
		return nil
	}

	if left := expiresAt.Sub(c.now()); !expiresAt.IsZero() && left > c.cfg.RefreshAhead {
		c.log.Debug("revalidate_skipped", slog.Duration("expires_in", left))
		return nil
	}

	return c.Refresh(ctx)
}

func (c *Client) startLoop() {
	c.loopOnce.Do(func() {
		c.wg.Add(1)
		go c.revalidateLoop()
	})
}

func (c *Client) revalidateLoop() {
	defer c.wg.Done()

	t := time.NewTicker(c.cfg.RevalidateInterval)
	defer t.Stop()

	for {
		select {
		case <-c.rootCtx.Done():
			return
		case <-t.C:
			if err := c.Revalidate(c.rootCtx); err != nil {
				c.log.Debug("revalidate_failed", slog.String("err", err.Error()))
			}
		}
	}
}
