// retry — повтор операций с экспоненциальной задержкой и джиттером,
// а также одноразовые отложенные попытки (ScheduleRetry).
//
// Задержка перед повтором n (n >= 1): BaseDelay * 2^(n-1) * j, где j
// равномерно распределён в [0.5, 1.0). Все ожидания прерываются отменой ctx.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/pribylovaa/go-auth-session/internal/autherr"
	"github.com/pribylovaa/go-auth-session/internal/pkg/log"
)

// Значения политики по умолчанию.
const (
	DefaultMaxRetries = 5
	DefaultBaseDelay  = time.Second
)

// maxShift ограничивает показатель степени, чтобы задержка не переполнилась.
const maxShift = 30

// Policy — параметры повторов.
//
// MaxRetries — число повторов после первой попытки (всего попыток MaxRetries+1).
// Retryable решает, стоит ли повторять после ошибки; nil означает DefaultRetryable.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	Retryable  func(error) bool
}

// DefaultPolicy — 5 повторов с базовой задержкой 1s для временных ошибок.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  DefaultBaseDelay,
		Retryable:  DefaultRetryable,
	}
}

// DefaultRetryable повторяет временные ошибки: сеть, 5xx и неклассифицированные.
// Отклонённый токен здесь не повторяется: на него реагирует сессия.
func DefaultRetryable(err error) bool {
	return autherr.IsTransient(err)
}

func (p Policy) retryable(err error) bool {
	if p.Retryable == nil {
		return DefaultRetryable(err)
	}

	return p.Retryable(err)
}

// Delay — задержка перед повтором attempt при значении джиттера j из [0, 1).
func (p Policy) Delay(attempt int, j float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	shift := min(attempt-1, maxShift)
	base := float64(p.BaseDelay) * float64(uint64(1)<<shift)

	return time.Duration(base * (0.5 + 0.5*j))
}

// Scheduler выполняет операции по политике повторов.
// Нулевое значение непригодно, используйте New.
type Scheduler struct {
	jitter  func() float64
	onRetry func(attempt int, delay time.Duration, err error)
}

// Option настраивает Scheduler.
type Option func(*Scheduler)

// WithJitter подменяет источник джиттера; fn возвращает значения из [0, 1).
func WithJitter(fn func() float64) Option {
	return func(s *Scheduler) {
		if fn != nil {
			s.jitter = fn
		}
	}
}

// WithRetryHook вызывается перед каждым ожиданием повтора.
func WithRetryHook(fn func(attempt int, delay time.Duration, err error)) Option {
	return func(s *Scheduler) { s.onRetry = fn }
}

func New(opts ...Option) *Scheduler {
	s := &Scheduler{jitter: rand.Float64}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Execute выполняет op, повторяя её по политике. Возвращает последнюю ошибку.
// Отмена ctx во время ожидания возвращает ошибку вида KindCanceled.
func (s *Scheduler) Execute(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	_, err := Do(ctx, s, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})

	return err
}

// Do — типизированный вариант Execute.
func Do[T any](ctx context.Context, s *Scheduler, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	const opName = "retry.Do"

	var zero T

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, autherr.New(autherr.KindCanceled, opName, err)
		}

		v, err := op(ctx)
		if err == nil {
			return v, nil
		}

		if attempt >= p.MaxRetries || !p.retryable(err) {
			return zero, err
		}

		delay := p.Delay(attempt+1, s.jitter())
		if s.onRetry != nil {
			s.onRetry(attempt+1, delay, err)
		}

		log.From(ctx).Debug("retry_scheduled",
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
			slog.String("kind", autherr.KindOf(err).String()),
		)

		if err := sleep(ctx, delay); err != nil {
			return zero, autherr.New(autherr.KindCanceled, opName, fmt.Errorf("waiting for retry: %w", err))
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Pending — отложенная одноразовая попытка.
type Pending struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
	ran bool
}

// ScheduleRetry выполняет op один раз через delay в отдельной горутине.
// Отмена ctx или Pending.Cancel до срабатывания отменяет попытку;
// op получает контекст, отменяемый теми же способами.
func (s *Scheduler) ScheduleRetry(ctx context.Context, delay time.Duration, op func(ctx context.Context) error) *Pending {
	ctx, cancel := context.WithCancel(ctx)
	p := &Pending{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(p.done)
		defer cancel()

		if err := sleep(ctx, delay); err != nil {
			p.finish(false, autherr.New(autherr.KindCanceled, "retry.ScheduleRetry", err))
			return
		}

		p.finish(true, op(ctx))
	}()

	return p
}

func (p *Pending) finish(ran bool, err error) {
	p.mu.Lock()
	p.ran = ran
	p.err = err
	p.mu.Unlock()
}

// Cancel отменяет попытку. Безопасен для повторного вызова и для nil.
func (p *Pending) Cancel() {
	if p == nil {
		return
	}

	p.cancel()
}

// Done закрывается, когда попытка выполнена или отменена.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Result — итог попытки: ran=false, если она была отменена до запуска.
// Корректен только после закрытия Done.
func (p *Pending) Result() (ran bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.ran, p.err
}
