package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"smmpanel/internal/apperr"
	"smmpanel/internal/logger"
	"smmpanel/internal/metrics"
)

const notifyTimeout = 10 * time.Second

// Fanout sends text to every recipient with at most concurrency sends in
// flight. Each failure is wrapped in ErrGatewayUnavailable and combined.
func Fanout(ctx context.Context, m Messenger, recipients []int64, text string, kb Keyboard, concurrency int) error {
	if concurrency < 1 {
		concurrency = 1
	}

	var (
		mu   sync.Mutex
		errs error
		wg   sync.WaitGroup
		sem  = make(chan struct{}, concurrency)
	)
	for _, id := range recipients {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			mu.Lock()
			errs = multierr.Append(errs, fmt.Errorf("chat %d: %w: %v", id, apperr.ErrGatewayUnavailable, ctx.Err()))
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := m.Send(ctx, id, text, kb); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("chat %d: %w: %v", id, apperr.ErrGatewayUnavailable, err))
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()
	return errs
}

// Notifier delivers best-effort messages. Failures are logged and counted,
// never returned.
type Notifier struct {
	messenger   Messenger
	concurrency int
	metrics     *metrics.Metrics
	log         *zap.Logger
}

func NewNotifier(m Messenger, concurrency int, mt *metrics.Metrics, log *zap.Logger) *Notifier {
	return &Notifier{
		messenger:   m,
		concurrency: concurrency,
		metrics:     mt,
		log:         logger.OrNop(log).Named("notify"),
	}
}

// Notify fans text out to recipients and waits for the bounded task list to
// drain.
func (n *Notifier) Notify(ctx context.Context, recipients []int64, text string, kb Keyboard) {
	if n == nil || len(recipients) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()

	err := Fanout(ctx, n.messenger, recipients, text, kb, n.concurrency)
	if err == nil {
		return
	}
	failures := multierr.Errors(err)
	n.metrics.GatewayFailure("notify", len(failures))
	n.log.Warn("notification not delivered",
		zap.Int("failed", len(failures)),
		zap.Int("recipients", len(recipients)),
		zap.Error(err))
}

// NotifyOne is Notify for a single recipient.
func (n *Notifier) NotifyOne(ctx context.Context, chatID int64, text string, kb Keyboard) {
	n.Notify(ctx, []int64{chatID}, text, kb)
}
