// Package broadcast sends an operator message to every active user at a
// paced rate and records the run in the broadcast log.
package broadcast

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"smmpanel/internal/apperr"
	"smmpanel/internal/gateway"
	"smmpanel/internal/logger"
	"smmpanel/internal/metrics"
	"smmpanel/internal/models"
)

const messageTypeText = "text"

type Store interface {
	ListUserIDs(ctx context.Context, includeBanned bool) ([]int64, error)
	LogBroadcast(ctx context.Context, entry models.BroadcastLog) (models.BroadcastLog, error)
}

// Result summarizes one broadcast run.
type Result struct {
	Recipients int                 `json:"recipients"`
	Sent       int                 `json:"sent"`
	Failed     int                 `json:"failed"`
	Log        models.BroadcastLog `json:"log"`
}

type Broadcaster struct {
	store     Store
	messenger gateway.Messenger
	limiter   *rate.Limiter
	metrics   *metrics.Metrics
	log       *zap.Logger
}

// New paces sends to perSecond messages per second; a non-positive rate
// disables pacing.
func New(store Store, messenger gateway.Messenger, perSecond float64, m *metrics.Metrics, log *zap.Logger) *Broadcaster {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &Broadcaster{
		store:     store,
		messenger: messenger,
		limiter:   rate.NewLimiter(limit, 1),
		metrics:   m,
		log:       logger.OrNop(log).Named("broadcast"),
	}
}

// Send delivers text to every user that is not banned. Undeliverable chats
// are counted, not returned; an error means the run was cut short.
func (b *Broadcaster) Send(ctx context.Context, adminID int64, text string) (Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{}, fmt.Errorf("broadcast text is empty: %w", apperr.ErrValidation)
	}

	ids, err := b.store.ListUserIDs(ctx, false)
	if err != nil {
		return Result{}, err
	}

	res := Result{Recipients: len(ids)}
	var failures error
	for _, id := range ids {
		if err := b.limiter.Wait(ctx); err != nil {
			b.finish(ctx, adminID, &res, failures)
			return res, fmt.Errorf("broadcast interrupted after %d of %d: %w", res.Sent+res.Failed, res.Recipients, err)
		}
		if err := b.messenger.Send(ctx, id, text, nil); err != nil {
			res.Failed++
			failures = multierr.Append(failures, fmt.Errorf("chat %d: %w: %v", id, apperr.ErrGatewayUnavailable, err))
			continue
		}
		res.Sent++
	}

	if err := b.finish(ctx, adminID, &res, failures); err != nil {
		return res, err
	}
	return res, nil
}

func (b *Broadcaster) finish(ctx context.Context, adminID int64, res *Result, failures error) error {
	b.metrics.BroadcastSent(res.Sent)
	b.metrics.GatewayFailure("broadcast", res.Failed)
	if failures != nil {
		b.log.Warn("broadcast partially delivered",
			zap.Int("failed", res.Failed),
			zap.Errors("errors", multierr.Errors(failures)))
	}

	entry, err := b.store.LogBroadcast(context.WithoutCancel(ctx), models.BroadcastLog{
		AdminID:     adminID,
		MessageType: messageTypeText,
		UsersCount:  res.Sent,
	})
	if err != nil {
		return fmt.Errorf("log broadcast: %w", err)
	}
	res.Log = entry
	b.log.Info("broadcast finished",
		zap.Int64("admin_id", adminID),
		zap.Int("recipients", res.Recipients),
		zap.Int("sent", res.Sent))
	return nil
}
