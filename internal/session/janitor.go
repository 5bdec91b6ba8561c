package session

import (
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"smmpanel/internal/logger"
)

// Sweeper is implemented by stores that expire sessions themselves.
type Sweeper interface {
	Sweep() int
}

// Janitor runs Sweep on every registered Sweeper on a cron schedule.
type Janitor struct {
	cron *cron.Cron
	log  *zap.Logger
}

// NewJanitor schedules the sweepers with spec, e.g. "@every 1m".
func NewJanitor(spec string, log *zap.Logger, sweepers ...Sweeper) (*Janitor, error) {
	j := &Janitor{cron: cron.New(), log: logger.OrNop(log).Named("janitor")}
	_, err := j.cron.AddFunc(spec, func() {
		for _, s := range sweepers {
			if n := s.Sweep(); n > 0 {
				j.log.Debug("expired entries removed", zap.Int("count", n), zap.String("sweeper", fmt.Sprintf("%T", s)))
			}
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule sweep: %w", err)
	}
	return j, nil
}

func (j *Janitor) Start() {
	j.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}
