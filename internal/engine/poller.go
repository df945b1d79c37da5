package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "pullover/pkg/logx"
)

// Poller fires batch cycles on a fixed schedule as a safety net against
// missed or silently dropped push signals. It runs for the lifetime of the
// process regardless of the push channel's state.
type Poller struct {
	schedule cron.Schedule
	trigger  func()
	log      logx.Logger
}

// NewPoller parses spec as a cron expression. Both 5-field and 6-field
// (with seconds) specs are accepted, as are descriptors like "@every 10m".
func NewPoller(spec string, trigger func(), log logx.Logger) (*Poller, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		spec = DefaultPollSchedule
	}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("poller: invalid schedule %q: %w", spec, err)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Poller{schedule: schedule, trigger: trigger, log: log}, nil
}

func (p *Poller) Run(ctx context.Context) error {
	for {
		next := p.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			p.log.Debug("poll tick", logx.Time("next", p.schedule.Next(time.Now())))
			p.trigger()
		}
	}
}
