package notify

import (
	"context"

	"pullover/internal/api"
	logx "pullover/pkg/logx"
)

// LogSink writes delivered messages to the structured log. It is the
// default sink when nothing else is configured, so a bare run still shows
// traffic.
type LogSink struct {
	log logx.Logger
}

func NewLogSink(log logx.Logger) *LogSink {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &LogSink{log: log}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Send(_ context.Context, m api.Message) error {
	s.log.Info("notification",
		logx.Int64("id", m.ID),
		logx.String("title", m.DisplayTitle()),
		logx.String("text", m.Text),
		logx.String("url", m.URL),
		logx.Int("priority", m.Priority),
		logx.String("icon", m.IconPath),
	)
	return nil
}
