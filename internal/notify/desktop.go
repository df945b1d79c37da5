package notify

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"pullover/internal/api"
	logx "pullover/pkg/logx"
)

// DesktopSink renders messages through notify-send, which reaches any
// libnotify-compatible desktop daemon without linking a UI toolkit.
type DesktopSink struct {
	// Command overrides the binary, mainly for tests. Empty means
	// "notify-send".
	Command string

	// AppName is reported to the desktop daemon as the sending application.
	AppName string

	log logx.Logger
}

func NewDesktopSink(appName string, log logx.Logger) *DesktopSink {
	if strings.TrimSpace(appName) == "" {
		appName = "Pullover"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &DesktopSink{AppName: appName, log: log}
}

func (s *DesktopSink) Name() string { return "desktop" }

func (s *DesktopSink) Send(ctx context.Context, m api.Message) error {
	bin := s.Command
	if bin == "" {
		bin = "notify-send"
	}

	args := []string{
		"--app-name", s.AppName,
		"--urgency", urgencyFor(m.Priority),
	}
	if m.IconPath != "" {
		args = append(args, "--icon", m.IconPath)
	}
	args = append(args, m.DisplayTitle(), renderBody(m))

	cmd := exec.CommandContext(ctx, bin, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("desktop sink: %s: %w (%s)", bin, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func urgencyFor(priority int) string {
	switch {
	case priority < 0:
		return "low"
	case priority > 0:
		return "critical"
	default:
		return "normal"
	}
}

// renderBody appends the message URL as "body [url]", preferring the url
// title when given.
func renderBody(m api.Message) string {
	body := m.Text
	if m.URL == "" {
		return body
	}
	label := m.URL
	if m.URLTitle != "" {
		label = m.URLTitle + ": " + m.URL
	}
	return body + " [" + label + "]"
}
