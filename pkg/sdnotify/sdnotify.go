// Package sdnotify reports daemon state to systemd when running under a
// Type=notify unit. Every function is a silent no-op outside systemd
// (no NOTIFY_SOCKET in the environment).
package sdnotify

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "pullover/pkg/logx"
)

// Ready signals startup completion. Returns false when not under systemd.
func Ready() bool {
	ok, _ := daemon.SdNotify(false, daemon.SdNotifyReady)
	return ok
}

// Stopping signals the beginning of shutdown.
func Stopping() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
}

// Status publishes a one-line human-readable state.
func Status(msg string) {
	_, _ = daemon.SdNotify(false, "STATUS="+msg)
}

// Watchdog keeps the systemd watchdog fed until ctx is canceled. It returns
// immediately when the unit has no WatchdogSec configured.
func Watchdog(ctx context.Context, log logx.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		return fmt.Errorf("sdnotify: watchdog query: %w", err)
	}
	if interval == 0 {
		return nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	// Feed at half the configured interval, the conventional margin.
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	log.Debug("systemd watchdog enabled", logx.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}
