package app

import (
	"github.com/coreos/go-systemd/v22/daemon"

	logx "countdownbot/pkg/logx"
)

// sdNotify is replaced in tests.
var sdNotify = daemon.SdNotify

// notifySystemd reports state to systemd. Outside a systemd unit
// (no NOTIFY_SOCKET) this is a no-op.
func notifySystemd(log logx.Logger, state string) {
	sent, err := sdNotify(false, state)
	switch {
	case err != nil:
		log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
	case sent:
		log.Debug("sd_notify sent", logx.String("state", state))
	}
}
