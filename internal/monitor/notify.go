package monitor

import (
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"netmon/pkg/logx"
)

// Notifier reports daemon lifecycle to a service manager.
type Notifier interface {
	Ready()
	Watchdog()
	Stopping()
}

// NopNotifier does nothing.
type NopNotifier struct{}

func (NopNotifier) Ready()    {}
func (NopNotifier) Watchdog() {}
func (NopNotifier) Stopping() {}

// SystemdNotifier speaks sd_notify over $NOTIFY_SOCKET. Outside systemd every
// call is a silent no-op.
type SystemdNotifier struct {
	log      logx.Logger
	watchdog time.Duration
}

func NewSystemdNotifier(log logx.Logger) *SystemdNotifier {
	n := &SystemdNotifier{log: log}
	if d, err := daemon.SdWatchdogEnabled(false); err != nil {
		log.Warn("systemd watchdog check failed", logx.Err(err))
	} else {
		n.watchdog = d
	}
	return n
}

// WatchdogInterval is the interval systemd expects pings at, 0 when disabled.
func (n *SystemdNotifier) WatchdogInterval() time.Duration { return n.watchdog }

func (n *SystemdNotifier) Ready() { n.send(daemon.SdNotifyReady) }

// Watchdog is sent after every health cycle that returns, failed or not.
// A cycle that hangs stops the pings and gets the unit restarted.
func (n *SystemdNotifier) Watchdog() {
	if n.watchdog > 0 {
		n.send(daemon.SdNotifyWatchdog)
	}
}

func (n *SystemdNotifier) Stopping() { n.send(daemon.SdNotifyStopping) }

func (n *SystemdNotifier) send(state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		n.log.Debug("sd_notify sent", logx.String("state", state))
	}
}
