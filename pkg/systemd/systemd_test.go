package systemd

import (
	"context"
	"testing"

	logx "taskgate/pkg/logx"
)

// Outside a notify-type unit NOTIFY_SOCKET is unset, so every call reports
// "not sent" without error.
func TestNoopWithoutNotifySocket(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	t.Setenv("WATCHDOG_USEC", "")

	for name, fn := range map[string]func() (bool, error){
		"ready":     func() (bool, error) { return Ready("up") },
		"reloading": Reloading,
		"stopping":  func() (bool, error) { return Stopping("bye") },
		"status":    func() (bool, error) { return Status("idle") },
	} {
		sent, err := fn()
		if sent || err != nil {
			t.Errorf("%s = %v, %v", name, sent, err)
		}
	}
	if err := Watchdog(context.Background(), logx.Nop()); err != nil {
		t.Errorf("Watchdog = %v", err)
	}
}
