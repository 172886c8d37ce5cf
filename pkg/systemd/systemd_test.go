package systemd

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

func listenNotify(t *testing.T) *net.UnixConn {
	t.Helper()
	path := filepath.Join(t.TempDir(), "notify.sock")
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	t.Setenv("NOTIFY_SOCKET", path)
	return conn
}

func read(t *testing.T, conn *net.UnixConn) string {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(buf[:n])
}

func TestNotifyWithoutSocketIsNoop(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	if sent, err := Ready(); sent || err != nil {
		t.Fatalf("sent=%v err=%v", sent, err)
	}
	if err := Watchdog(context.Background(), nil); err != nil {
		t.Fatalf("watchdog without env: %v", err)
	}
}

func TestNotifyStates(t *testing.T) {
	conn := listenNotify(t)

	if sent, err := Ready(); !sent || err != nil {
		t.Fatalf("ready: sent=%v err=%v", sent, err)
	}
	if got := read(t, conn); got != "READY=1" {
		t.Fatalf("ready payload %q", got)
	}
	if _, err := Status("3 schedules"); err != nil {
		t.Fatalf("status: %v", err)
	}
	if got := read(t, conn); got != "STATUS=3 schedules" {
		t.Fatalf("status payload %q", got)
	}
	if _, err := Stopping(); err != nil {
		t.Fatalf("stopping: %v", err)
	}
	if got := read(t, conn); got != "STOPPING=1" {
		t.Fatalf("stopping payload %q", got)
	}
}

func TestWatchdogPingsWhileHealthy(t *testing.T) {
	conn := listenNotify(t)
	t.Setenv("WATCHDOG_USEC", "100000")
	t.Setenv("WATCHDOG_PID", strconv.Itoa(os.Getpid()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Watchdog(ctx, func() bool { return true }) }()

	if got := read(t, conn); got != "WATCHDOG=1" {
		t.Fatalf("watchdog payload %q", got)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("watchdog: %v", err)
	}
}
