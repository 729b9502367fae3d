// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package systemd signals readiness and watchdog pings of the serve mode to
// systemd.
package systemd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.astrophena.name/newsdigest/internal/logger"
)

// State is a sd_notify protocol state.
// See https://www.freedesktop.org/software/systemd/man/sd_notify.html.
type State string

const (
	// Ready tells the service manager that startup is finished.
	Ready State = "READY=1"
	// Stopping tells the service manager that the service is shutting down.
	Stopping State = "STOPPING=1"
	// Watchdog updates the watchdog timestamp.
	Watchdog State = "WATCHDOG=1"
)

// Status returns a state that sets the free-form status shown by systemctl.
func Status(s string) State { return State("STATUS=" + s) }

// Notify sends state to the socket named by NOTIFY_SOCKET. It does nothing
// outside of systemd. Failures are logged.
func Notify(ctx context.Context, getenv func(string) string, state State) {
	addr := &net.UnixAddr{Net: "unixgram", Name: getenv("NOTIFY_SOCKET")}
	if addr.Name == "" {
		return
	}

	log := logger.Get(ctx)
	conn, err := net.DialUnix(addr.Net, nil, addr)
	if err != nil {
		log.Warn("systemd notify failed", "state", state, "error", err)
		return
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(state)); err != nil {
		log.Warn("systemd notify failed", "state", state, "error", err)
	}
}

// WatchdogLoop pings the watchdog at the interval of WATCHDOG_USEC until ctx
// is done. It returns at once if the watchdog is not enabled.
func WatchdogLoop(ctx context.Context, getenv func(string) string) {
	usec := getenv("WATCHDOG_USEC")
	if usec == "" {
		return
	}

	interval, err := watchdogInterval(usec)
	if err != nil {
		logger.Get(ctx).Error("systemd watchdog disabled", "error", err)
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			Notify(ctx, getenv, Watchdog)
		case <-ctx.Done():
			return
		}
	}
}

// watchdogInterval halves the configured timeout, as sd_watchdog_enabled(3)
// recommends.
func watchdogInterval(usec string) (time.Duration, error) {
	n, err := strconv.Atoi(usec)
	if err != nil {
		return 0, fmt.Errorf("parsing WATCHDOG_USEC: %w", err)
	}
	if n <= 0 {
		return 0, errors.New("WATCHDOG_USEC must be a positive number")
	}
	return time.Duration(n) * time.Microsecond / 2, nil
}
