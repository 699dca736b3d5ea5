package main

import (
	"errors"
	"fmt"
	"net"
	"os"
)

var errNoNotifySocket = errors.New("NOTIFY_SOCKET not set, skipping systemd notify")

// sdNotify sends one state line (READY=1, STOPPING=1, STATUS=...) to the
// systemd notify socket. It fails with errNoNotifySocket when the process
// was not started by systemd with Type=notify.
func sdNotify(state string) error {
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return errNoNotifySocket
	}
	// abstract namespace sockets are announced with a leading @
	if addr[0] == '@' {
		addr = "\x00" + addr[1:]
	}
	conn, err := net.Dial("unixgram", addr) //nolint:gosec,noctx // addr comes from systemd, unixgram dial has no context variant
	if err != nil {
		return fmt.Errorf("systemd notify %s: dial failed: %w", state, err)
	}
	defer func() { _ = conn.Close() }()
	if _, err := conn.Write([]byte(state)); err != nil {
		return fmt.Errorf("systemd notify %s: write failed: %w", state, err)
	}
	return nil
}
