package port

import (
	"net"
	"strconv"
)

// Prober reports whether a host port is free to bind. The allocator
// depends on this interface so tests can simulate occupied ports without
// holding real sockets.
type Prober interface {
	Available(port int) bool
}

// ProberFunc adapts a plain function to the Prober interface.
type ProberFunc func(port int) bool

// Available calls f(port).
func (f ProberFunc) Available(port int) bool { return f(port) }

// Scanner checks port availability by asking the operating system
// directly: it binds a TCP listener on host:port and releases it
// immediately. A successful bind means no other process holds the port at
// that instant.
//
// Asking the OS is more reliable than parsing /proc/net/* or shelling out
// to `lsof` or `ss`, which may need elevated permissions and differ
// between platforms.
//
// The probe only covers TCP. Every service a template publishes is an
// HTTP, database or mail endpoint, so compose never binds a UDP port for
// a devlauncher project.
type Scanner struct {
	host string
}

// NewScanner creates a Scanner probing the given host address.
//
// An empty host probes the loopback interface. Compose publishes
// devlauncher ports on 127.0.0.1, and the probe must look at the same
// address: a process listening on 0.0.0.0 still makes a loopback bind
// fail, while one bound to another interface does not conflict with us.
func NewScanner(host string) *Scanner {
	if host == "" {
		host = "127.0.0.1"
	}
	return &Scanner{host: host}
}

// Available implements Prober.
//
// The listener is closed before returning, so the answer can be stale by
// the time compose binds the port. The allocator's reservation set
// covers ports handed to other projects; a foreign process racing us
// for the port surfaces as a failed `up`.
func (s *Scanner) Available(port int) bool {
	if port < 1 || port > 65535 {
		return false
	}
	listener, err := net.Listen("tcp", net.JoinHostPort(s.host, strconv.Itoa(port)))
	if err != nil {
		// Typically "address already in use".
		return false
	}
	_ = listener.Close()
	return true
}
