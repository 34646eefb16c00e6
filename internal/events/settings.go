package events

import (
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultHost keeps the stream on the loopback interface.
	DefaultHost = "127.0.0.1"
	// DefaultPort is used when events are streamed without an explicit port.
	DefaultPort = 8765
	// DefaultReadTimeout guards hung clients.
	DefaultReadTimeout = 15 * time.Second
	// DefaultIdleTimeout bounds keep-alive connections.
	DefaultIdleTimeout = 60 * time.Second
)

// Settings configures the HTTP event stream. There is no write timeout:
// /events responses stay open for the whole run.
type Settings struct {
	Enabled     bool
	Host        string
	Port        int
	ReadTimeout time.Duration
	IdleTimeout time.Duration
}

// ParseAddress builds enabled Settings from a host:port flag value. An empty
// host means DefaultHost; port 0 picks a free port.
func ParseAddress(addr string) (Settings, error) {
	s := Settings{Enabled: true}
	host, port, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return Settings{}, err
	}
	s.Host = host
	if s.Port, err = strconv.Atoi(port); err != nil || !isValidPort(s.Port, true) {
		return Settings{}, &net.AddrError{Err: "invalid port", Addr: addr}
	}
	s.normalize()
	return s, nil
}

// SettingsFromEnv returns base with COUNCIL_EVENTS_* overrides applied.
func SettingsFromEnv(base Settings) Settings {
	s := base
	if value := strings.TrimSpace(os.Getenv("COUNCIL_EVENTS_ENABLED")); value != "" {
		if enabled, err := strconv.ParseBool(value); err == nil {
			s.Enabled = enabled
		}
	}
	if host := strings.TrimSpace(os.Getenv("COUNCIL_EVENTS_HOST")); host != "" {
		s.Host = host
	}
	if port := strings.TrimSpace(os.Getenv("COUNCIL_EVENTS_PORT")); port != "" {
		if parsed, err := strconv.Atoi(port); err == nil && isValidPort(parsed, true) {
			s.Port = parsed
		}
	}
	s.normalize()
	return s
}

func (s *Settings) normalize() {
	s.Host = strings.TrimSpace(s.Host)
	if s.Host == "" {
		s.Host = DefaultHost
	}
	if !isValidPort(s.Port, true) {
		s.Port = DefaultPort
	}
	if s.ReadTimeout <= 0 {
		s.ReadTimeout = DefaultReadTimeout
	}
	if s.IdleTimeout <= 0 {
		s.IdleTimeout = DefaultIdleTimeout
	}
}

// Address returns the TCP bind address in host:port form.
func (s Settings) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

func isValidPort(port int, allowZero bool) bool {
	if port == 0 {
		return allowZero
	}
	return port > 0 && port <= 65535
}
