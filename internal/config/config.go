package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/multierr"
)

const (
	// DevPushURL is where a locally running game server exposes its push
	// endpoint.
	DevPushURL = "http://localhost:8080/ws"

	pushPath = "/ws"
	apiPath  = "/api"
)

var ErrNoEndpoint = errors.New("no origin or explicit endpoint configured")

type Config struct {
	// Origin is the site the game is served from, e.g. https://party.example.com.
	Origin  string
	PushURL string
	APIURL  string

	RoomCode   string
	PlayerID   string
	PlayerName string
	AdminToken string
	Create     bool
	GameMode   string

	Backoff       string
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
	HeartBeat     time.Duration
	FetchTimeout  time.Duration

	StatusAddr string
	JournalDSN string
	QR         bool
	Verbose    bool
}

func Default() Config {
	return Config{
		Origin:        "http://localhost:8080",
		GameMode:      "TRUTH_AND_DARE",
		Backoff:       "constant",
		RetryDelay:    5 * time.Second,
		MaxRetryDelay: time.Minute,
		HeartBeat:     4 * time.Second,
		FetchTimeout:  10 * time.Second,
	}
}

func (c Config) Validate() error {
	var errs error
	if c.Origin == "" && (c.PushURL == "" || c.APIURL == "") {
		errs = multierr.Append(errs, ErrNoEndpoint)
	}
	if !c.Create && strings.TrimSpace(c.RoomCode) == "" {
		errs = multierr.Append(errs, errors.New("either --room or --create is required"))
	}
	if c.Create && strings.TrimSpace(c.RoomCode) != "" {
		errs = multierr.Append(errs, errors.New("--room and --create are mutually exclusive"))
	}
	switch c.Backoff {
	case "constant", "exponential":
	default:
		errs = multierr.Append(errs, fmt.Errorf("invalid backoff %q (want constant or exponential)", c.Backoff))
	}
	if c.RetryDelay <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("retry delay must be positive: %s", c.RetryDelay))
	}
	if c.Backoff == "exponential" && c.MaxRetryDelay < c.RetryDelay {
		errs = multierr.Append(errs, fmt.Errorf("max retry delay %s is below retry delay %s", c.MaxRetryDelay, c.RetryDelay))
	}
	if c.HeartBeat < 0 || c.FetchTimeout < 0 {
		errs = multierr.Append(errs, errors.New("durations must not be negative"))
	}
	return errs
}

// NewBackoff builds the reconnect policy; call it once per session.
func (c Config) NewBackoff() backoff.BackOff {
	if c.Backoff == "exponential" {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = c.RetryDelay
		b.MaxInterval = c.MaxRetryDelay
		return b
	}
	return backoff.NewConstantBackOff(c.RetryDelay)
}

// ResolvePushURL picks the push endpoint: override first, then devDefault when
// origin is a local host, then the origin's own /ws. SockJS-style http(s)
// endpoints are turned into the raw websocket URL the server also serves.
func ResolvePushURL(override, devDefault, origin string) (string, error) {
	raw := override
	if raw == "" {
		if origin == "" {
			return "", ErrNoEndpoint
		}
		o, err := parseHTTP(origin)
		if err != nil {
			return "", fmt.Errorf("origin: %w", err)
		}
		if isLocal(o.Hostname()) && devDefault != "" {
			raw = devDefault
		} else {
			o.Path = pushPath
			o.RawQuery, o.Fragment = "", ""
			raw = o.String()
		}
	}
	return websocketURL(raw)
}

// ResolveAPIURL returns override, or origin's /api.
func ResolveAPIURL(override, origin string) (string, error) {
	if override != "" {
		if _, err := parseHTTP(override); err != nil {
			return "", fmt.Errorf("api url: %w", err)
		}
		return strings.TrimRight(override, "/"), nil
	}
	if origin == "" {
		return "", ErrNoEndpoint
	}
	o, err := parseHTTP(origin)
	if err != nil {
		return "", fmt.Errorf("origin: %w", err)
	}
	o.Path = apiPath
	o.RawQuery, o.Fragment = "", ""
	return o.String(), nil
}

// JoinLink is the URL a player opens to join code.
func JoinLink(origin, code string) string {
	return strings.TrimRight(origin, "/") + "/?room=" + url.QueryEscape(code)
}

func websocketURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", fmt.Errorf("push url %q has no host", raw)
	}
	switch u.Scheme {
	case "ws", "wss":
		return u.String(), nil
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("push url %q: unsupported scheme %q", raw, u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/websocket"
	return u.String(), nil
}

func parseHTTP(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%q is not an http(s) url", raw)
	}
	return u, nil
}

func isLocal(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
