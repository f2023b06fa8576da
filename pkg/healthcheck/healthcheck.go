// Package healthcheck polls service endpoints until they are ready.
//
// Every endpoint is polled by its own goroutine at a fixed interval until its
// expectation holds or its timeout expires. One slow endpoint never delays
// the verdict on another, and WaitReady returns within timeout + interval.
package healthcheck

import (
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	cerr "github.com/cockroachdb/errors"
)

// Protocol of a health check.
type Protocol string

const (
	TCP  Protocol = "tcp"
	HTTP Protocol = "http"
)

// Observation is what a single probe saw. For TCP checks only a successful
// connect is observed.
type Observation struct {
	StatusCode int
	Body       []byte
}

// Expectation returns nil when the observation means ready.
type Expectation func(Observation) error

// HealthCheck describes one endpoint.
type HealthCheck struct {
	Service  string
	Protocol Protocol
	Host     string
	Port     int
	Path     string
	Expect   Expectation
}

// Address is host:port.
func (h HealthCheck) Address() string {
	return net.JoinHostPort(h.Host, strconv.Itoa(h.Port))
}

// URL is the probed URL for HTTP checks.
func (h HealthCheck) URL() string {
	path := h.Path
	if path == "" {
		path = "/"
	}
	return "http://" + h.Address() + path
}

func (h HealthCheck) String() string {
	if h.Protocol == HTTP {
		return h.Service + " " + h.URL()
	}
	return h.Service + " tcp://" + h.Address()
}

// StatusBelow accepts any HTTP status lower than code.
func StatusBelow(code int) Expectation {
	return func(o Observation) error {
		if o.StatusCode >= code {
			return cerr.Newf("unexpected HTTP status %d", o.StatusCode)
		}
		return nil
	}
}

// Never is an expectation that is never met.
func Never(reason string) Expectation {
	return func(Observation) error { return cerr.New(reason) }
}

type prober struct {
	dialer *net.Dialer
	client *http.Client
}

func (p *prober) probe(ctx context.Context, hc HealthCheck) error {
	switch hc.Protocol {
	case HTTP:
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, hc.URL(), nil)
		if err != nil {
			return cerr.Wrap(err, "build request")
		}
		resp, err := p.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		obs := Observation{StatusCode: resp.StatusCode, Body: body}
		if hc.Expect == nil {
			return StatusBelow(500)(obs)
		}
		return hc.Expect(obs)

	case TCP, "":
		conn, err := p.dialer.DialContext(ctx, "tcp", hc.Address())
		if err != nil {
			return err
		}
		_ = conn.Close()
		if hc.Expect != nil {
			return hc.Expect(Observation{})
		}
		return nil

	default:
		return cerr.Newf("unsupported protocol %q", hc.Protocol)
	}
}

func newProber() *prober {
	return &prober{
		dialer: &net.Dialer{},
		client: &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// attemptTimeout caps a single probe so a hung connect cannot consume more
// than one polling interval.
func attemptTimeout(interval time.Duration) time.Duration {
	if interval < time.Second {
		return time.Second
	}
	return interval
}
