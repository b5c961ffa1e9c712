// Package statsd wraps the datadog statsd client and exposes it as the update loop's profiler.
package statsd

import (
	"time"

	ddstatsd "github.com/DataDog/datadog-go/v5/statsd"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// Timer is a running measurement started by Profiler.Start.
type Timer interface {
	Stop()
}

// Profiler times named sections of a tick and counts notable events.
type Profiler interface {
	Start(name string, tags ...string) Timer
	Count(name string, value int64, tags ...string)
}

var _ Profiler = (*Client)(nil)
var _ Profiler = NoOp{}

// Client emits tick timings to statsd.
type Client struct {
	client ddstatsd.ClientInterface
	logger zerolog.Logger
}

// New dials the statsd agent at address. All metric names are prefixed with "ensemble.".
func New(address string, tags []string, logger zerolog.Logger) (*Client, error) {
	if address == "" {
		return nil, eris.New("address must not be empty")
	}
	opts := []ddstatsd.Option{
		ddstatsd.WithNamespace("ensemble."),
	}
	if len(tags) > 0 {
		opts = append(opts, ddstatsd.WithTags(tags))
	}
	c, err := ddstatsd.New(address, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "failed to create statsd client")
	}
	return &Client{client: c, logger: logger}, nil
}

// NewWithClient wraps an existing statsd client, e.g. a mock in tests.
func NewWithClient(client ddstatsd.ClientInterface, logger zerolog.Logger) *Client {
	return &Client{client: client, logger: logger}
}

func (c *Client) Start(name string, tags ...string) Timer {
	return &timer{client: c, name: name, tags: tags, start: time.Now()}
}

// Count emits a counter.
func (c *Client) Count(name string, value int64, tags ...string) {
	if err := c.client.Count(name, value, tags, 1); err != nil {
		c.logger.Warn().Err(err).Msg("failed to emit count stat")
	}
}

func (c *Client) Close() error {
	return eris.Wrap(c.client.Close(), "failed to close statsd client")
}

type timer struct {
	client *Client
	name   string
	tags   []string
	start  time.Time
}

func (t *timer) Stop() {
	if err := t.client.client.Timing("tick", time.Since(t.start), append(append([]string(nil), t.tags...), "stage:"+t.name), 1); err != nil {
		t.client.logger.Warn().Err(err).Msgf("failed to emit tick stat for %s", t.name)
	}
}

// NoOp discards all measurements. It is used when profiling is disabled.
type NoOp struct{}

func (NoOp) Start(string, ...string) Timer {
	return noopTimer{}
}

func (NoOp) Count(string, int64, ...string) {}

type noopTimer struct{}

func (noopTimer) Stop() {}
