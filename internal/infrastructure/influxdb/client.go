package influxdb

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-knxip/internal/infrastructure/config"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPingTimeout    = 5 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
)

// pointWriter is the subset of api.WriteAPI the client uses.
type pointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// pinger is the subset of influxdb2.Client used for health checks.
type pinger interface {
	Ping(ctx context.Context) (bool, error)
	Close()
}

// Options tune a Client beyond what the config file carries.
type Options struct {
	// Site, when set, tags every point with site=<Site>.
	Site string
	// OnError receives a *WriteError for each failed batch. It runs on
	// the write API's error goroutine.
	OnError func(err error)
}

// Client records bus telemetry. Writes never block: points are batched by
// the influxdb2 write API and failures surface through Options.OnError.
type Client struct {
	server  pinger
	writer  pointWriter
	onError func(error)

	closed   atomic.Bool
	failures atomic.Uint64
}

// Connect pings the server, then starts the batched write API. It returns
// ErrDisabled when telemetry is switched off.
func Connect(ctx context.Context, cfg config.InfluxDBConfig, opts Options) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	server := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, clientOptions(cfg, opts.Site))

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()
	if err := ping(pingCtx, server); err != nil {
		server.Close()
		return nil, fmt.Errorf("influxdb: connecting to %s: %w", cfg.URL, err)
	}

	writeAPI := server.WriteAPI(cfg.Org, cfg.Bucket)
	c := newClient(server, writeAPI, opts.OnError)
	go c.drainErrors(writeAPI.Errors())
	return c, nil
}

// clientOptions maps batch_size and flush_interval (seconds) onto the
// write API. Non-positive values fall back to the defaults.
func clientOptions(cfg config.InfluxDBConfig, site string) *influxdb2.Options {
	batch := uint(defaultBatchSize)
	if cfg.BatchSize > 0 {
		batch = uint(cfg.BatchSize)
	}
	flush := defaultFlushInterval
	if cfg.FlushInterval > 0 {
		flush = time.Duration(cfg.FlushInterval) * time.Second
	}

	opts := influxdb2.DefaultOptions().
		SetBatchSize(batch).
		SetFlushInterval(uint(flush.Milliseconds())).
		SetPrecision(time.Millisecond)
	if site != "" {
		opts.AddDefaultTag("site", site)
	}
	return opts
}

func newClient(server pinger, writer pointWriter, onError func(error)) *Client {
	return &Client{server: server, writer: writer, onError: onError}
}

func ping(ctx context.Context, p pinger) error {
	healthy, err := p.Ping(ctx)
	if err != nil {
		return err
	}
	if !healthy {
		return ErrUnhealthy
	}
	return nil
}

func (c *Client) drainErrors(errs <-chan error) {
	for err := range errs {
		c.failures.Add(1)
		if c.onError != nil {
			c.onError(&WriteError{Err: err})
		}
	}
}

// Close flushes pending points and closes the HTTP client. Safe on a nil
// client and idempotent.
func (c *Client) Close() error {
	if c == nil || c.server == nil || c.closed.Swap(true) {
		return nil
	}
	c.writer.Flush()
	c.server.Close()
	return nil
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrClosed
	}
	ctx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	if err := ping(ctx, c.server); err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	return nil
}

// IsConnected reports whether the client is open.
func (c *Client) IsConnected() bool {
	return c != nil && c.server != nil && !c.closed.Load()
}

// WriteFailures counts batches the write API failed to deliver.
func (c *Client) WriteFailures() uint64 {
	return c.failures.Load()
}

// Flush blocks until buffered points are written. No-op after Close.
func (c *Client) Flush() {
	if c.IsConnected() {
		c.writer.Flush()
	}
}
