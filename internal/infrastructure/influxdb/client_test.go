package influxdb

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-knxip/internal/infrastructure/config"
)

// ─── Fakes ─────────────────────────────────────────────────────────

type fakeWriter struct {
	mu      sync.Mutex
	points  []*write.Point
	flushes int
}

func (w *fakeWriter) WritePoint(p *write.Point) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.points = append(w.points, p)
}

func (w *fakeWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flushes++
}

type fakeServer struct {
	healthy bool
	err     error
	closed  int
}

func (s *fakeServer) Ping(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return s.healthy, s.err
}

func (s *fakeServer) Close() { s.closed++ }

func newTestClient() (*Client, *fakeWriter, *fakeServer) {
	w := &fakeWriter{}
	s := &fakeServer{healthy: true}
	return newClient(s, w, nil), w, s
}

func lineOf(p *write.Point) string {
	return write.PointToLineProtocol(p, time.Nanosecond)
}

// ─── Connection ────────────────────────────────────────────────────

func TestConnect_Disabled(t *testing.T) {
	_, err := Connect(context.Background(), config.InfluxDBConfig{Enabled: false}, Options{})
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	_, err := Connect(context.Background(), config.InfluxDBConfig{
		Enabled: true,
		URL:     "http://127.0.0.1:1",
		Token:   "token",
		Org:     "org",
		Bucket:  "bucket",
	}, Options{})
	if err == nil || errors.Is(err, ErrDisabled) {
		t.Fatalf("Connect() error = %v, want a connection error", err)
	}
	if !strings.Contains(err.Error(), "127.0.0.1:1") {
		t.Errorf("Connect() error = %q, want the URL", err)
	}
}

func TestHealthCheck(t *testing.T) {
	refused := errors.New("refused")
	tests := []struct {
		name    string
		healthy bool
		err     error
		want    error
	}{
		{name: "healthy", healthy: true},
		{name: "unhealthy", healthy: false, want: ErrUnhealthy},
		{name: "ping error", err: refused, want: refused},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _, s := newTestClient()
			s.healthy, s.err = tt.healthy, tt.err
			err := c.HealthCheck(context.Background())
			if tt.want == nil {
				if err != nil {
					t.Errorf("HealthCheck() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("HealthCheck() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestClose(t *testing.T) {
	c, w, s := newTestClient()

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
	if w.flushes != 1 || s.closed != 1 {
		t.Errorf("flushes = %d, closed = %d, want 1 and 1", w.flushes, s.closed)
	}

	// Second close and writes after close are no-ops.
	_ = c.Close()
	c.WriteTelegram(Telegram{Destination: "1/2/3"})
	c.Flush()
	if s.closed != 1 || len(w.points) != 0 || w.flushes != 1 {
		t.Error("client still active after Close()")
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("HealthCheck() after Close() = %v, want ErrClosed", err)
	}
}

func TestClose_Nil(t *testing.T) {
	var c *Client
	if err := c.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}
	if c.IsConnected() {
		t.Error("IsConnected() on nil client = true")
	}
}

func TestWriteErrorsReachCallback(t *testing.T) {
	got := make(chan error, 2)
	c := newClient(&fakeServer{healthy: true}, &fakeWriter{}, func(err error) { got <- err })

	bucket := errors.New("bucket not found")
	errs := make(chan error, 2)
	errs <- bucket
	errs <- errors.New("timeout")
	close(errs)
	c.drainErrors(errs)

	if n := c.WriteFailures(); n != 2 {
		t.Errorf("WriteFailures() = %d, want 2", n)
	}
	err := <-got
	var we *WriteError
	if !errors.As(err, &we) || !errors.Is(err, bucket) {
		t.Errorf("callback error = %v, want *WriteError wrapping %v", err, bucket)
	}
}

func TestWriteErrorsWithoutCallback(t *testing.T) {
	c, _, _ := newTestClient()
	errs := make(chan error, 1)
	errs <- errors.New("bucket not found")
	close(errs)
	c.drainErrors(errs)
	if n := c.WriteFailures(); n != 1 {
		t.Errorf("WriteFailures() = %d, want 1", n)
	}
}

func TestClientOptions(t *testing.T) {
	tests := []struct {
		name      string
		cfg       config.InfluxDBConfig
		site      string
		wantBatch uint
		wantFlush uint
		wantTags  map[string]string
	}{
		{
			name:      "defaults",
			wantBatch: defaultBatchSize,
			wantFlush: 10000,
			wantTags:  map[string]string{},
		},
		{
			name:      "configured",
			cfg:       config.InfluxDBConfig{BatchSize: 500, FlushInterval: 2},
			site:      "home",
			wantBatch: 500,
			wantFlush: 2000,
			wantTags:  map[string]string{"site": "home"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wo := clientOptions(tt.cfg, tt.site).WriteOptions()
			if wo.BatchSize() != tt.wantBatch {
				t.Errorf("BatchSize() = %d, want %d", wo.BatchSize(), tt.wantBatch)
			}
			if wo.FlushInterval() != tt.wantFlush {
				t.Errorf("FlushInterval() = %d, want %d", wo.FlushInterval(), tt.wantFlush)
			}
			if wo.Precision() != time.Millisecond {
				t.Errorf("Precision() = %v", wo.Precision())
			}
			tags := wo.DefaultTags()
			if len(tags) != len(tt.wantTags) || tags["site"] != tt.wantTags["site"] {
				t.Errorf("DefaultTags() = %v, want %v", tags, tt.wantTags)
			}
		})
	}
}

// ─── Points ────────────────────────────────────────────────────────

func TestWriteTelegram(t *testing.T) {
	at := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		tg    Telegram
		parts []string
		never []string
	}{
		{
			name: "temperature",
			tg: Telegram{
				Destination: "1/2/3", Source: "1.1.20", Service: "GroupValue_Write",
				DPT: "9.001", Value: 21.5, Raw: []byte{0x0c, 0x33}, Time: at,
			},
			parts: []string{"knx_telegram,", "dpt=9.001", "ga=1/2/3", "source=1.1.20", "value=21.5", `raw="0c33"`},
		},
		{
			name: "switch",
			tg:   Telegram{Destination: "0/0/1", Service: "GroupValue_Response", DPT: "1.001", Value: true, Raw: []byte{1}, Time: at},
			parts: []string{"bool=true", "service=GroupValue_Response"},
		},
		{
			name:  "integer widened to float",
			tg:    Telegram{Destination: "2/0/1", DPT: "7.001", Value: uint16(300), Raw: []byte{1, 44}, Time: at},
			parts: []string{"value=300"},
			never: []string{"300i"},
		},
		{
			name:  "string",
			tg:    Telegram{Destination: "3/0/1", DPT: "16.000", Value: "hello", Time: at},
			parts: []string{`text="hello"`},
		},
		{
			name:  "undecoded",
			tg:    Telegram{Destination: "4/0/1", Raw: []byte{0xff}, Time: at},
			parts: []string{`raw="ff"`},
			never: []string{"dpt=", "value=", "text="},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, w, _ := newTestClient()
			c.WriteTelegram(tt.tg)

			if len(w.points) != 1 {
				t.Fatalf("wrote %d points, want 1", len(w.points))
			}
			p := w.points[0]
			if p.Name() != MeasurementTelegram {
				t.Errorf("Name() = %q", p.Name())
			}
			line := lineOf(p)
			for _, part := range tt.parts {
				if !strings.Contains(line, part) {
					t.Errorf("line %q missing %q", line, part)
				}
			}
			for _, part := range tt.never {
				if strings.Contains(line, part) {
					t.Errorf("line %q contains %q", line, part)
				}
			}
		})
	}
}

func TestWriteTelegram_DefaultsTime(t *testing.T) {
	c, w, _ := newTestClient()
	before := time.Now()
	c.WriteTelegram(Telegram{Destination: "1/2/3", Raw: []byte{1}})

	if len(w.points) != 1 {
		t.Fatalf("wrote %d points, want 1", len(w.points))
	}
	if w.points[0].Time().Before(before) {
		t.Errorf("Time() = %v, want >= %v", w.points[0].Time(), before)
	}
}

func TestWriteLinkStats(t *testing.T) {
	c, w, _ := newTestClient()

	c.WriteLinkStats("tunneling", "idle", nil)
	if len(w.points) != 0 {
		t.Fatal("empty counters should not write a point")
	}

	c.WriteLinkStats("tunneling", "idle", map[string]uint64{"frames_rx": 12, "frames_tx": 3})
	if len(w.points) != 1 {
		t.Fatalf("wrote %d points, want 1", len(w.points))
	}
	line := lineOf(w.points[0])
	for _, part := range []string{"knx_link,", "mode=tunneling", "state=idle", "frames_rx=12", "frames_tx=3"} {
		if !strings.Contains(line, part) {
			t.Errorf("line %q missing %q", line, part)
		}
	}
}
