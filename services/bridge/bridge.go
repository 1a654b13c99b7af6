// bridge/bridge.go
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"bringup-go/bus"
	"bringup-go/x/timex"
)

// -----------------------------------------------------------------------------
// Public entry point
// -----------------------------------------------------------------------------

var (
	TopicConfig = bus.T("config", "bridge")
	TopicState  = bus.T("bridge", "state")
)

// DefaultMatch is exported when the configuration names no pattern.
const DefaultMatch = "bringup/#"

// Start starts the bridge service. It blocks until ctx is cancelled.
// It listens for JSON config on topic {"config","bridge"} and (re)configures
// the export link. Every message matching the configured pattern is written
// to the link as one JSON line.
func Start(ctx context.Context, conn *bus.Connection) {
	s := &Service{
		conn:       conn,
		stateTopic: TopicState,
	}
	s.run(ctx)
}

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Config is the JSON-encoded configuration expected on "config/bridge".
type Config struct {
	Transport TransportConfig `json:"transport"`
	Match     string          `json:"match,omitempty"` // topic pattern, "/"-separated; default DefaultMatch
}

type TransportConfig struct {
	// "file", "tcp" or other names registered via RegisterTransport.
	Type string `json:"type"`
	Path string `json:"path,omitempty"` // file: appended to, created if missing
	Addr string `json:"addr,omitempty"` // tcp: host:port
}

// ParseTarget turns "file:/var/log/x.jsonl" or "tcp:host:port" into a
// Config.
func ParseTarget(s string) (Config, error) {
	typ, rest, ok := strings.Cut(s, ":")
	if !ok || rest == "" {
		return Config{}, fmt.Errorf("export target %q: want type:destination", s)
	}
	tc := TransportConfig{Type: typ}
	switch typ {
	case "file":
		tc.Path = rest
	case "tcp":
		tc.Addr = rest
	default:
		tc.Path = rest
	}
	return Config{Transport: tc}, nil
}

// matchTopic splits a "/"-separated pattern into a bus topic.
func matchTopic(pattern string) bus.Topic {
	if pattern == "" {
		pattern = DefaultMatch
	}
	parts := strings.Split(pattern, "/")
	toks := make([]any, len(parts))
	for i, p := range parts {
		toks[i] = p
	}
	return bus.T(toks...)
}

// -----------------------------------------------------------------------------
// Service
// -----------------------------------------------------------------------------

type Service struct {
	conn       *bus.Connection
	stateTopic bus.Topic

	mu     sync.Mutex
	curRun context.CancelFunc
	curCfg atomic.Value // stores Config
	links  sync.WaitGroup
}

// run waits for config and supervises a single link instance.
func (s *Service) run(ctx context.Context) {
	cfgSub := s.conn.Subscribe(TopicConfig)
	defer s.conn.Unsubscribe(cfgSub)

	s.publishState("idle", "awaiting_config", nil)

	for {
		select {
		case <-ctx.Done():
			s.stopCurrent()
			s.links.Wait()
			return
		case msg, ok := <-cfgSub.Channel():
			if !ok {
				s.publishState("error", "config_subscription_closed", nil)
				return
			}
			cfg, err := decodeConfig(msg.Payload)
			if err != nil {
				s.publishState("error", "config_decode_failed", err)
				continue
			}
			s.reconfigure(ctx, cfg)
		}
	}
}

func (s *Service) stopCurrent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.curRun != nil {
		s.curRun()
		s.curRun = nil
	}
}

func (s *Service) reconfigure(parent context.Context, cfg Config) {
	s.mu.Lock()
	// Cancel any existing run.
	if s.curRun != nil {
		s.curRun()
		s.curRun = nil
	}
	ctx, cancel := context.WithCancel(parent)
	s.curRun = cancel
	s.mu.Unlock()

	s.curCfg.Store(cfg)
	tr, err := newTransport(cfg.Transport)
	if err != nil {
		s.publishState("error", "transport_init_failed", err)
		return
	}
	// Subscribe before the link is up so nothing published meanwhile is lost.
	sub := s.conn.Subscribe(matchTopic(cfg.Match))
	s.links.Add(1)
	go func() {
		defer s.links.Done()
		defer s.conn.Unsubscribe(sub)
		s.runLink(ctx, tr, sub)
	}()
}

// -----------------------------------------------------------------------------
// Link supervision and I/O
// -----------------------------------------------------------------------------

func (s *Service) runLink(ctx context.Context, tr Transport, sub *bus.Subscription) {
	backoff := backoffSeq(250*time.Millisecond, 5*time.Second)
	var pending *bus.Message
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		wc, err := tr.Open(ctx)
		if err != nil {
			delay := backoff()
			s.publishState("degraded", "dial_failed_retrying", fmt.Errorf("%v (retry in %s)", err, delay))
			if !sleep(ctx, delay) {
				return
			}
			continue
		}

		s.publishState("up", "link_established", nil)
		pending, err = s.handleLink(ctx, wc, sub, pending)
		_ = wc.Close()
		if err != nil {
			delay := backoff()
			s.publishState("degraded", "link_lost_retrying", fmt.Errorf("%v (retry in %s)", err, delay))
			if !sleep(ctx, delay) {
				return
			}
			continue
		}
		return
	}
}

// handleLink forwards matching messages until ctx ends or a write fails. The
// message that failed is handed back so the next link sends it first.
func (s *Service) handleLink(ctx context.Context, w io.Writer, sub *bus.Subscription, pending *bus.Message) (*bus.Message, error) {
	enc := json.NewEncoder(w)
	if pending != nil {
		if err := enc.Encode(toLine(pending)); err != nil {
			return pending, err
		}
	}
	for {
		select {
		case <-ctx.Done():
			return nil, drain(enc, sub)
		case m, ok := <-sub.Channel():
			if !ok {
				return nil, nil
			}
			if err := enc.Encode(toLine(m)); err != nil {
				return m, err
			}
		}
	}
}

// drain writes whatever is already queued so a shutdown right after the last
// publish still exports it.
func drain(enc *json.Encoder, sub *bus.Subscription) error {
	for {
		select {
		case m, ok := <-sub.Channel():
			if !ok {
				return nil
			}
			if err := enc.Encode(toLine(m)); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// Line is one exported message.
type Line struct {
	Topic    string `json:"topic"`
	Retained bool   `json:"retained,omitempty"`
	TS       int64  `json:"ts_ms"`
	Payload  any    `json:"payload"`
}

func toLine(m *bus.Message) Line {
	return Line{Topic: m.Topic.String(), Retained: m.Retained, TS: timex.NowMs(), Payload: m.Payload}
}

// -----------------------------------------------------------------------------
// Transport registry
// -----------------------------------------------------------------------------

// Transport is a pluggable link dialler/owner.
type Transport interface {
	Open(ctx context.Context) (io.WriteCloser, error)
	String() string
}

type transportFactory func(TransportConfig) (Transport, error)

var (
	regMu    sync.RWMutex
	registry = map[string]transportFactory{}
)

// RegisterTransport allows external packages to add transports.
func RegisterTransport(name string, f transportFactory) {
	regMu.Lock()
	defer regMu.Unlock()
	registry[name] = f
}

func newTransport(cfg TransportConfig) (Transport, error) {
	regMu.RLock()
	f, ok := registry[cfg.Type]
	regMu.RUnlock()
	if ok {
		return f(cfg)
	}
	switch cfg.Type {
	case "file":
		if cfg.Path == "" {
			return nil, errors.New("file transport requires a path")
		}
		return fileTransport{path: cfg.Path}, nil
	case "tcp":
		if cfg.Addr == "" {
			return nil, errors.New("tcp transport requires an address")
		}
		return tcpTransport{addr: cfg.Addr}, nil
	default:
		return nil, fmt.Errorf("unknown transport type: %q", cfg.Type)
	}
}

type fileTransport struct{ path string }

func (f fileTransport) Open(context.Context) (io.WriteCloser, error) {
	return os.OpenFile(f.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
}

func (f fileTransport) String() string { return "file:" + f.path }

type tcpTransport struct{ addr string }

func (t tcpTransport) Open(ctx context.Context) (io.WriteCloser, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", t.addr)
}

func (t tcpTransport) String() string { return "tcp:" + t.addr }

// -----------------------------------------------------------------------------
// Utilities
// -----------------------------------------------------------------------------

func decodeConfig(p any) (Config, error) {
	var cfg Config
	switch v := p.(type) {
	case Config:
		return v, nil
	case []byte:
		if err := json.Unmarshal(v, &cfg); err != nil {
			return cfg, err
		}
	case string:
		if err := json.Unmarshal([]byte(v), &cfg); err != nil {
			return cfg, err
		}
	case map[string]any:
		// Already a decoded object; re-marshal for simplicity.
		b, err := json.Marshal(v)
		if err != nil {
			return cfg, err
		}
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config payload type: %T", p)
	}
	return cfg, nil
}

func (s *Service) publishState(level, status string, err error) {
	payload := map[string]any{
		"level":  level,  // "up", "degraded", "error", "idle"
		"status": status, // short machine string
		"ts_ms":  timex.NowMs(),
	}
	if err != nil {
		payload["error"] = err.Error()
	}
	msg := s.conn.NewMessage(s.stateTopic, payload, true)
	s.conn.Publish(msg)
}

func backoffSeq(min, max time.Duration) func() time.Duration {
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	if max < min {
		max = min
	}
	var cur = min
	return func() time.Duration {
		d := cur
		cur *= 2
		if cur > max {
			cur = max
		}
		return d
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
