package bringup

import (
	"context"
	"sync"

	"github.com/go-logr/logr"

	"bringup-go/bus"
	"bringup-go/drivers/cfgstream"
	"bringup-go/drivers/guard"
	"bringup-go/drivers/liveness"
	"bringup-go/errcode"
	"bringup-go/types"
	"bringup-go/x/ring"
	"bringup-go/x/timex"
)

var (
	TopicConfig  = bus.T("config", "bringup")
	TopicState   = bus.T("bringup", "state")
	TopicReport  = bus.T("bringup", "report")
	TopicControl = bus.T("bringup", "control", "+")
)

// Control methods accepted on bringup/control/<method>.
const (
	CtrlAbort   = "abort"
	CtrlStatus  = "status"
	CtrlHistory = "history"
)

// HistorySize is how many records the service keeps for CtrlHistory.
const HistorySize = 256

// TopicEvent is where records of kind are published.
func TopicEvent(kind types.EventKind) bus.Topic { return bus.T("bringup", "event", string(kind)) }

// Device is an opened target: the stream source plus both register windows.
type Device struct {
	Stream  cfgstream.Source
	Control guard.RegisterIO
	Data    liveness.Reader
	Close   func() error // may be nil
}

// Platform opens the device a configuration names.
type Platform interface {
	Open(cfg types.BringupConfig) (*Device, error)
}

// PlatformFunc adapts a function to Platform.
type PlatformFunc func(cfg types.BringupConfig) (*Device, error)

func (f PlatformFunc) Open(cfg types.BringupConfig) (*Device, error) { return f(cfg) }

// Service waits for a configuration on config/bringup, runs one session per
// configuration and publishes records, state and the final report.
type Service struct {
	conn *bus.Connection
	plat Platform
	log  logr.Logger
	opts []Option

	mu      sync.Mutex
	sup     *Supervisor
	state   types.SessionState
	history *ring.Ring[types.Record]
}

type outcome struct {
	rep *Report
	err error
}

// NewService binds a bus connection and platform. opts are passed to every
// supervisor the service builds.
func NewService(conn *bus.Connection, plat Platform, log logr.Logger, opts ...Option) *Service {
	return &Service{conn: conn, plat: plat, log: log, opts: opts, history: ring.New[types.Record](HistorySize)}
}

func (s *Service) Run(ctx context.Context) {
	cfgSub := s.conn.Subscribe(TopicConfig)
	ctrlSub := s.conn.Subscribe(TopicControl)
	defer s.conn.Unsubscribe(cfgSub)
	defer s.conn.Unsubscribe(ctrlSub)

	s.publishState(func(st *types.SessionState) { st.Level, st.Status = "idle", "awaiting_config" })

	done := make(chan outcome, 1)
	running := false

	for {
		select {
		case <-ctx.Done():
			if running {
				s.finish(<-done)
			}
			s.publishState(func(st *types.SessionState) { st.Level, st.Status = "stopped", "context_cancelled" })
			return

		case msg, ok := <-cfgSub.Channel():
			if !ok {
				// The session still owns the device; let it end and report.
				if running {
					s.finish(<-done)
				}
				return
			}
			cfg, ok := msg.Payload.(types.BringupConfig)
			if !ok {
				s.publishState(func(st *types.SessionState) { st.Level, st.Status = "error", "config_wrong_type" })
				continue
			}
			if running {
				s.publishState(func(st *types.SessionState) { st.Status = string(errcode.Busy) })
				continue
			}
			sup, closeDev, err := s.prepare(cfg)
			if err != nil {
				s.log.Error(err, "bring-up not started", "device", cfg.Device)
				s.publishState(func(st *types.SessionState) { st.Level, st.Status = "error", string(errcode.Of(err)) })
				continue
			}
			running = true
			s.history.Reset()
			s.mu.Lock()
			s.sup = sup
			s.mu.Unlock()
			s.publishState(func(st *types.SessionState) {
				*st = types.SessionState{Level: "running", Status: "started"}
			})
			go func() {
				rep, err := sup.Run(ctx)
				if closeDev != nil {
					if cerr := closeDev(); cerr != nil {
						s.log.Error(cerr, "closing device")
					}
				}
				done <- outcome{rep, err}
			}()

		case res := <-done:
			running = false
			s.finish(res)

		case msg, ok := <-ctrlSub.Channel():
			if !ok {
				return
			}
			s.control(msg)
		}
	}
}

// prepare opens the device, checks identity and builds a supervisor.
func (s *Service) prepare(cfg types.BringupConfig) (*Supervisor, func() error, error) {
	sc, err := FromConfig(cfg)
	if err != nil {
		return nil, nil, err
	}
	dev, err := s.plat.Open(cfg)
	if err != nil {
		return nil, nil, errcode.Wrap(errcode.IOError, "open", err)
	}
	acc := guard.New(dev.Control)
	if id := cfg.Identity; id != nil {
		if _, err := Identify(acc, uint32(id.Offset), uint32(id.Expect)); err != nil {
			if dev.Close != nil {
				_ = dev.Close()
			}
			return nil, nil, err
		}
	}
	opts := append([]Option{
		WithLogger(s.log),
		WithSink(BusSink{Conn: s.conn}),
		WithSink(SinkFunc(s.track)),
	}, s.opts...)
	sup := New(dev.Stream, acc, liveness.NewMonitor(dev.Control, dev.Data), sc, opts...)
	return sup, dev.Close, nil
}

// track keeps the history and the retained state current while a session
// runs.
func (s *Service) track(rec types.Record) {
	s.history.Push(rec)
	switch rec.Kind {
	case types.EventSession, types.EventStrategy, types.EventPhase, types.EventCommand:
	default:
		return
	}
	s.publishState(func(st *types.SessionState) {
		st.Session = rec.Session
		st.Strategy = rec.Strategy
		st.Phase = rec.Phase
		if rec.Kind == types.EventCommand {
			st.Commands = rec.Index + 1
			if rec.Result == string(errcode.OK) && rec.Detail != dryRunDetail {
				st.Writes++
			}
		}
	})
}

func (s *Service) finish(res outcome) {
	if res.err != nil {
		s.publishState(func(st *types.SessionState) { st.Level, st.Status = "error", string(errcode.Of(res.err)) })
		return
	}
	rep := res.rep
	s.conn.Publish(s.conn.NewMessage(TopicReport, rep, true))
	s.publishState(func(st *types.SessionState) {
		st.Level = "done"
		st.Status = string(rep.Code())
		st.Outcome = string(rep.Outcome)
		st.Writes = uint64(rep.Session.Writes)
		st.Commands = rep.Session.Attempted
	})
}

func (s *Service) control(msg *bus.Message) {
	method, _ := msg.Topic[len(msg.Topic)-1].(string)
	switch method {
	case CtrlAbort:
		s.mu.Lock()
		sup := s.sup
		s.mu.Unlock()
		aborted := sup != nil && sup.Abort()
		s.conn.Reply(msg, aborted, false)
	case CtrlStatus:
		s.mu.Lock()
		st := s.state
		s.mu.Unlock()
		s.conn.Reply(msg, st, false)
	case CtrlHistory:
		n, _ := msg.Payload.(int)
		s.conn.Reply(msg, s.history.Last(n), false)
	default:
		s.conn.Reply(msg, errcode.New(errcode.Unsupported, "control", method), false)
	}
}

func (s *Service) publishState(update func(*types.SessionState)) {
	s.mu.Lock()
	update(&s.state)
	s.state.TS = timex.NowMs()
	st := s.state
	s.mu.Unlock()
	s.conn.Publish(s.conn.NewMessage(TopicState, st, true))
}
