// Package heartbeat keeps sampling a device's liveness probes after bring-up
// and publishes each sample retained, so a later wedge is noticed without
// touching the control plane.
package heartbeat

import (
	"context"
	"time"

	"github.com/go-logr/logr"

	"bringup-go/bus"
	"bringup-go/drivers/liveness"
	"bringup-go/types"
	"bringup-go/x/timex"
)

var (
	TopicConfig    = bus.T("config", "heartbeat")
	TopicHeartbeat = bus.T("bringup", "heartbeat")
)

const DefaultInterval = time.Second

type Service struct {
	mon      *liveness.Monitor
	probes   []liveness.Probe
	log      logr.Logger
	interval time.Duration

	seq  uint64
	last liveness.Kind
}

func New(mon *liveness.Monitor, probes []liveness.Probe, log logr.Logger, interval time.Duration) *Service {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if len(probes) == 0 {
		probes = liveness.DefaultProbes()
	}
	return &Service{mon: mon, probes: probes, log: log, interval: interval, last: liveness.Dormant}
}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection) {
	cfgSub := conn.Subscribe(TopicConfig)
	defer conn.Unsubscribe(cfgSub)

	tick := time.NewTicker(s.interval)
	defer tick.Stop()

	s.sample(conn)
	for {
		select {
		case <-ctx.Done():
			s.log.V(1).Info("heartbeat stopping")
			return
		case <-tick.C:
			s.sample(conn)
		case msg, ok := <-cfgSub.Channel():
			if !ok {
				return
			}
			// {"interval": seconds}
			m, ok := msg.Payload.(map[string]any)
			if !ok {
				continue
			}
			if iv, ok := m["interval"].(float64); ok && iv > 0 {
				s.interval = time.Duration(iv * float64(time.Second))
				tick.Reset(s.interval)
				s.log.Info("heartbeat interval set", "interval", s.interval)
			}
		}
	}
}

// sample reads the probes once and publishes the result. Only transitions
// are logged.
func (s *Service) sample(conn *bus.Connection) types.Heartbeat {
	st := s.mon.Sample(s.probes)
	s.seq++
	hb := types.Heartbeat{
		Seq:   s.seq,
		TS:    timex.NowMs(),
		State: st.Kind.String(),
		Probe: st.Probe,
		Value: types.Hex(st.Value),
	}
	if st.Err != nil {
		hb.Error = st.Err.Error()
	}
	if st.Kind != s.last {
		if st.Kind == liveness.Faulted {
			s.log.Error(st.Err, "device stopped responding", "probe", st.Probe, "value", hb.Value)
		} else {
			s.log.Info("liveness changed", "from", s.last, "to", st.Kind, "probe", st.Probe)
		}
		s.last = st.Kind
	}
	conn.Publish(conn.NewMessage(TopicHeartbeat, hb, true))
	return hb
}

// Start runs the sampler until ctx is cancelled.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	go s.serviceLoop(ctx, conn)
	return nil
}
