// Package bringup drives one bring-up attempt: it walks the configuration
// stream, resolves and executes each command under the current mapping
// hypothesis, and watches liveness after every write until the device comes
// alive, faults, or every hypothesis has been tried.
package bringup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"bringup-go/drivers/cfgstream"
	"bringup-go/drivers/engine"
	"bringup-go/drivers/guard"
	"bringup-go/drivers/liveness"
	"bringup-go/drivers/regmap"
	"bringup-go/errcode"
	"bringup-go/types"
	"bringup-go/x/timex"
)

// DefaultBudget bounds the commands attempted in one session.
const DefaultBudget = 256

// dryRunDetail marks a command record that was computed but not written.
const dryRunDetail = "dry_run"

// Config holds the per-session knobs. The zero value is usable: all
// strategies, the known table, default probes, preflight on.
type Config struct {
	StreamStart      uint32
	StreamLength     uint32 // 0 = until the source ends
	SkipUnclassified bool   // step over unclassified words instead of ending the attempt

	Resolver   *regmap.Resolver  // nil = known table
	Strategies []regmap.Strategy // nil = regmap.DefaultStrategies
	Probes     []liveness.Probe  // nil = liveness.DefaultProbes()

	Budget       int           // <= 0 = DefaultBudget
	Settle       time.Duration // wait between a write and the next sample
	DryRun       bool
	NoPreflight  bool
	Focus        []uint8 // when set, only these logical targets are executed
	PCIAddress   string  // for the recovery note
	StreamDigest bool    // fingerprint the stream into the report
}

// Supervisor runs sessions against one device. At most one session is in
// flight at a time.
type Supervisor struct {
	src cfgstream.Source
	acc *guard.Access
	mon *liveness.Monitor
	cfg Config

	log     logr.Logger
	sinks   []Sink
	metrics *Metrics
	sleep   func(time.Duration)
	now     func() int64
	newID   func() string

	mu     sync.Mutex // held for the duration of Run
	cancel struct {
		sync.Mutex
		fn context.CancelFunc
	}
}

// Option configures a Supervisor.
type Option func(*Supervisor)

func WithLogger(l logr.Logger) Option { return func(s *Supervisor) { s.log = l } }

// WithSink adds an observer for every record. The report log is always kept.
func WithSink(k Sink) Option { return func(s *Supervisor) { s.sinks = append(s.sinks, k) } }

func WithMetrics(m *Metrics) Option { return func(s *Supervisor) { s.metrics = m } }

// WithSleep replaces time.Sleep for the settle wait.
func WithSleep(f func(time.Duration)) Option { return func(s *Supervisor) { s.sleep = f } }

// WithClock replaces the millisecond clock used for timestamps.
func WithClock(f func() int64) Option { return func(s *Supervisor) { s.now = f } }

// WithSessionIDs replaces the session id generator.
func WithSessionIDs(f func() string) Option { return func(s *Supervisor) { s.newID = f } }

func New(src cfgstream.Source, acc *guard.Access, mon *liveness.Monitor, cfg Config, opts ...Option) *Supervisor {
	if cfg.Resolver == nil {
		cfg.Resolver = regmap.New(nil)
	}
	if len(cfg.Strategies) == 0 {
		cfg.Strategies = regmap.DefaultStrategies
	}
	if cfg.Probes == nil {
		cfg.Probes = liveness.DefaultProbes()
	}
	if cfg.Budget <= 0 {
		cfg.Budget = DefaultBudget
	}
	s := &Supervisor{
		src:   src,
		acc:   acc,
		mon:   mon,
		cfg:   cfg,
		log:   logr.Discard(),
		sleep: time.Sleep,
		now:   timex.NowMs,
		newID: uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Config returns the effective configuration.
func (s *Supervisor) Config() Config { return s.cfg }

// Access exposes the guarded register path, e.g. for Identify.
func (s *Supervisor) Access() *guard.Access { return s.acc }

// Abort cancels the session in flight, if any. It takes effect before the
// next command; an apply already started completes.
func (s *Supervisor) Abort() bool {
	s.cancel.Lock()
	defer s.cancel.Unlock()
	if s.cancel.fn == nil {
		return false
	}
	s.cancel.fn()
	return true
}

// Run executes one session to a terminal state. The only error is
// errcode.Busy when another session is in flight; every hardware outcome is
// reported through the Report.
func (s *Supervisor) Run(ctx context.Context) (*Report, error) {
	if !s.mu.TryLock() {
		return nil, errcode.New(errcode.Busy, "run", "a session is already in flight")
	}
	defer s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel.Lock()
	s.cancel.fn = cancel
	s.cancel.Unlock()
	defer func() {
		s.cancel.Lock()
		s.cancel.fn = nil
		s.cancel.Unlock()
		cancel()
	}()

	r := s.newRun(ctx)
	r.execute()
	return r.report(), nil
}

// run is the per-session working set.
type run struct {
	s   *Supervisor
	ctx context.Context
	log logr.Logger

	sess   Session
	dec    *cfgstream.Decoder
	eng    *engine.Engine
	focus  map[uint8]bool
	events []types.Record
	reason string

	cur  cfgstream.Command
	phys uint32
}

func (s *Supervisor) newRun(ctx context.Context) *run {
	var eopts []engine.Option
	if s.cfg.DryRun {
		eopts = append(eopts, engine.WithDryRun())
	}
	r := &run{
		s:   s,
		ctx: ctx,
		dec: cfgstream.NewDecoder(s.src, s.cfg.StreamStart, s.cfg.StreamLength),
		eng: engine.New(s.acc, eopts...),
	}
	r.sess = Session{
		ID:       s.newID(),
		Strategy: s.cfg.Strategies[0],
		Outcome:  OutcomeDormant,
		Started:  s.now(),
	}
	r.log = s.log.WithValues("session", r.sess.ID)
	if len(s.cfg.Focus) > 0 {
		r.focus = make(map[uint8]bool, len(s.cfg.Focus))
		for _, t := range s.cfg.Focus {
			r.focus[t] = true
		}
	}
	return r
}

func (r *run) execute() {
	cfg := r.s.cfg
	r.emit(types.Record{Kind: types.EventSession, Result: Idle.String(),
		Detail: fmt.Sprintf("start=0x%06x length=0x%x strategies=%d budget=%d dry_run=%v",
			r.dec.Start(), cfg.StreamLength, len(cfg.Strategies), cfg.Budget, cfg.DryRun)})
	r.strategyRecord("initial")

	state := Decoding
	switch {
	case r.s.acc.Fenced():
		r.reason = "register access fenced by an earlier fault"
		state = r.fault()
	case !cfg.NoPreflight:
		state = r.preflight()
	}

	for !state.Terminal() {
		state = r.step(state)
	}
	r.finish(state)
}

// step performs one transition.
func (r *run) step(st State) State {
	switch st {
	case Decoding:
		return r.decode()
	case Resolving:
		return r.resolve()
	case Executing:
		return r.executeCmd()
	case Observing:
		return r.observe()
	case NextPhase:
		r.sess.Phase++
		r.emit(types.Record{Kind: types.EventPhase, Result: NextPhase.String()})
		return Decoding
	case NextStrategy:
		return r.nextStrategy()
	}
	r.reason = "unexpected state " + st.String()
	return Exhausted
}

func (r *run) decode() State {
	if err := r.ctx.Err(); err != nil {
		r.reason = "cancelled"
		return Exhausted
	}
	if r.sess.Attempted >= r.s.cfg.Budget {
		r.reason = fmt.Sprintf("command budget of %d reached", r.s.cfg.Budget)
		return Exhausted
	}
	for {
		w, ok := r.dec.Next()
		if !ok {
			r.endOfAttempt()
			return NextStrategy
		}
		switch w.Class {
		case cfgstream.ClassCommand:
			r.cur = w.Cmd
			return Resolving
		case cfgstream.ClassDelimiter:
			return NextPhase
		}
		if r.s.cfg.SkipUnclassified {
			continue
		}
		r.emit(types.Record{Kind: types.EventStrategy, Source: w.Offset, Result: "unclassified",
			Detail: fmt.Sprintf("word 0x%08x (%s) ends the attempt", w.Raw, w.Hint)})
		return NextStrategy
	}
}

func (r *run) endOfAttempt() {
	if err := r.dec.Err(); err != nil {
		last, _ := r.dec.LastOffset()
		r.emit(types.Record{Kind: types.EventStrategy, Source: last,
			Result: string(errcode.Truncation), Detail: err.Error()})
		return
	}
	r.emit(types.Record{Kind: types.EventStrategy, Source: r.dec.Offset(), Result: "end_of_stream"})
}

func (r *run) resolve() State {
	c := r.cur
	if r.focus != nil && !r.focus[c.Target] {
		r.sess.Filtered++
		r.commandRecord(c, 0, engine.Change{}, "filtered", "")
		return Decoding
	}
	r.sess.CommandIndex = r.sess.Attempted
	r.sess.Attempted++

	phys, ok := r.s.cfg.Resolver.Resolve(r.sess.Strategy, c.Target)
	if !ok {
		r.sess.Unresolved++
		r.commandRecord(c, 0, engine.Change{}, string(errcode.UnresolvedTarget), "")
		r.s.metrics.command(string(errcode.UnresolvedTarget))
		return Decoding
	}
	r.phys = phys
	return Executing
}

func (r *run) executeCmd() State {
	ch, err := r.eng.Apply(r.cur, r.phys)
	if err != nil {
		code := errcode.Of(err)
		if code == errcode.Blocked {
			r.sess.Blocked++
		}
		r.commandRecord(r.cur, r.phys, ch, string(code), err.Error())
		r.s.metrics.command(string(code))
		return Decoding
	}
	detail := ""
	if ch.DryRun {
		detail = dryRunDetail
	} else {
		r.sess.Writes++
		r.s.metrics.write()
	}
	r.commandRecord(r.cur, r.phys, ch, string(errcode.OK), detail)
	r.s.metrics.command(string(errcode.OK))
	if d := r.s.cfg.Settle; d > 0 {
		r.s.sleep(d)
	}
	return Observing
}

func (r *run) observe() State {
	st := r.s.mon.Sample(r.s.cfg.Probes)
	rec := types.Record{Kind: types.EventObserve, Result: st.Kind.String()}
	if st.Kind != liveness.Dormant {
		rec.Detail = fmt.Sprintf("%s=0x%08x", st.Probe, st.Value)
	}
	r.emit(rec)

	switch st.Kind {
	case liveness.Faulted:
		r.reason = faultReason(st)
		return r.fault()
	case liveness.Active:
		r.sess.ActiveProbe = st.Probe
		r.reason = fmt.Sprintf("probe %s reads 0x%08x after command %d", st.Probe, st.Value, r.sess.CommandIndex)
		return Activated
	}
	return Decoding
}

func (r *run) nextStrategy() State {
	next := r.sess.StrategyIndex + 1
	if next >= len(r.s.cfg.Strategies) {
		r.reason = fmt.Sprintf("all %d mapping strategies tried", len(r.s.cfg.Strategies))
		return Exhausted
	}
	r.dec.Rewind()
	r.sess.StrategyIndex = next
	r.sess.Strategy = r.s.cfg.Strategies[next]
	r.sess.Phase = 0
	r.strategyRecord("rewind")
	return Decoding
}

// preflight samples the health probes before anything is written.
func (r *run) preflight() State {
	st, bad := r.s.mon.Health(r.s.cfg.Probes)
	if !bad {
		r.emit(types.Record{Kind: types.EventPreflight, Result: "healthy"})
		return Decoding
	}
	r.emit(types.Record{Kind: types.EventPreflight, Result: st.Kind.String(),
		Detail: fmt.Sprintf("%s=0x%08x", st.Probe, st.Value)})
	r.reason = "preflight: " + faultReason(st)
	return r.fault()
}

// fault fences the register path so nothing more can be written.
func (r *run) fault() State {
	r.s.acc.Fence()
	return Faulted
}

func faultReason(st liveness.State) string {
	if st.Err != nil {
		return fmt.Sprintf("health probe %s unreadable: %v", st.Probe, st.Err)
	}
	return fmt.Sprintf("health probe %s reads fault sentinel 0x%08x", st.Probe, st.Value)
}

func (r *run) finish(st State) {
	r.sess.Outcome = outcomeOf(st)
	r.sess.Ended = r.s.now()
	r.emit(types.Record{Kind: types.EventOutcome, Result: string(r.sess.Outcome), Detail: r.reason})
	r.s.metrics.session(r.sess.Outcome, r.sess.Phase)
	if st == Faulted {
		r.log.Error(errcode.New(errcode.Faulted, "bringup", r.reason), "session faulted",
			"recovery", "remove and rescan the PCI device")
		return
	}
	r.log.Info("session finished", "outcome", r.sess.Outcome, "reason", r.reason,
		"attempted", r.sess.Attempted, "writes", r.sess.Writes)
}

func (r *run) report() *Report {
	rep := &Report{
		Session: r.sess,
		Outcome: r.sess.Outcome,
		Reason:  r.reason,
		Events:  r.events,
		DryRun:  r.s.cfg.DryRun,
	}
	if rep.Outcome == OutcomeFaulted {
		rep.Recovery = RecoveryInstructions(r.s.cfg.PCIAddress)
	}
	if r.s.cfg.StreamDigest {
		d := cfgstream.NewDecoder(r.s.src, r.s.cfg.StreamStart, r.s.cfg.StreamLength)
		rep.Fingerprint = fmt.Sprintf("%016x", cfgstream.Fingerprint(d))
	}
	return rep
}

func (r *run) strategyRecord(why string) {
	r.emit(types.Record{Kind: types.EventStrategy, Result: r.sess.Strategy.String(), Detail: why})
}

func (r *run) commandRecord(c cfgstream.Command, phys uint32, ch engine.Change, result, detail string) {
	r.emit(types.Record{
		Kind:     types.EventCommand,
		Index:    r.sess.CommandIndex,
		Source:   c.SourceOffset,
		Op:       c.Op.String(),
		Target:   c.Target,
		Physical: phys,
		Old:      ch.Old,
		New:      ch.New,
		Result:   result,
		Detail:   detail,
	})
}

// emit stamps a record, appends it to the session log and fans it out.
func (r *run) emit(rec types.Record) {
	rec.Session = r.sess.ID
	rec.Seq = len(r.events)
	rec.TS = r.s.now()
	rec.Phase = r.sess.Phase
	rec.Strategy = r.sess.Strategy.String()
	if rec.Kind != types.EventCommand {
		rec.Index = r.sess.CommandIndex
	}
	r.events = append(r.events, rec)
	for _, k := range r.s.sinks {
		k.Emit(rec)
	}
}
