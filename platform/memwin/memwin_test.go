package memwin_test

import (
	"context"
	"errors"
	"testing"

	"bringup-go/drivers/cfgstream"
	"bringup-go/drivers/guard"
	"bringup-go/drivers/liveness"
	"bringup-go/errcode"
	"bringup-go/platform/memwin"
	"bringup-go/services/bringup"
)

func TestWindowBoundsAndAlignment(t *testing.T) {
	w := memwin.New("control", 0x100)
	if err := w.Write32(0xFC, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Read32(0x100); errcode.Of(err) != errcode.OutOfRange {
		t.Fatalf("err = %v", err)
	}
	if err := w.Write32(0x22, 1); errcode.Of(err) != errcode.Unaligned {
		t.Fatalf("err = %v", err)
	}
	if got := w.Writes(); len(got) != 1 || got[0].Offset != 0xFC {
		t.Fatalf("log = %v", got)
	}
}

func TestWindowFaultsAndWedge(t *testing.T) {
	w := memwin.New("control", 0)
	w.Set(0x0, 0x1234)
	boom := errors.New("completion timeout")
	w.FailReads(0x0, boom)
	if _, err := w.Read32(0x0); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	w.FailReads(0x0, nil)

	var hooked int
	w.OnWrite(func(_ *memwin.Window, off, v uint32) { hooked++ })
	w.Wedge()
	if v, _ := w.Read32(0x0); v != liveness.FaultSentinel {
		t.Fatalf("wedged read = 0x%x", v)
	}
	_ = w.Write32(0x4, 7)
	if hooked != 0 || w.Get(0x4) != 0 {
		t.Fatal("write to a wedged window took effect")
	}
}

func TestWindowAsStreamSource(t *testing.T) {
	w := memwin.New("data", 0x10)
	w.LoadWords(0x0, []uint32{0x16002401, 0x31000100})
	d := cfgstream.NewDecoder(w, 0, 0)
	words := d.All()
	// Four slots fit; out-of-range past the end is a clean stop.
	if len(words) != 4 || d.Err() != nil {
		t.Fatalf("words = %d err = %v", len(words), d.Err())
	}
	if words[0].Class != cfgstream.ClassCommand || words[1].Class != cfgstream.ClassDelimiter {
		t.Fatalf("classes %v %v", words[0].Class, words[1].Class)
	}
}

func simSupervisor(sim *memwin.Simulated, acc *guard.Access) *bringup.Supervisor {
	cfg := bringup.Config{
		StreamStart:  memwin.SimStreamBase,
		StreamLength: 0x1000,
	}
	return bringup.New(sim.Data, acc, liveness.NewMonitor(sim.Control, sim.Data), cfg)
}

func TestSimulatedDeviceActivates(t *testing.T) {
	sim := memwin.NewSimulated()
	acc := guard.New(sim.Control)
	if _, err := bringup.Identify(acc, bringup.ChipIDOffset, bringup.ChipID); err != nil {
		t.Fatal(err)
	}

	rep, err := simSupervisor(sim, acc).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rep.Outcome != bringup.OutcomeActivated || rep.Session.ActiveProbe != "dma_memory" {
		t.Fatalf("outcome %s (%s)", rep.Outcome, rep.Reason)
	}
	if rep.Session.Phase != 2 || rep.Session.Writes != 6 {
		t.Fatalf("session %+v", rep.Session)
	}
	for _, w := range sim.Control.Writes() {
		if guard.Denylisted(w.Offset) {
			t.Fatalf("denylisted write 0x%x", w.Offset)
		}
	}
}

func TestSimulatedDeviceWedges(t *testing.T) {
	sim := memwin.NewSimulated(memwin.WedgeOn(0x0074))
	acc := guard.New(sim.Control)

	rep, err := simSupervisor(sim, acc).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rep.Outcome != bringup.OutcomeFaulted || rep.Recovery == "" {
		t.Fatalf("outcome %s", rep.Outcome)
	}
	n := len(sim.Control.Writes())
	if n != 4 || rep.Session.Attempted != 4 {
		t.Fatalf("writes after fault: log=%d attempted=%d", n, rep.Session.Attempted)
	}
}
