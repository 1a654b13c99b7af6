package bringup

import (
	"fmt"

	"bringup-go/drivers/regmap"
	"bringup-go/errcode"
	"bringup-go/types"
)

// State is a supervisor state.
type State uint8

const (
	Idle State = iota
	Decoding
	Resolving
	Executing
	Observing
	NextPhase
	NextStrategy
	Activated
	Faulted
	Exhausted
)

var stateNames = [...]string{
	Idle:         "idle",
	Decoding:     "decoding",
	Resolving:    "resolving",
	Executing:    "executing",
	Observing:    "observing",
	NextPhase:    "next_phase",
	NextStrategy: "next_strategy",
	Activated:    "activated",
	Faulted:      "faulted",
	Exhausted:    "exhausted",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state_%d", uint8(s))
}

// Terminal reports whether s ends a session.
func (s State) Terminal() bool { return s == Activated || s == Faulted || s == Exhausted }

// Outcome is how a session ended. Dormant means it has not ended yet.
type Outcome string

const (
	OutcomeDormant   Outcome = "dormant"
	OutcomeActivated Outcome = "activated"
	OutcomeFaulted   Outcome = "faulted"
	OutcomeExhausted Outcome = "exhausted"
)

func outcomeOf(s State) Outcome {
	switch s {
	case Activated:
		return OutcomeActivated
	case Faulted:
		return OutcomeFaulted
	case Exhausted:
		return OutcomeExhausted
	}
	return OutcomeDormant
}

// Session is the only mutable state of a bring-up attempt. It is owned by the
// supervisor while Run executes and handed back inside the Report.
type Session struct {
	ID            string          `json:"id"`
	Phase         int             `json:"phase"`
	CommandIndex  int             `json:"command_index"` // index of the last attempted command
	Strategy      regmap.Strategy `json:"strategy"`
	StrategyIndex int             `json:"strategy_index"`
	Attempted     int             `json:"attempted"`
	Writes        int             `json:"writes"`
	Blocked       int             `json:"blocked"`
	Unresolved    int             `json:"unresolved"`
	Filtered      int             `json:"filtered"`
	Outcome       Outcome         `json:"outcome"`
	ActiveProbe   string          `json:"active_probe,omitempty"`
	Started       int64           `json:"started_ms"`
	Ended         int64           `json:"ended_ms"`
}

// Report is what Run hands back: outcome plus the full event log.
type Report struct {
	Session     Session        `json:"session"`
	Outcome     Outcome        `json:"outcome"`
	Reason      string         `json:"reason,omitempty"`
	Events      []types.Record `json:"events"`
	Recovery    string         `json:"recovery,omitempty"` // set on faulted
	Fingerprint string         `json:"fingerprint,omitempty"`
	DryRun      bool           `json:"dry_run,omitempty"`
}

// Code maps the outcome onto the error taxonomy.
func (r *Report) Code() errcode.Code {
	switch r.Outcome {
	case OutcomeActivated:
		return errcode.OK
	case OutcomeFaulted:
		return errcode.Faulted
	case OutcomeExhausted:
		return errcode.Exhausted
	}
	return errcode.Error
}

// Err is nil for an activated session, otherwise an *errcode.E carrying the
// reason.
func (r *Report) Err() error {
	if r.Outcome == OutcomeActivated {
		return nil
	}
	return errcode.New(r.Code(), "bringup", r.Reason)
}

// Count returns how many events of kind carry the given result ("" = any).
func (r *Report) Count(kind types.EventKind, result string) int {
	n := 0
	for _, e := range r.Events {
		if e.Kind == kind && (result == "" || e.Result == result) {
			n++
		}
	}
	return n
}

// RecoveryInstructions is the operator-facing note attached to a faulted
// session. Nothing in this module attempts it.
func RecoveryInstructions(pciAddr string) string {
	if pciAddr == "" {
		pciAddr = "<bdf>"
	}
	return "The device control plane reports a fault and cannot be recovered in-process.\n" +
		"Remove and rescan the device from the PCI bus, then retry:\n" +
		"  echo 1 > /sys/bus/pci/devices/" + pciAddr + "/remove\n" +
		"  echo 1 > /sys/bus/pci/rescan\n" +
		"If the device still reads 0xffffffff after rescan, a cold reboot is required."
}
