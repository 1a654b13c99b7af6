package types

// ---- Session state (retained on "bringup/state") ----

type SessionState struct {
	Session  string `json:"session"`
	Level    string `json:"level"`             // "idle", "running", "done", "error", "stopped"
	Status   string `json:"status,omitempty"`  // short machine-readable code
	Outcome  string `json:"outcome,omitempty"` // set once done
	Strategy string `json:"strategy,omitempty"`
	Phase    int    `json:"phase"`
	Commands int    `json:"commands"`
	Writes   uint64 `json:"writes"`
	TS       int64  `json:"ts_ms"`
}

// ---- Event records (published on "bringup/event/<kind>") ----

// EventKind names a record.
type EventKind string

const (
	EventSession   EventKind = "session"   // start of a session
	EventPreflight EventKind = "preflight" // health check before the first write
	EventCommand   EventKind = "command"   // one command attempted
	EventPhase     EventKind = "phase"     // delimiter crossed
	EventStrategy  EventKind = "strategy"  // mapping hypothesis changed
	EventObserve   EventKind = "observe"   // liveness sample
	EventOutcome   EventKind = "outcome"   // terminal
)

// Record is one entry in the append-only session log.
type Record struct {
	Session  string    `json:"session"`
	Seq      int       `json:"seq"`
	TS       int64     `json:"ts_ms"`
	Kind     EventKind `json:"kind"`
	Phase    int       `json:"phase"`
	Strategy string    `json:"strategy,omitempty"`
	Index    int       `json:"index"`                   // attempted-command index
	Source   uint32    `json:"source_offset,omitempty"` // word offset in the stream
	Op       string    `json:"op,omitempty"`
	Target   uint8     `json:"target,omitempty"`
	Physical uint32    `json:"physical,omitempty"`
	Old      uint32    `json:"old,omitempty"`
	New      uint32    `json:"new,omitempty"`
	Result   string    `json:"result"` // errcode code, "ok", or a state name
	Detail   string    `json:"detail,omitempty"`
}

// Heartbeat is the retained liveness sample published after a session, on
// "bringup/heartbeat".
type Heartbeat struct {
	Seq   uint64 `json:"seq"`
	TS    int64  `json:"ts_ms"`
	State string `json:"state"` // dormant | active | faulted
	Probe string `json:"probe,omitempty"`
	Value Hex    `json:"value"`
	Error string `json:"error,omitempty"`
}
