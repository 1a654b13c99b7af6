package errcode

// Code is a stable, report-facing error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK            Code = "ok"
	Busy          Code = "busy"
	Unsupported   Code = "unsupported"
	InvalidConfig Code = "invalid_config"
	Timeout       Code = "timeout"

	// Session taxonomy.
	Truncation       Code = "truncation"
	UnresolvedTarget Code = "unresolved_target"
	Blocked          Code = "blocked"
	Faulted          Code = "faulted"
	Exhausted        Code = "exhausted"

	// Register access.
	Denylisted       Code = "denylisted"
	Fenced           Code = "fenced"
	IOError          Code = "io_error"
	OutOfRange       Code = "out_of_range"
	Unaligned        Code = "unaligned"
	IdentityMismatch Code = "identity_mismatch"

	Error Code = "error" // generic fallback
)

// Fatal reports whether a code ends a bring-up session.
func (c Code) Fatal() bool { return c == Faulted || c == Exhausted }

// E keeps context and a cause alongside a Code.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	s := string(e.C)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Is lets errors.Is(err, errcode.Blocked) match a wrapped *E.
func (e *E) Is(target error) bool {
	c, ok := target.(Code)
	return ok && c == e.C
}

// New builds an *E without a cause.
func New(c Code, op, msg string) *E { return &E{C: c, Op: op, Msg: msg} }

// Wrap builds an *E around a cause. A nil cause yields nil.
func Wrap(c Code, op string, err error) error {
	if err == nil {
		return nil
	}
	return &E{C: c, Op: op, Err: err}
}

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	if c, ok := err.(Code); ok {
		return c
	}
	type coder interface{ Code() Code }
	if x, ok := err.(coder); ok {
		return x.Code()
	}
	type unwrapper interface{ Unwrap() error }
	if u, ok := err.(unwrapper); ok {
		return Of(u.Unwrap())
	}
	return Error
}
