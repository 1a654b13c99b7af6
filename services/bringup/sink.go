package bringup

import (
	"github.com/go-logr/logr"

	"bringup-go/bus"
	"bringup-go/types"
)

// Sink observes session records. Sinks never influence control decisions.
type Sink interface {
	Emit(rec types.Record)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(types.Record)

func (f SinkFunc) Emit(rec types.Record) { f(rec) }

// LogSink writes records to a logr logger. Per-command and per-sample
// records go to V(1); the rest at the default level.
type LogSink struct {
	Log logr.Logger
}

func (l LogSink) Emit(rec types.Record) {
	kv := []any{"seq", rec.Seq, "phase", rec.Phase, "strategy", rec.Strategy, "result", rec.Result}
	switch rec.Kind {
	case types.EventCommand:
		kv = append(kv, "index", rec.Index, "op", rec.Op, "target", rec.Target,
			"physical", rec.Physical, "old", rec.Old, "new", rec.New)
		if rec.Detail != "" {
			kv = append(kv, "detail", rec.Detail)
		}
		l.Log.V(1).Info("command", kv...)
	case types.EventObserve:
		l.Log.V(1).Info("observe", append(kv, "detail", rec.Detail)...)
	default:
		l.Log.Info(string(rec.Kind), append(kv, "detail", rec.Detail)...)
	}
}

// BusSink publishes every record on bringup/event/<kind>.
type BusSink struct {
	Conn *bus.Connection
}

func (b BusSink) Emit(rec types.Record) {
	b.Conn.Publish(b.Conn.NewMessage(TopicEvent(rec.Kind), rec, false))
}
