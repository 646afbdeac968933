package vm

import (
	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// Tracer: pluggable instruction observer
// ---------------------------------------------------------------------------

// Tracer observes instruction execution. After each executed instruction the
// VM reports the instruction's position, its opcode, and the resulting top
// of the evaluation stack (undefined when the stack is empty). The core has
// no ambient output dependency: tracing is off unless a Tracer is installed.
type Tracer interface {
	Trace(pos int, op Opcode, top Value)
}

// NopTracer discards all trace events.
type NopTracer struct{}

// Trace implements Tracer.
func (NopTracer) Trace(int, Opcode, Value) {}

// ---------------------------------------------------------------------------
// LogTracer: commonlog-backed tracer
// ---------------------------------------------------------------------------

// LogTracer writes one debug line per executed instruction to a commonlog
// logger.
type LogTracer struct {
	log commonlog.Logger
}

// NewLogTracer creates a tracer logging under the given logger name.
func NewLogTracer(name string) *LogTracer {
	return &LogTracer{log: commonlog.GetLogger(name)}
}

// Trace implements Tracer.
func (t *LogTracer) Trace(pos int, op Opcode, top Value) {
	t.log.Debugf("%04d  %-14s top=%s", pos, op.Name(), top)
}
