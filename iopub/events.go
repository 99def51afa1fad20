// Package iopub implements the kernel's broadcast engine: a single goroutine
// that multiplexes asynchronous output from every kernel subsystem into one
// strictly ordered outbound IOPub stream.
package iopub

import (
	"encoding/json"

	"rkernel/messaging"
)

// ContextChannel identifies which request/reply channel a broadcast is
// correlated with. Shell and control contexts are tracked independently so
// interleaved traffic never cross-contaminates parent correlation.
type ContextChannel int

const (
	Shell ContextChannel = iota
	Control
)

func (c ContextChannel) String() string {
	return [...]string{"shell", "control"}[c]
}

// Event is something a producer thread wants broadcast on IOPub. Events are
// created by any producer goroutine, sent on the engine's event channel, and
// consumed exactly once by the engine; they are never persisted. The set of
// implementations is closed.
type Event interface {
	isIOPubEvent()
}

// StatusEvent announces a kernel execution-state transition. Busy records the
// parent as the active context for the channel; Idle flushes buffered stream
// output and clears it.
type StatusEvent struct {
	Parent  *messaging.MessageHeader
	Channel ContextChannel
	State   messaging.ExecutionState
}

// ExecuteResultEvent broadcasts the result of an execution, correlated with
// the shell channel's active context.
type ExecuteResultEvent struct {
	Content messaging.ExecuteResult
}

// ExecuteErrorEvent broadcasts an execution failure.
type ExecuteErrorEvent struct {
	Content messaging.ExecuteError
}

// ExecuteInputEvent rebroadcasts the code being executed. Unlike results and
// errors it does not flush buffered stream output first; its ordering
// relative to stream output is not guaranteed.
type ExecuteInputEvent struct {
	Content messaging.ExecuteInput
}

// StreamEvent appends text to the engine's stream buffer. Consecutive events
// for the same stream are batched into a single stream message.
type StreamEvent struct {
	Name messaging.StreamName
	Text string
}

// DisplayDataEvent broadcasts rich display output.
type DisplayDataEvent struct {
	Content messaging.DisplayData
}

// UpdateDisplayDataEvent updates a previously broadcast display.
type UpdateDisplayDataEvent struct {
	Content messaging.UpdateDisplayData
}

// WaitEvent is the ordering barrier: the engine signals Ack as soon as it
// dequeues the event. Because the event channel is FIFO and single-consumer,
// every event enqueued before the WaitEvent has been forwarded by the time
// the signal fires. The barrier says nothing about transport-level delivery
// relative to other sockets.
type WaitEvent struct {
	Ack chan<- struct{}
}

// CommEventKind discriminates the comm events a comm subsystem can emit.
type CommEventKind int

const (
	// CommOpenEvent opens a new comm to the frontend.
	CommOpenEvent CommEventKind = iota

	// CommDataEvent delivers an asynchronous payload over an open comm.
	CommDataEvent

	// CommRpcReplyEvent answers a frontend RPC. Correlated to its request
	// via the carried parent header rather than the ambient shell context,
	// since comm replies can be produced long after the originating
	// request's busy/idle window ended.
	CommRpcReplyEvent

	// CommCloseEvent tears the comm down.
	CommCloseEvent
)

// CommOutgoing broadcasts a comm event to the frontend.
type CommOutgoing struct {
	CommID string
	Kind   CommEventKind

	// TargetName is the comm target; set for CommOpenEvent only.
	TargetName string

	// Data is the event payload.
	Data json.RawMessage

	// Parent correlates an RPC reply to its originating request; set for
	// CommRpcReplyEvent only.
	Parent *messaging.MessageHeader
}

func (StatusEvent) isIOPubEvent()            {}
func (ExecuteResultEvent) isIOPubEvent()     {}
func (ExecuteErrorEvent) isIOPubEvent()      {}
func (ExecuteInputEvent) isIOPubEvent()      {}
func (StreamEvent) isIOPubEvent()            {}
func (DisplayDataEvent) isIOPubEvent()       {}
func (UpdateDisplayDataEvent) isIOPubEvent() {}
func (WaitEvent) isIOPubEvent()              {}
func (CommOutgoing) isIOPubEvent()           {}

// Subscription is a subscribe/unsubscribe notification observed on the
// transport's XPUB socket.
type Subscription struct {
	Subscribe bool
	Topic     string
}
