package iopub

import (
	"errors"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/petermattis/goid"

	"rkernel/messaging"
	"rkernel/utils"
)

const (
	// FlushInterval bounds the worst-case latency of batched stream output.
	// It is a latency bound only, not a correctness mechanism.
	FlushInterval = 80 * time.Millisecond
)

var (
	// ErrEventChannelClosed is returned by Run when the event channel
	// disconnects. This is an unrecoverable kernel-invariant violation: it
	// means every producer goroutine has vanished while the kernel is still
	// alive, so the caller is expected to abort the process.
	ErrEventChannelClosed = errors.New("iopub event channel closed")
)

// handshakeState tracks the one-shot IOPub welcome handshake. The transition
// awaitingSubscription -> subscribed happens at most once per process.
type handshakeState int

const (
	awaitingSubscription handshakeState = iota
	subscribed
)

// Engine is the single-writer broadcast loop. One dedicated goroutine owns it
// exclusively: it is the only writer to the outbound channel, so no locking
// is needed anywhere on the write path. All other kernel subsystems only ever
// enqueue events; they never block on the engine except through an explicit
// WaitEvent barrier.
type Engine struct {
	session *messaging.Session

	events        <-chan Event
	subscriptions <-chan Subscription
	outbound      chan<- messaging.Message

	// ready is released exactly once, when the first subscriber completes
	// the welcome handshake.
	ready chan struct{}
	state handshakeState

	// Per-channel parent contexts; mutated only by the engine goroutine.
	shellParent   *messaging.MessageHeader
	controlParent *messaging.MessageHeader

	// Active stream buffer, nil when nothing is pending.
	buffer *streamBuffer

	log logger.Logger
}

// NewEngine creates the broadcast engine. Producers send on events; the
// transport layer reports XPUB subscription notifications on subscriptions;
// finished messages are handed to outbound, which the socket-owning goroutine
// drains.
func NewEngine(session *messaging.Session, events <-chan Event, subscriptions <-chan Subscription, outbound chan<- messaging.Message) *Engine {
	engine := &Engine{
		session:       session,
		events:        events,
		subscriptions: subscriptions,
		outbound:      outbound,
		ready:         make(chan struct{}, 1),
		state:         awaitingSubscription,
	}
	config.InitLogger(&engine.log, "IOPub ")

	return engine
}

// Ready is released once, after the first subscriber has received the
// welcome handshake. Callers waiting on kernel readiness block on it.
func (e *Engine) Ready() <-chan struct{} {
	return e.ready
}

// Run executes the event loop. It blocks only in the three-way multiplexed
// receive below; all per-event work is synchronous and bounded. Run returns
// only on the fatal event-channel disconnect.
func (e *Engine) Run() error {
	ticker := time.NewTicker(FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-e.events:
			if !ok {
				e.log.Error("Event channel disconnected. Every IOPub producer is gone; aborting.")
				return ErrEventChannelClosed
			}
			e.process(event)
		case subscription := <-e.subscriptions:
			e.handleSubscription(subscription)
		case <-ticker.C:
			e.flushStream()
		}
	}
}

// process handles exactly one event, fully, before the loop continues.
func (e *Engine) process(event Event) {
	switch ev := event.(type) {
	case StatusEvent:
		e.processStatus(ev)
	case ExecuteResultEvent:
		e.flushStream()
		e.forward(messaging.NewMsg(ev.Content, e.shellParent, e.session))
	case ExecuteErrorEvent:
		e.flushStream()
		e.forward(messaging.NewMsg(ev.Content, e.shellParent, e.session))
	case ExecuteInputEvent:
		e.forward(messaging.NewMsg(ev.Content, e.shellParent, e.session))
	case DisplayDataEvent:
		e.flushStream()
		e.forward(messaging.NewMsg(ev.Content, e.shellParent, e.session))
	case UpdateDisplayDataEvent:
		e.flushStream()
		e.forward(messaging.NewMsg(ev.Content, e.shellParent, e.session))
	case StreamEvent:
		e.processStream(ev)
	case WaitEvent:
		// The channel is drained strictly FIFO by this goroutine, so every
		// event enqueued before this one has already been forwarded.
		ev.Ack <- struct{}{}
	case CommOutgoing:
		e.processComm(ev)
	default:
		e.log.Error("Dropping IOPub event of unknown type %T.", event)
	}
}

func (e *Engine) processStatus(ev StatusEvent) {
	switch ev.State {
	case messaging.ExecutionBusy:
		// Record the parent as the active context for the channel. Messages
		// broadcast while the kernel is busy name this context in their
		// parent header, pairing output with the request that caused it.
		switch ev.Channel {
		case Shell:
			e.shellParent = ev.Parent
		case Control:
			e.controlParent = ev.Parent
		}
	case messaging.ExecutionIdle:
		// Buffered output must be causally ordered before the idle marker.
		e.flushStream()
		switch ev.Channel {
		case Shell:
			e.shellParent = nil
		case Control:
			e.controlParent = nil
		}
	case messaging.ExecutionStarting:
		// Forwarded with no side effect; used only by the handshake.
	}

	status := messaging.KernelStatus{ExecutionState: ev.State}
	e.forward(messaging.NewMsg(status, ev.Parent, e.session))
}

func (e *Engine) processStream(ev StreamEvent) {
	// Output switching streams must not be merged out of order: flush the
	// existing buffer before starting one for the new stream.
	if e.buffer != nil && e.buffer.name != ev.Name {
		e.flushStream()
	}
	if e.buffer == nil {
		e.buffer = newStreamBuffer(ev.Name)
	}

	e.buffer.append(ev.Text)
}

func (e *Engine) processComm(ev CommOutgoing) {
	e.flushStream()

	switch ev.Kind {
	case CommOpenEvent:
		content := messaging.CommOpen{CommID: ev.CommID, TargetName: ev.TargetName, Data: ev.Data}
		e.forward(messaging.NewMsg(content, nil, e.session))
	case CommDataEvent:
		content := messaging.CommWireMsg{CommID: ev.CommID, Data: ev.Data}
		e.forward(messaging.NewMsg(content, nil, e.session))
	case CommRpcReplyEvent:
		// RPC replies correlate via the carried parent, not the ambient
		// context: they can arrive well after the originating request's
		// busy/idle window has ended.
		content := messaging.CommWireMsg{CommID: ev.CommID, Data: ev.Data}
		e.forward(messaging.NewMsg(content, ev.Parent, e.session))
	case CommCloseEvent:
		content := messaging.CommClose{CommID: ev.CommID, Data: ev.Data}
		e.forward(messaging.NewMsg(content, nil, e.session))
	}
}

// handleSubscription runs the welcome handshake on the first subscribe
// notification and ignores everything afterwards. Unsubscribes are always
// ignored.
func (e *Engine) handleSubscription(subscription Subscription) {
	if !subscription.Subscribe {
		e.log.Debug(utils.GrayStyle.Render("Ignoring unsubscribe notification for topic %q."), subscription.Topic)
		return
	}

	if e.state == subscribed {
		// Not fatal: late subscribers simply miss the handshake.
		e.log.Error("Received subscription notification for topic %q, but the welcome handshake already ran.", subscription.Topic)
		return
	}

	e.forward(messaging.NewMsg(messaging.Welcome{Subscription: subscription.Topic}, nil, e.session))
	e.forward(messaging.NewMsg(messaging.KernelStatus{ExecutionState: messaging.ExecutionStarting}, nil, e.session))

	e.state = subscribed
	e.ready <- struct{}{}
	e.log.Info(utils.BlueStyle.Render("Welcomed first IOPub subscriber with topic %q."), subscription.Topic)
}

// flushStream drains the active stream buffer, if any, into a single stream
// message correlated with the shell context.
func (e *Engine) flushStream() {
	if e.buffer == nil || e.buffer.empty() {
		return
	}

	content := e.buffer.drain()
	e.buffer = nil

	e.forward(messaging.NewMsg(content, e.shellParent, e.session))
}

// forward hands a finished message to the outbound channel. Delivery is
// best-effort: a failed send is logged and swallowed so one hiccup never
// blocks or corrupts delivery of subsequent messages, and never propagates
// back to a producer.
func (e *Engine) forward(msg messaging.Message) {
	select {
	case e.outbound <- msg:
	default:
		e.log.Warn(utils.YellowStyle.Render("[gid=%d] Failed to forward %q message to the outbound socket channel; dropping it."),
			goid.Get(), msg.MessageType())
	}
}
