package sockets

import (
	"context"
	"errors"
	"fmt"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"

	"rkernel/iopub"
	"rkernel/messaging"
	"rkernel/utils"
)

// RequestHandler handles one parsed request from a ROUTER channel and
// returns the reply content. The language layer behind it is an external
// collaborator; the listener only guarantees protocol bracketing and framing.
type RequestHandler interface {
	HandleRequest(ctx context.Context, msg messaging.Message) (messaging.Content, error)
}

// Listener serves a ROUTER request/reply socket (shell or control). Each
// request is bracketed with Busy/Idle status broadcasts through the IOPub
// engine, tagged with the request's header so frontends can correlate
// output with its originator.
type Listener struct {
	socket  *Socket
	channel iopub.ContextChannel
	events  chan<- iopub.Event
	handler RequestHandler
	log     logger.Logger
}

func NewListener(socket *Socket, channel iopub.ContextChannel, events chan<- iopub.Event, handler RequestHandler) *Listener {
	listener := &Listener{
		socket:  socket,
		channel: channel,
		events:  events,
		handler: handler,
	}
	config.InitLogger(&listener.log, fmt.Sprintf("%s ", socket.Name))

	return listener
}

// Run serves requests until the context is cancelled. Framing,
// authentication, and schema errors are fatal to the offending message only:
// the listener logs them and keeps reading.
func (l *Listener) Run(ctx context.Context) {
	for {
		frames, err := l.socket.RecvMultipart()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			l.log.Warn("Failed to receive on %s socket: %v", l.socket.Kind, err)
			continue
		}

		l.serveRequest(ctx, frames)
	}
}

func (l *Listener) serveRequest(ctx context.Context, frames [][]byte) {
	wire, err := messaging.FromFrames(frames, l.socket.Session())
	if err != nil {
		l.log.Error(utils.RedStyle.Render("Dropping malformed %s message: %v"), l.socket.Kind, err)
		return
	}

	msg, err := messaging.ParseMessage(wire)
	if err != nil {
		l.log.Error(utils.RedStyle.Render("Dropping unparseable %s message: %v"), l.socket.Kind, err)
		return
	}

	// Bracket the request: Busy establishes this request as the channel's
	// IOPub context, Idle clears it after the reply is on the wire.
	l.events <- iopub.StatusEvent{Parent: wire.Header.Clone(), Channel: l.channel, State: messaging.ExecutionBusy}
	defer func() {
		l.events <- iopub.StatusEvent{Parent: wire.Header.Clone(), Channel: l.channel, State: messaging.ExecutionIdle}
	}()

	// Comm notifications (comm_open and friends) are handled but never
	// answered; only *_request messages get a reply.
	replyType, isRequest := messaging.ReplyType(wire.Header.MsgType)

	content, err := l.handler.HandleRequest(ctx, msg)
	var payload interface{} = content
	if err != nil {
		l.log.Warn("Handler failed for %q message %s: %v", wire.Header.MsgType, wire.Header.MsgID, err)
		if !isRequest {
			return
		}
		payload = messaging.NewErrorReply(handlerErrorName(err), err.Error())
	}

	if !isRequest || payload == nil {
		return
	}

	reply, err := messaging.ReplyWire(wire, replyType, payload, l.socket.Session())
	if err != nil {
		l.log.Error(utils.RedStyle.Render("Cannot serialize %q reply: %v"), replyType, err)
		return
	}

	if err := reply.Send(l.socket); err != nil {
		l.log.Error(utils.RedStyle.Render("Failed to send %q reply: %v"), replyType, err)
	}
}

// handlerErrorName maps a handler error to the exception name reported to the
// frontend.
func handlerErrorName(err error) string {
	var unknown *messaging.UnknownMessageTypeError
	if errors.As(err, &unknown) {
		return "UnknownMessageType"
	}

	return "HandlerError"
}
