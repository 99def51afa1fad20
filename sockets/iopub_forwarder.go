package sockets

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"

	"rkernel/iopub"
	"rkernel/messaging"
	"rkernel/utils"
)

// ParseSubscription decodes a subscription notification observed on an XPUB
// socket: a single frame whose first byte is 1 (subscribe) or 0
// (unsubscribe), followed by the UTF-8 topic.
func ParseSubscription(frames [][]byte) (iopub.Subscription, error) {
	if len(frames) != 1 {
		return iopub.Subscription{}, fmt.Errorf("subscription message on XPUB must be a single frame; received %d frames", len(frames))
	}

	frame := frames[0]
	if len(frame) == 0 {
		return iopub.Subscription{}, errors.New("subscription message on XPUB must be at least one byte")
	}

	topic := frame[1:]
	if !utf8.Valid(topic) {
		return iopub.Subscription{}, &messaging.Utf8Error{Frame: "subscription", Raw: append([]byte(nil), topic...)}
	}

	return iopub.Subscription{
		Subscribe: frame[0] == 1,
		Topic:     string(topic),
	}, nil
}

// IOPubForwarder owns the XPUB socket on behalf of the broadcast engine. The
// writer goroutine is the only one that ever sends on the socket; the reader
// goroutine only receives subscription notifications. Single-writer
// discipline is enforced by ownership, not locking.
type IOPubForwarder struct {
	socket        *Socket
	outbound      <-chan messaging.Message
	subscriptions chan<- iopub.Subscription
	log           logger.Logger
}

func NewIOPubForwarder(socket *Socket, outbound <-chan messaging.Message, subscriptions chan<- iopub.Subscription) *IOPubForwarder {
	forwarder := &IOPubForwarder{
		socket:        socket,
		outbound:      outbound,
		subscriptions: subscriptions,
	}
	config.InitLogger(&forwarder.log, "IOPubForwarder ")

	return forwarder
}

// RunWriter drains the engine's outbound channel onto the socket. Send
// failures are logged and swallowed; one failed transmission must never
// prevent delivery of the next.
func (f *IOPubForwarder) RunWriter(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-f.outbound:
			if !ok {
				return
			}

			if err := msg.Send(f.socket); err != nil {
				f.log.Warn(utils.OrangeStyle.Render("Failed to publish %q message: %v"), msg.MessageType(), err)
			}
		}
	}
}

// RunReader watches the XPUB socket for subscription notifications and
// relays them to the engine.
func (f *IOPubForwarder) RunReader(ctx context.Context) {
	for {
		frames, err := f.socket.RecvMultipart()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			f.log.Warn("Failed to receive on iopub socket: %v", err)
			continue
		}

		subscription, err := ParseSubscription(frames)
		if err != nil {
			f.log.Error("Dropping malformed subscription message: %v", err)
			continue
		}

		select {
		case f.subscriptions <- subscription:
		case <-ctx.Done():
			return
		}
	}
}
