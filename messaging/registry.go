package messaging

import (
	"fmt"
	"strings"

	"github.com/elliotchance/orderedmap/v2"
)

// Message is a parsed, typed Jupyter message. The set of implementations is
// closed: every Msg[T] for a registered content schema T. Dispatch at process
// boundaries is a type switch over *Msg[T] instantiations; parsing an
// unregistered tag is a hard failure, never a silently dropped message.
type Message interface {
	// MessageType returns the wire tag from the message header.
	MessageType() string

	// Wire converts back into an untyped WireMessage. This direction is
	// total; it fails only if JSON serialization of the content fails.
	Wire() (*WireMessage, error)

	// Send serializes the message and writes it to the transport.
	Send(transport Transport) error

	isMessage()
}

// UnknownMessageTypeError indicates that a wire message carried a msg_type
// tag the kernel does not understand.
type UnknownMessageTypeError struct {
	Tag string
}

func (e *UnknownMessageTypeError) Error() string {
	return fmt.Sprintf("unknown message type %q", e.Tag)
}

type decoder func(*WireMessage) (Message, error)

// registry maps a msg_type tag to its candidate content decoders, in priority
// order. Insertion order is preserved so dispatch over ambiguous tags is
// deterministic: the first decoder to succeed wins. The one ambiguous tag is
// execute_reply, where the narrower exception schema is tried before the
// general reply schema.
var registry = newRegistry()

func newRegistry() *orderedmap.OrderedMap[string, []decoder] {
	r := orderedmap.NewOrderedMap[string, []decoder]()

	register[KernelStatus](r)
	register[StreamOutput](r)
	register[ExecuteResult](r)
	register[ExecuteError](r)
	register[ExecuteInput](r)
	register[DisplayData](r)
	register[UpdateDisplayData](r)
	register[Welcome](r)
	register[ExecuteRequest](r)
	register[ExecuteReplyException](r) // before ExecuteReply; same tag
	register[ExecuteReply](r)
	register[KernelInfoRequest](r)
	register[KernelInfoReply](r)
	register[IsCompleteRequest](r)
	register[IsCompleteReply](r)
	register[CompleteRequest](r)
	register[CompleteReply](r)
	register[InterruptRequest](r)
	register[InterruptReply](r)
	register[ShutdownRequest](r)
	register[ShutdownReply](r)
	register[InputRequest](r)
	register[InputReply](r)
	register[CommOpen](r)
	register[CommWireMsg](r)
	register[CommClose](r)
	register[CommInfoRequest](r)
	register[CommInfoReply](r)

	return r
}

func register[T Content](r *orderedmap.OrderedMap[string, []decoder]) {
	var zero T
	tag := zero.MessageType()

	candidates, _ := r.Get(tag)
	candidates = append(candidates, func(wire *WireMessage) (Message, error) {
		return FromWire[T](wire)
	})
	r.Set(tag, candidates)
}

// ParseMessage converts an untyped wire message into its typed variant by
// inspecting the header's msg_type tag. For a tag with multiple candidate
// schemas, candidates are tried in registration order and the first
// successful parse wins; if every candidate fails, the last failure is
// returned.
func ParseMessage(wire *WireMessage) (Message, error) {
	candidates, ok := registry.Get(wire.Header.MsgType)
	if !ok {
		return nil, &UnknownMessageTypeError{Tag: wire.Header.MsgType}
	}

	var lastErr error
	for _, decode := range candidates {
		msg, err := decode(wire)
		if err == nil {
			return msg, nil
		}
		lastErr = err
	}

	return nil, lastErr
}

// KnownMessageTypes returns every registered msg_type tag, in registration
// order.
func KnownMessageTypes() []string {
	return registry.Keys()
}

// ReplyType derives the reply tag for a request tag: "execute_request"
// becomes "execute_reply". Returns false if the tag is not a request.
func ReplyType(requestType string) (string, bool) {
	base, found := strings.CutSuffix(requestType, "_request")
	if !found {
		return "", false
	}

	return base + "_reply", true
}
