package messaging

import (
	"encoding/json"
	"fmt"
)

// CannotSerializeError indicates that a message's content could not be
// serialized to JSON. This is the only way the typed-to-wire direction can
// fail, and it is treated as fatal by the caller.
type CannotSerializeError struct {
	Err error
}

func (e *CannotSerializeError) Error() string {
	return fmt.Sprintf("cannot serialize message: %v", e.Err)
}

func (e *CannotSerializeError) Unwrap() error { return e.Err }

// Msg is a typed Jupyter message: the same shape as a WireMessage, but with
// content deserialized into one of the known schemas.
type Msg[T any] struct {
	// Identities are the ZeroMQ identity frames for ROUTER-style routing.
	Identities [][]byte

	// Header for this message.
	Header MessageHeader

	// ParentHeader of the message this one originated from, if any.
	ParentHeader *MessageHeader

	// Content is the typed payload.
	Content T
}

// NewMsg creates a typed message, optionally as a child of an existing
// message. The header is freshly minted from the kernel session.
func NewMsg[T Content](content T, parent *MessageHeader, session *Session) *Msg[T] {
	return &Msg[T]{
		Header:       *NewHeader(content.MessageType(), session.ID, session.Username),
		ParentHeader: parent,
		Content:      content,
	}
}

// NewReply creates a reply to a request. The reply's parent header is the
// original request's header, verbatim, and its own header is minted from the
// kernel's session, never the requester's; the request's identities are
// preserved so a ROUTER socket routes the reply back to the requesting peer.
func NewReply[R Content, T any](request *Msg[T], content R, session *Session) *Msg[R] {
	return &Msg[R]{
		Identities:   request.Identities,
		Header:       *NewHeader(content.MessageType(), session.ID, session.Username),
		ParentHeader: request.Header.Clone(),
		Content:      content,
	}
}

// Wire converts the typed message into an untyped WireMessage ready for
// signing and dispatch.
func (m *Msg[T]) Wire() (*WireMessage, error) {
	content, err := json.Marshal(m.Content)
	if err != nil {
		return nil, &CannotSerializeError{Err: err}
	}

	return &WireMessage{
		Identities:   m.Identities,
		Header:       m.Header,
		ParentHeader: m.ParentHeader,
		Metadata:     json.RawMessage(emptyObjectFrame),
		Content:      content,
	}, nil
}

// Send serializes, signs, and writes this message to the given transport.
func (m *Msg[T]) Send(transport Transport) error {
	wire, err := m.Wire()
	if err != nil {
		return err
	}

	return wire.Send(transport)
}

// MessageType returns the wire tag recorded in the message header.
func (m *Msg[T]) MessageType() string {
	return m.Header.MsgType
}

func (m *Msg[T]) isMessage() {}

// validator is implemented by content schemas that need structural checks
// beyond JSON deserialization, e.g. to disambiguate schemas sharing a wire
// tag.
type validator interface {
	validate() error
}

// FromWire attempts to deserialize a wire message's content into the schema
// T. The wire header and identities are carried over unchanged.
func FromWire[T Content](wire *WireMessage) (*Msg[T], error) {
	var content T
	if err := json.Unmarshal(wire.Content, &content); err != nil {
		return nil, &InvalidPartError{Frame: "content", Err: err}
	}

	if v, ok := any(content).(validator); ok {
		if err := v.validate(); err != nil {
			return nil, &InvalidPartError{Frame: "content", Err: err}
		}
	}

	return &Msg[T]{
		Identities:   wire.Identities,
		Header:       wire.Header,
		ParentHeader: wire.ParentHeader,
		Content:      content,
	}, nil
}

// ReplyWire builds the untyped reply to a parsed request, minting the reply
// header under the given wire tag. Used where the reply content's tag is
// determined by the request (error replies travel under the successful
// reply's tag).
func ReplyWire(request *WireMessage, msgType string, content interface{}, session *Session) (*WireMessage, error) {
	raw, err := json.Marshal(content)
	if err != nil {
		return nil, &CannotSerializeError{Err: err}
	}

	return &WireMessage{
		Identities:   request.Identities,
		Header:       *NewHeader(msgType, session.ID, session.Username),
		ParentHeader: request.Header.Clone(),
		Metadata:     json.RawMessage(emptyObjectFrame),
		Content:      raw,
	}, nil
}

// NewErrorReply builds error-reply content for a failed request.
func NewErrorReply(errName string, errValue string) *ErrorReply {
	return &ErrorReply{
		Status:   StatusError,
		ErrName:  errName,
		ErrValue: errValue,
	}
}
