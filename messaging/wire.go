package messaging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// DelimiterFrame separates the ZeroMQ socket identities (IDS) from the message
// body payload (MSG) in a multipart Jupyter message.
var DelimiterFrame = []byte("<IDS|MSG>")

// emptyObjectFrame is the wire encoding of an absent parent header or metadata.
var emptyObjectFrame = []byte("{}")

// A multipart message carries, after the delimiter, exactly these payload
// frames in this order.
const (
	frameSignature int = iota
	frameHeader
	frameParentHeader
	frameMetadata
	frameContent
	numPayloadFrames
)

var (
	ErrMissingDelimiter = fmt.Errorf("missing <IDS|MSG> delimiter frame")
)

// InsufficientPartsError indicates that a message did not carry enough payload
// frames after the delimiter.
type InsufficientPartsError struct {
	Have int
	Want int
}

func (e *InsufficientPartsError) Error() string {
	return fmt.Sprintf("insufficient message parts: have %d, want %d", e.Have, e.Want)
}

// Utf8Error indicates that a payload frame was not valid UTF-8. Frame names
// the offending frame for diagnosability.
type Utf8Error struct {
	Frame string
	Raw   []byte
}

func (e *Utf8Error) Error() string {
	return fmt.Sprintf("%s frame is not valid UTF-8 (%d bytes)", e.Frame, len(e.Raw))
}

// JSONParseError indicates that a payload frame did not parse as JSON.
type JSONParseError struct {
	Frame string
	Text  string
	Err   error
}

func (e *JSONParseError) Error() string {
	return fmt.Sprintf("%s frame is not valid JSON: %v", e.Frame, e.Err)
}

func (e *JSONParseError) Unwrap() error { return e.Err }

// InvalidPartError indicates that a payload frame parsed as JSON but did not
// deserialize into the expected shape.
type InvalidPartError struct {
	Frame string
	Err   error
}

func (e *InvalidPartError) Error() string {
	return fmt.Sprintf("invalid %s frame: %v", e.Frame, e.Err)
}

func (e *InvalidPartError) Unwrap() error { return e.Err }

// Transport is the boundary into the socket layer consumed by the wire codec.
// The concrete socket wraps a ZeroMQ multipart send primitive together with
// the session used to sign outgoing frames.
type Transport interface {
	// SendMultipart writes the given frames as one multipart transmission.
	SendMultipart(frames [][]byte) error

	// Session returns the process-wide signing context.
	Session() *Session
}

// WireMessage represents an untyped Jupyter message delivered over the wire.
// It can represent any kind of message; typically its header is examined and
// the message converted into a typed one via ParseMessage.
type WireMessage struct {
	// Identities are the ZeroMQ identity frames. They store the peer identity
	// for messages delivered request-reply style over ROUTER sockets (like the
	// shell) and are preserved verbatim when a request is turned into its
	// reply so the reply routes back to the correct peer.
	Identities [][]byte

	// Header for this message.
	Header MessageHeader

	// ParentHeader is the header of the message from which this message
	// originated, if any. When nil it is serialized as an empty JSON object,
	// as required by the protocol.
	ParentHeader *MessageHeader

	// Metadata carries the raw metadata frame.
	Metadata json.RawMessage

	// Content carries the raw content frame.
	Content json.RawMessage
}

// FromFrames parses a multipart frame list into a WireMessage, verifying the
// HMAC signature against the given session. A verification or framing failure
// is fatal to this one message only, never to the connection.
func FromFrames(frames [][]byte, session *Session) (*WireMessage, error) {
	// Scan for the <IDS|MSG> delimiter; everything before it is the set of
	// socket identities, everything after it is signature + payload.
	delim := -1
	for i, frame := range frames {
		if bytes.Equal(frame, DelimiterFrame) {
			delim = i
			break
		}
	}
	if delim < 0 {
		return nil, ErrMissingDelimiter
	}

	identities := frames[:delim]
	payload := frames[delim+1:]
	if len(payload) < numPayloadFrames {
		return nil, &InsufficientPartsError{Have: len(payload), Want: numPayloadFrames}
	}

	if err := session.Verify(payload[frameSignature], payload[frameHeader:numPayloadFrames]); err != nil {
		return nil, err
	}

	headerRaw, err := parseFrame("header", payload[frameHeader])
	if err != nil {
		return nil, err
	}
	var header MessageHeader
	if err := json.Unmarshal(headerRaw, &header); err != nil {
		return nil, &InvalidPartError{Frame: "header", Err: err}
	}

	parent, err := parseParentHeader(payload[frameParentHeader])
	if err != nil {
		return nil, err
	}

	metadata, err := parseFrame("metadata", payload[frameMetadata])
	if err != nil {
		return nil, err
	}

	content, err := parseFrame("content", payload[frameContent])
	if err != nil {
		return nil, err
	}

	return &WireMessage{
		Identities:   cloneFrames(identities),
		Header:       header,
		ParentHeader: parent,
		Metadata:     metadata,
		Content:      content,
	}, nil
}

// parseParentHeader decodes the parent header frame. The protocol allows the
// empty/placeholder parent object to degenerate to minimal encodings ("",
// "{}", "null", ...); any frame of those trivial lengths means no parent,
// which is not an error. Anything longer must parse as a valid header.
func parseParentHeader(frame []byte) (*MessageHeader, error) {
	switch len(frame) {
	case 0, 1, 2, 4:
		return nil, nil
	}

	raw, err := parseFrame("parent header", frame)
	if err != nil {
		return nil, err
	}

	var parent MessageHeader
	if err := json.Unmarshal(raw, &parent); err != nil {
		return nil, &InvalidPartError{Frame: "parent header", Err: err}
	}

	return &parent, nil
}

// parseFrame UTF-8-decodes then JSON-validates a single payload frame,
// returning the raw JSON. Each failure mode carries the frame name.
func parseFrame(name string, frame []byte) (json.RawMessage, error) {
	if !utf8.Valid(frame) {
		return nil, &Utf8Error{Frame: name, Raw: append([]byte(nil), frame...)}
	}

	var value json.RawMessage
	if err := json.Unmarshal(frame, &value); err != nil {
		return nil, &JSONParseError{Frame: name, Text: string(frame), Err: err}
	}

	return value, nil
}

// RawParts serializes the four payload frames (header, parent-header-or-empty,
// metadata, content) in wire order. This is the exact inverse of the payload
// portion of FromFrames, and the input to signing.
func (w *WireMessage) RawParts() ([][]byte, error) {
	header, err := json.Marshal(&w.Header)
	if err != nil {
		return nil, err
	}

	// Orphan messages carry an empty dict as parent, never JSON null.
	parent := emptyObjectFrame
	if w.ParentHeader != nil {
		if parent, err = json.Marshal(w.ParentHeader); err != nil {
			return nil, err
		}
	}

	metadata := []byte(w.Metadata)
	if len(metadata) == 0 {
		metadata = emptyObjectFrame
	}

	content := []byte(w.Content)
	if len(content) == 0 {
		content = emptyObjectFrame
	}

	return [][]byte{header, parent, metadata, content}, nil
}

// Send signs and writes this message to the given transport as one multipart
// transmission: identities, delimiter, signature, then the four payload
// frames. This is the only path by which bytes reach the transport; every
// higher layer funnels through it so that frame ordering and signing stay
// consistent.
func (w *WireMessage) Send(transport Transport) error {
	parts, err := w.RawParts()
	if err != nil {
		return &CannotSerializeError{Err: err}
	}

	signature := transport.Session().Sign(parts)

	frames := make([][]byte, 0, len(w.Identities)+2+len(parts))
	frames = append(frames, w.Identities...)
	frames = append(frames, DelimiterFrame, []byte(signature))
	frames = append(frames, parts...)

	return transport.SendMultipart(frames)
}

func cloneFrames(frames [][]byte) [][]byte {
	if len(frames) == 0 {
		return nil
	}

	cloned := make([][]byte, len(frames))
	for i, frame := range frames {
		cloned[i] = append([]byte(nil), frame...)
	}
	return cloned
}
