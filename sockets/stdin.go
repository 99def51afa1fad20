package sockets

import (
	"context"
	"errors"
	"fmt"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"

	"rkernel/messaging"
)

var (
	// ErrStdinClosed is returned when the stdin socket shuts down while a
	// prompt is outstanding.
	ErrStdinClosed = errors.New("stdin socket closed")

	// ErrNotInputReply is returned when a message received on the stdin
	// socket is not an input_reply.
	ErrNotInputReply = errors.New("not an input_reply message")
)

// DecodeInputReply extracts the user's input from a message received on the
// stdin socket. Only messages tagged input_reply qualify; any other
// well-formed message is rejected rather than mistaken for empty input.
func DecodeInputReply(wire *messaging.WireMessage) (string, error) {
	if wire.Header.MsgType != messaging.InputReplyMessage {
		return "", fmt.Errorf("%w: %q", ErrNotInputReply, wire.Header.MsgType)
	}

	reply, err := messaging.FromWire[messaging.InputReply](wire)
	if err != nil {
		return "", err
	}

	return reply.Content.Value, nil
}

// Stdin serves the input_request/input_reply round trip. The kernel prompts
// through the frontend peer that sent the originating shell request, so the
// request's identities and header are threaded through to route the prompt
// correctly.
type Stdin struct {
	socket *Socket
	log    logger.Logger
}

func NewStdin(socket *Socket) *Stdin {
	stdin := &Stdin{socket: socket}
	config.InitLogger(&stdin.log, "Stdin ")

	return stdin
}

// RequestInput sends an input_request to the originating peer and blocks for
// the matching input_reply. Unrelated traffic on the socket is dropped.
func (s *Stdin) RequestInput(ctx context.Context, identities [][]byte, parent *messaging.MessageHeader, prompt string, password bool) (string, error) {
	request := messaging.NewMsg(messaging.InputRequest{Prompt: prompt, Password: password}, parent, s.socket.Session())
	request.Identities = identities

	if err := request.Send(s.socket); err != nil {
		return "", fmt.Errorf("failed to send input_request: %w", err)
	}

	for {
		frames, err := s.socket.RecvMultipart()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return "", ErrStdinClosed
			}
			s.log.Warn("Failed to receive on stdin socket: %v", err)
			continue
		}

		wire, err := messaging.FromFrames(frames, s.socket.Session())
		if err != nil {
			s.log.Error("Dropping malformed stdin message: %v", err)
			continue
		}

		value, err := DecodeInputReply(wire)
		if err != nil {
			s.log.Warn("Dropping %q message on stdin socket: %v", wire.Header.MsgType, err)
			continue
		}

		return value, nil
	}
}
