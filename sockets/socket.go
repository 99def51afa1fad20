// Package sockets wraps the kernel's ZeroMQ sockets and runs the per-socket
// serving loops. Each socket is owned by exactly one goroutine; cross-thread
// communication happens over channels, never by sharing a socket handle.
package sockets

import (
	"fmt"
	"net"

	"github.com/go-zeromq/zmq4"

	"rkernel/messaging"
)

const (
	// HeartbeatChannel through IOPubChannel index Kernel's socket set.
	HeartbeatChannel ChannelType = iota
	ControlChannel
	ShellChannel
	StdinChannel
	IOPubChannel
)

// ChannelType identifies which of the five kernel channels a socket serves.
type ChannelType int

func (t ChannelType) String() string {
	return [...]string{"heartbeat", "control", "shell", "stdin", "iopub"}[t]
}

// Socket is a thin wrapper around a zmq4 socket: the multipart send/receive
// primitive plus the session used to sign outgoing frames.
type Socket struct {
	zmq4.Socket

	Kind ChannelType
	Port int

	// Name is mostly used for debugging.
	Name string

	session *messaging.Session
}

// NewSocket wraps the given zmq4 socket for the given channel.
func NewSocket(socket zmq4.Socket, port int, kind ChannelType, name string, session *messaging.Session) *Socket {
	return &Socket{
		Socket:  socket,
		Kind:    kind,
		Port:    port,
		Name:    name,
		session: session,
	}
}

func (s *Socket) String() string {
	return fmt.Sprintf("%s(%d)", s.Kind, s.Port)
}

// Session returns the process-wide signing context.
func (s *Socket) Session() *messaging.Session {
	return s.session
}

// SendMultipart writes the given frames as one multipart transmission.
func (s *Socket) SendMultipart(frames [][]byte) error {
	return s.Socket.Send(zmq4.NewMsgFrom(frames...))
}

// RecvMultipart blocks for the next multipart transmission and returns its
// frames.
func (s *Socket) RecvMultipart() ([][]byte, error) {
	msg, err := s.Socket.Recv()
	if err != nil {
		return nil, err
	}

	return msg.Frames, nil
}

// Bind listens on the socket's configured port. A port of 0 is replaced with
// the port actually bound.
func (s *Socket) Bind(transport string, ip string) error {
	if err := s.Socket.Listen(fmt.Sprintf("%s://%s:%d", transport, ip, s.Port)); err != nil {
		return err
	}

	if addr, ok := s.Socket.Addr().(*net.TCPAddr); ok {
		s.Port = addr.Port
	}

	return nil
}
