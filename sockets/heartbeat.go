package sockets

import (
	"context"
	"errors"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/go-zeromq/zmq4"
)

// Heartbeat echoes every message it receives, verbatim, so frontends can
// detect a hung kernel process.
type Heartbeat struct {
	socket *Socket
	log    logger.Logger
}

func NewHeartbeat(socket *Socket) *Heartbeat {
	hb := &Heartbeat{socket: socket}
	config.InitLogger(&hb.log, "Heartbeat ")

	return hb
}

// Run serves the echo loop until the context is cancelled or the socket
// closes.
func (hb *Heartbeat) Run(ctx context.Context) {
	for {
		msg, err := hb.socket.Recv()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			hb.log.Warn("Failed to receive heartbeat message: %v", err)
			continue
		}

		if err := hb.socket.Send(zmq4.NewMsgFrom(msg.Frames...)); err != nil {
			hb.log.Warn("Failed to echo heartbeat message: %v", err)
		}
	}
}
