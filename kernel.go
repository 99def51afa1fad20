// Package rkernel assembles the Jupyter messaging machinery into a runnable
// kernel: the five ZeroMQ channels, the signing session, the IOPub broadcast
// engine, and the comm registry.
package rkernel

import (
	"context"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/go-zeromq/zmq4"
	"github.com/pkg/errors"

	"rkernel/comms"
	"rkernel/iopub"
	"rkernel/messaging"
	"rkernel/sockets"
	"rkernel/utils"
)

const (
	// eventQueueSize bounds how far execution can run ahead of the IOPub
	// engine before producers block.
	eventQueueSize = 256

	// outboundQueueSize bounds how far the engine can run ahead of the
	// socket writer before broadcasts are dropped.
	outboundQueueSize = 256
)

// Kernel owns the sockets and goroutines of a running language kernel.
// Construct it with NewKernel, then call Run once.
type Kernel struct {
	connection *ConnectionInfo
	session    *messaging.Session

	heartbeat *sockets.Socket
	control   *sockets.Socket
	shell     *sockets.Socket
	stdin     *sockets.Socket
	iopub     *sockets.Socket

	events        chan iopub.Event
	subscriptions chan iopub.Subscription
	outbound      chan messaging.Message

	engine          *iopub.Engine
	echo            *sockets.Heartbeat
	shellListener   *sockets.Listener
	controlListener *sockets.Listener
	inputRequester  *sockets.Stdin
	forwarder       *sockets.IOPubForwarder
	commManager     *comms.Manager

	log logger.Logger
}

// NewKernel creates the kernel's sockets, binds them per the connection file,
// and wires the broadcast pipeline. The shell and control handlers service
// requests on their respective channels.
func NewKernel(connection *ConnectionInfo, shellHandler sockets.RequestHandler, controlHandler sockets.RequestHandler) (*Kernel, error) {
	kernel := &Kernel{
		connection:    connection,
		session:       messaging.NewSession(connection.Key),
		events:        make(chan iopub.Event, eventQueueSize),
		subscriptions: make(chan iopub.Subscription, 1),
		outbound:      make(chan messaging.Message, outboundQueueSize),
	}
	config.InitLogger(&kernel.log, "Kernel ")

	ctx := context.Background()
	kernel.heartbeat = sockets.NewSocket(zmq4.NewRep(ctx), connection.HeartbeatPort, sockets.HeartbeatChannel, "HB", kernel.session)
	kernel.control = sockets.NewSocket(zmq4.NewRouter(ctx), connection.ControlPort, sockets.ControlChannel, "Control", kernel.session)
	kernel.shell = sockets.NewSocket(zmq4.NewRouter(ctx), connection.ShellPort, sockets.ShellChannel, "Shell", kernel.session)
	kernel.stdin = sockets.NewSocket(zmq4.NewRouter(ctx), connection.StdinPort, sockets.StdinChannel, "Stdin", kernel.session)
	kernel.iopub = sockets.NewSocket(zmq4.NewXPub(ctx), connection.IOPubPort, sockets.IOPubChannel, "IOPub", kernel.session)

	for _, socket := range []*sockets.Socket{kernel.heartbeat, kernel.control, kernel.shell, kernel.stdin, kernel.iopub} {
		if err := socket.Bind(connection.Transport, connection.IP); err != nil {
			return nil, errors.Wrapf(err, "failed to bind %v socket", socket)
		}
		kernel.log.Debug(utils.GrayStyle.Render("Bound %v socket."), socket)
	}

	kernel.engine = iopub.NewEngine(kernel.session, kernel.events, kernel.subscriptions, kernel.outbound)
	kernel.echo = sockets.NewHeartbeat(kernel.heartbeat)
	kernel.shellListener = sockets.NewListener(kernel.shell, iopub.Shell, kernel.events, shellHandler)
	kernel.controlListener = sockets.NewListener(kernel.control, iopub.Control, kernel.events, controlHandler)
	kernel.inputRequester = sockets.NewStdin(kernel.stdin)
	kernel.forwarder = sockets.NewIOPubForwarder(kernel.iopub, kernel.outbound, kernel.subscriptions)
	kernel.commManager = comms.NewManager(kernel.events)

	return kernel, nil
}

// Connection reports the connection parameters in effect, including any
// ports resolved at bind time.
func (k *Kernel) Connection() ConnectionInfo {
	connection := *k.connection
	connection.HeartbeatPort = k.heartbeat.Port
	connection.ControlPort = k.control.Port
	connection.ShellPort = k.shell.Port
	connection.StdinPort = k.stdin.Port
	connection.IOPubPort = k.iopub.Port

	return connection
}

// Events is the producer side of the IOPub pipeline. Execution code pushes
// broadcast events here.
func (k *Kernel) Events() chan<- iopub.Event {
	return k.events
}

// Comms returns the comm registry.
func (k *Kernel) Comms() *comms.Manager {
	return k.commManager
}

// Stdin returns the stdin round-trip used to prompt the frontend for input.
func (k *Kernel) Stdin() *sockets.Stdin {
	return k.inputRequester
}

// WaitReady blocks until the first IOPub subscriber has been welcomed, so a
// caller can hold back output until someone is listening.
func (k *Kernel) WaitReady(ctx context.Context) error {
	select {
	case <-k.engine.Ready():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run serves all five channels until ctx is cancelled or the broadcast
// pipeline fails. It closes the sockets on the way out.
func (k *Kernel) Run(ctx context.Context) error {
	defer k.closeSockets()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	engineFailed := make(chan error, 1)
	go func() {
		engineFailed <- k.engine.Run()
	}()

	go k.echo.Run(ctx)
	go k.forwarder.RunWriter(ctx)
	go k.forwarder.RunReader(ctx)
	go k.shellListener.Run(ctx)
	go k.controlListener.Run(ctx)

	k.log.Info(utils.GreenStyle.Render("Kernel serving on %s://%s (shell=%d, control=%d, stdin=%d, hb=%d, iopub=%d)."),
		k.connection.Transport, k.connection.IP,
		k.shell.Port, k.control.Port, k.stdin.Port, k.heartbeat.Port, k.iopub.Port)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-engineFailed:
		k.log.Error(utils.RedStyle.Render("IOPub engine terminated: %v"), err)
		return err
	}
}

func (k *Kernel) closeSockets() {
	for _, socket := range []*sockets.Socket{k.heartbeat, k.control, k.shell, k.stdin, k.iopub} {
		if err := socket.Close(); err != nil {
			k.log.Warn("Failed to close %v socket: %v", socket, err)
		}
	}
}
