// Package comms tracks the kernel's open comms (frontend-facing side
// channels; the DAP and LSP servers are reached through comm targets) and
// turns comm traffic into IOPub broadcast events.
package comms

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"

	"rkernel/iopub"
	"rkernel/messaging"
)

var (
	ErrUnknownCommTarget = errors.New("unknown comm target")
	ErrUnknownComm       = errors.New("unknown comm id")
)

// Handler is implemented by a comm target (a DAP server, an LSP server, a UI
// comm). Handlers run on the calling goroutine; anything they want broadcast
// goes through the comm, which enqueues to the IOPub engine.
type Handler interface {
	// Opened is invoked when the frontend opens a comm for this target.
	Opened(comm *Comm, data json.RawMessage) error

	// Message handles a payload sent over an open comm. A non-nil reply is
	// published as an RPC reply correlated, via parent header, to the
	// request that carried the payload.
	Message(comm *Comm, parent *messaging.MessageHeader, data json.RawMessage) (json.RawMessage, error)

	// Closed is invoked when the comm is torn down.
	Closed(comm *Comm)
}

// Comm is one open side channel, identified by comm id.
type Comm struct {
	ID         string
	TargetName string

	events  chan<- iopub.Event
	handler Handler
}

// SendData broadcasts an asynchronous payload over this comm.
func (c *Comm) SendData(data json.RawMessage) {
	c.events <- iopub.CommOutgoing{CommID: c.ID, Kind: iopub.CommDataEvent, Data: data}
}

// SendRpcReply answers a frontend RPC, correlated to the request via parent.
func (c *Comm) SendRpcReply(parent *messaging.MessageHeader, data json.RawMessage) {
	c.events <- iopub.CommOutgoing{CommID: c.ID, Kind: iopub.CommRpcReplyEvent, Data: data, Parent: parent}
}

// Manager is the registry of comm targets and open comms. It is shared by
// the shell listener (frontend-initiated traffic) and kernel subsystems
// (kernel-initiated comms), so the registries are concurrent maps.
type Manager struct {
	targets cmap.ConcurrentMap[string, Handler]
	comms   cmap.ConcurrentMap[string, *Comm]
	events  chan<- iopub.Event
	log     logger.Logger
}

func NewManager(events chan<- iopub.Event) *Manager {
	manager := &Manager{
		targets: cmap.New[Handler](),
		comms:   cmap.New[*Comm](),
		events:  events,
	}
	config.InitLogger(&manager.log, "CommManager ")

	return manager
}

// RegisterTarget makes a comm target available for the frontend to open.
func (m *Manager) RegisterTarget(name string, handler Handler) {
	m.targets.Set(name, handler)
}

// OpenFromKernel opens a kernel-initiated comm to the frontend and announces
// it on IOPub.
func (m *Manager) OpenFromKernel(targetName string, handler Handler, data json.RawMessage) *Comm {
	comm := &Comm{
		ID:         uuid.New().String(),
		TargetName: targetName,
		events:     m.events,
		handler:    handler,
	}
	m.comms.Set(comm.ID, comm)

	m.events <- iopub.CommOutgoing{CommID: comm.ID, Kind: iopub.CommOpenEvent, TargetName: targetName, Data: data}

	return comm
}

// HandleOpen services a frontend-initiated comm_open.
func (m *Manager) HandleOpen(msg *messaging.Msg[messaging.CommOpen]) error {
	handler, ok := m.targets.Get(msg.Content.TargetName)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCommTarget, msg.Content.TargetName)
	}

	comm := &Comm{
		ID:         msg.Content.CommID,
		TargetName: msg.Content.TargetName,
		events:     m.events,
		handler:    handler,
	}
	m.comms.Set(comm.ID, comm)

	if err := handler.Opened(comm, msg.Content.Data); err != nil {
		m.comms.Remove(comm.ID)
		return err
	}

	m.log.Debug("Opened comm %s for target %q.", comm.ID, comm.TargetName)
	return nil
}

// HandleMsg services a frontend comm_msg, publishing the handler's reply (if
// any) as an RPC reply correlated to the incoming message's header.
func (m *Manager) HandleMsg(msg *messaging.Msg[messaging.CommWireMsg]) error {
	comm, ok := m.comms.Get(msg.Content.CommID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownComm, msg.Content.CommID)
	}

	reply, err := comm.handler.Message(comm, msg.Header.Clone(), msg.Content.Data)
	if err != nil {
		return err
	}

	if reply != nil {
		comm.SendRpcReply(msg.Header.Clone(), reply)
	}

	return nil
}

// HandleClose tears down a frontend-closed comm. Closing an unknown comm is
// not an error; the frontend may race our own close.
func (m *Manager) HandleClose(msg *messaging.Msg[messaging.CommClose]) {
	comm, ok := m.comms.Pop(msg.Content.CommID)
	if !ok {
		m.log.Debug("Ignoring comm_close for unknown comm %q.", msg.Content.CommID)
		return
	}

	comm.handler.Closed(comm)
}

// Close tears down a kernel-initiated comm and announces the close on IOPub.
func (m *Manager) Close(commID string) {
	comm, ok := m.comms.Pop(commID)
	if !ok {
		return
	}

	m.events <- iopub.CommOutgoing{CommID: comm.ID, Kind: iopub.CommCloseEvent}
}

// Info reports every open comm keyed by id, in the shape expected by
// comm_info_reply, optionally filtered by target name.
func (m *Manager) Info(targetName string) map[string]interface{} {
	info := make(map[string]interface{}, m.comms.Count())
	for id, comm := range m.comms.Items() {
		if targetName != "" && comm.TargetName != targetName {
			continue
		}
		info[id] = map[string]interface{}{"target_name": comm.TargetName}
	}

	return info
}
