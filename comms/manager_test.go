package comms_test

import (
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"rkernel/comms"
	"rkernel/iopub"
	"rkernel/messaging"
)

// recordingHandler is a comm target that records its callbacks and can answer
// RPCs with a canned reply.
type recordingHandler struct {
	opened   []json.RawMessage
	messages []json.RawMessage
	closed   int

	reply json.RawMessage
	err   error
}

func (h *recordingHandler) Opened(_ *comms.Comm, data json.RawMessage) error {
	h.opened = append(h.opened, data)
	return h.err
}

func (h *recordingHandler) Message(_ *comms.Comm, _ *messaging.MessageHeader, data json.RawMessage) (json.RawMessage, error) {
	h.messages = append(h.messages, data)
	return h.reply, h.err
}

func (h *recordingHandler) Closed(_ *comms.Comm) {
	h.closed++
}

func openMsg(commID string, target string) *messaging.Msg[messaging.CommOpen] {
	session := messaging.NewSession("")
	return messaging.NewMsg(messaging.CommOpen{CommID: commID, TargetName: target, Data: json.RawMessage(`{}`)}, nil, session)
}

var _ = Describe("Comm manager", func() {
	var (
		events  chan iopub.Event
		manager *comms.Manager
		handler *recordingHandler
	)

	BeforeEach(func() {
		events = make(chan iopub.Event, 16)
		manager = comms.NewManager(events)
		handler = &recordingHandler{}
		manager.RegisterTarget("debugger", handler)
	})

	It("Will dispatch a frontend comm_open to the registered target", func() {
		Expect(manager.HandleOpen(openMsg("comm-1", "debugger"))).To(Succeed())
		Expect(handler.opened).To(HaveLen(1))
	})

	It("Will reject a comm_open for an unregistered target", func() {
		err := manager.HandleOpen(openMsg("comm-1", "nonexistent"))
		Expect(err).To(MatchError(comms.ErrUnknownCommTarget))
	})

	It("Will route comm messages to the owning target and publish RPC replies", func() {
		handler.reply = json.RawMessage(`{"answer":42}`)
		Expect(manager.HandleOpen(openMsg("comm-1", "debugger"))).To(Succeed())

		session := messaging.NewSession("")
		request := messaging.NewMsg(messaging.CommWireMsg{CommID: "comm-1", Data: json.RawMessage(`{"cmd":"ping"}`)}, nil, session)
		Expect(manager.HandleMsg(request)).To(Succeed())
		Expect(handler.messages).To(HaveLen(1))

		var event iopub.Event
		Expect(events).To(Receive(&event))

		outgoing, ok := event.(iopub.CommOutgoing)
		Expect(ok).To(BeTrue())
		Expect(outgoing.Kind).To(Equal(iopub.CommRpcReplyEvent))
		Expect(outgoing.CommID).To(Equal("comm-1"))
		Expect(outgoing.Parent).ToNot(BeNil())
		Expect(outgoing.Parent.MsgID).To(Equal(request.Header.MsgID))
	})

	It("Will not publish anything when a handler returns no reply", func() {
		Expect(manager.HandleOpen(openMsg("comm-1", "debugger"))).To(Succeed())

		session := messaging.NewSession("")
		request := messaging.NewMsg(messaging.CommWireMsg{CommID: "comm-1", Data: json.RawMessage(`{}`)}, nil, session)
		Expect(manager.HandleMsg(request)).To(Succeed())
		Expect(events).ToNot(Receive())
	})

	It("Will reject comm messages for an unknown comm id", func() {
		session := messaging.NewSession("")
		request := messaging.NewMsg(messaging.CommWireMsg{CommID: "ghost", Data: json.RawMessage(`{}`)}, nil, session)
		Expect(manager.HandleMsg(request)).To(MatchError(comms.ErrUnknownComm))
	})

	It("Will tear down a comm on frontend comm_close", func() {
		Expect(manager.HandleOpen(openMsg("comm-1", "debugger"))).To(Succeed())

		session := messaging.NewSession("")
		closeRequest := messaging.NewMsg(messaging.CommClose{CommID: "comm-1"}, nil, session)
		manager.HandleClose(closeRequest)
		Expect(handler.closed).To(Equal(1))

		request := messaging.NewMsg(messaging.CommWireMsg{CommID: "comm-1", Data: json.RawMessage(`{}`)}, nil, session)
		Expect(manager.HandleMsg(request)).To(MatchError(comms.ErrUnknownComm))
	})

	It("Will announce kernel-initiated comms on IOPub", func() {
		comm := manager.OpenFromKernel("lsp", handler, json.RawMessage(`{"port":9999}`))
		Expect(comm.ID).ToNot(BeEmpty())
		Expect(comm.TargetName).To(Equal("lsp"))

		var event iopub.Event
		Expect(events).To(Receive(&event))
		open, ok := event.(iopub.CommOutgoing)
		Expect(ok).To(BeTrue())
		Expect(open.Kind).To(Equal(iopub.CommOpenEvent))
		Expect(open.TargetName).To(Equal("lsp"))

		comm.SendData(json.RawMessage(`{"tick":1}`))
		Expect(events).To(Receive(&event))
		data, ok := event.(iopub.CommOutgoing)
		Expect(ok).To(BeTrue())
		Expect(data.Kind).To(Equal(iopub.CommDataEvent))
		Expect(data.CommID).To(Equal(comm.ID))

		manager.Close(comm.ID)
		Expect(events).To(Receive(&event))
		closed, ok := event.(iopub.CommOutgoing)
		Expect(ok).To(BeTrue())
		Expect(closed.Kind).To(Equal(iopub.CommCloseEvent))
	})

	It("Will report open comms, optionally filtered by target", func() {
		Expect(manager.HandleOpen(openMsg("comm-1", "debugger"))).To(Succeed())
		manager.RegisterTarget("lsp", &recordingHandler{})
		lsp := manager.OpenFromKernel("lsp", &recordingHandler{}, nil)

		all := manager.Info("")
		Expect(all).To(HaveLen(2))
		Expect(all).To(HaveKey("comm-1"))
		Expect(all).To(HaveKey(lsp.ID))

		filtered := manager.Info("lsp")
		Expect(filtered).To(HaveLen(1))
		Expect(filtered).To(HaveKey(lsp.ID))
	})
})
