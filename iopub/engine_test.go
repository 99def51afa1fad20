package iopub_test

import (
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"rkernel/iopub"
	"rkernel/messaging"
)

var _ = Describe("Engine", func() {
	var (
		session       *messaging.Session
		events        chan iopub.Event
		subscriptions chan iopub.Subscription
		outbound      chan messaging.Message
		engine        *iopub.Engine
		runResult     chan error
	)

	BeforeEach(func() {
		session = messaging.NewSession("")
		events = make(chan iopub.Event, 64)
		subscriptions = make(chan iopub.Subscription, 4)
		outbound = make(chan messaging.Message, 64)
		engine = iopub.NewEngine(session, events, subscriptions, outbound)

		runResult = make(chan error, 1)
		go func() {
			runResult <- engine.Run()
		}()
	})

	AfterEach(func() {
		close(events)
		Eventually(runResult).Should(Receive(MatchError(iopub.ErrEventChannelClosed)))
	})

	// barrier blocks until every previously enqueued event has been processed.
	barrier := func() {
		ack := make(chan struct{}, 1)
		events <- iopub.WaitEvent{Ack: ack}
		Eventually(ack).Should(Receive())
	}

	drain := func() []messaging.Message {
		var msgs []messaging.Message
		for {
			select {
			case msg := <-outbound:
				msgs = append(msgs, msg)
			default:
				return msgs
			}
		}
	}

	Context("Welcome handshake", func() {
		It("Will welcome the first subscriber and release readiness", func() {
			subscriptions <- iopub.Subscription{Subscribe: true, Topic: "kernel.abc123"}
			Eventually(engine.Ready()).Should(Receive())

			barrier()
			msgs := drain()
			Expect(msgs).To(HaveLen(2))

			welcome, ok := msgs[0].(*messaging.Msg[messaging.Welcome])
			Expect(ok).To(BeTrue())
			Expect(welcome.Content.Subscription).To(Equal("kernel.abc123"))

			status, ok := msgs[1].(*messaging.Msg[messaging.KernelStatus])
			Expect(ok).To(BeTrue())
			Expect(status.Content.ExecutionState).To(Equal(messaging.ExecutionStarting))
		})

		It("Will run the handshake at most once", func() {
			subscriptions <- iopub.Subscription{Subscribe: true, Topic: "first"}
			Eventually(engine.Ready()).Should(Receive())
			barrier()
			Expect(drain()).To(HaveLen(2))

			subscriptions <- iopub.Subscription{Subscribe: true, Topic: "second"}
			Consistently(outbound, "250ms").ShouldNot(Receive())
		})

		It("Will ignore unsubscribe notifications", func() {
			subscriptions <- iopub.Subscription{Subscribe: false, Topic: "gone"}
			Consistently(outbound, "250ms").ShouldNot(Receive())
			Expect(engine.Ready()).ToNot(Receive())
		})
	})

	Context("Stream batching", func() {
		It("Will merge consecutive same-stream output into one message", func() {
			parent := messaging.NewHeader(messaging.ExecuteRequestMessage, "frontend", "tester")

			events <- iopub.StatusEvent{Parent: parent, Channel: iopub.Shell, State: messaging.ExecutionBusy}
			events <- iopub.StreamEvent{Name: messaging.Stdout, Text: "a"}
			events <- iopub.StreamEvent{Name: messaging.Stdout, Text: "b"}
			events <- iopub.StreamEvent{Name: messaging.Stderr, Text: "c"}
			events <- iopub.StatusEvent{Parent: parent, Channel: iopub.Shell, State: messaging.ExecutionIdle}
			barrier()

			msgs := drain()
			Expect(msgs).To(HaveLen(4))

			stdout, ok := msgs[1].(*messaging.Msg[messaging.StreamOutput])
			Expect(ok).To(BeTrue())
			Expect(stdout.Content.Name).To(Equal(messaging.Stdout))
			Expect(stdout.Content.Text).To(Equal("ab"))
			Expect(stdout.ParentHeader).ToNot(BeNil())
			Expect(stdout.ParentHeader.MsgID).To(Equal(parent.MsgID))

			stderr, ok := msgs[2].(*messaging.Msg[messaging.StreamOutput])
			Expect(ok).To(BeTrue())
			Expect(stderr.Content.Name).To(Equal(messaging.Stderr))
			Expect(stderr.Content.Text).To(Equal("c"))

			idle, ok := msgs[3].(*messaging.Msg[messaging.KernelStatus])
			Expect(ok).To(BeTrue())
			Expect(idle.Content.ExecutionState).To(Equal(messaging.ExecutionIdle))
		})

		It("Will flush buffered output before a result so causal order holds", func() {
			parent := messaging.NewHeader(messaging.ExecuteRequestMessage, "frontend", "tester")

			events <- iopub.StatusEvent{Parent: parent, Channel: iopub.Shell, State: messaging.ExecutionBusy}
			events <- iopub.StreamEvent{Name: messaging.Stdout, Text: "computing\n"}
			events <- iopub.ExecuteResultEvent{Content: messaging.ExecuteResult{
				ExecutionCount: 1,
				Data:           map[string]interface{}{"text/plain": "42"},
			}}
			barrier()

			msgs := drain()
			Expect(msgs).To(HaveLen(3))

			stream, ok := msgs[1].(*messaging.Msg[messaging.StreamOutput])
			Expect(ok).To(BeTrue())
			Expect(stream.Content.Text).To(Equal("computing\n"))

			result, ok := msgs[2].(*messaging.Msg[messaging.ExecuteResult])
			Expect(ok).To(BeTrue())
			Expect(result.ParentHeader.MsgID).To(Equal(parent.MsgID))
		})

		It("Will not flush buffered output for an execute_input broadcast", func() {
			parent := messaging.NewHeader(messaging.ExecuteRequestMessage, "frontend", "tester")

			events <- iopub.StatusEvent{Parent: parent, Channel: iopub.Shell, State: messaging.ExecutionBusy}
			events <- iopub.StreamEvent{Name: messaging.Stdout, Text: "early"}
			events <- iopub.ExecuteInputEvent{Content: messaging.ExecuteInput{Code: "1 + 1", ExecutionCount: 1}}
			barrier()

			msgs := drain()
			Expect(msgs).To(HaveLen(2))
			_, ok := msgs[1].(*messaging.Msg[messaging.ExecuteInput])
			Expect(ok).To(BeTrue())

			// The buffered text surfaces at the idle transition instead.
			events <- iopub.StatusEvent{Parent: parent, Channel: iopub.Shell, State: messaging.ExecutionIdle}
			barrier()

			msgs = drain()
			Expect(msgs).To(HaveLen(2))
			stream, ok := msgs[0].(*messaging.Msg[messaging.StreamOutput])
			Expect(ok).To(BeTrue())
			Expect(stream.Content.Text).To(Equal("early"))
		})

		It("Will flush on the timer even when the kernel stays busy", func() {
			events <- iopub.StreamEvent{Name: messaging.Stdout, Text: "slow output"}

			var msg messaging.Message
			Eventually(outbound, "2s").Should(Receive(&msg))

			stream, ok := msg.(*messaging.Msg[messaging.StreamOutput])
			Expect(ok).To(BeTrue())
			Expect(stream.Content.Text).To(Equal("slow output"))
		})
	})

	Context("Parent contexts", func() {
		It("Will keep shell and control contexts independent", func() {
			shellParent := messaging.NewHeader(messaging.ExecuteRequestMessage, "frontend", "tester")
			controlParent := messaging.NewHeader(messaging.ShutdownRequestMessage, "frontend", "tester")

			events <- iopub.StatusEvent{Parent: shellParent, Channel: iopub.Shell, State: messaging.ExecutionBusy}
			events <- iopub.StatusEvent{Parent: controlParent, Channel: iopub.Control, State: messaging.ExecutionBusy}
			events <- iopub.StatusEvent{Parent: controlParent, Channel: iopub.Control, State: messaging.ExecutionIdle}
			events <- iopub.StreamEvent{Name: messaging.Stdout, Text: "still shell"}
			events <- iopub.StatusEvent{Parent: shellParent, Channel: iopub.Shell, State: messaging.ExecutionIdle}
			barrier()

			msgs := drain()
			Expect(msgs).To(HaveLen(5))

			stream, ok := msgs[3].(*messaging.Msg[messaging.StreamOutput])
			Expect(ok).To(BeTrue())
			Expect(stream.ParentHeader).ToNot(BeNil())
			Expect(stream.ParentHeader.MsgID).To(Equal(shellParent.MsgID))
		})

		It("Will emit orphan broadcasts once the context is cleared", func() {
			parent := messaging.NewHeader(messaging.ExecuteRequestMessage, "frontend", "tester")

			events <- iopub.StatusEvent{Parent: parent, Channel: iopub.Shell, State: messaging.ExecutionBusy}
			events <- iopub.StatusEvent{Parent: parent, Channel: iopub.Shell, State: messaging.ExecutionIdle}
			events <- iopub.StreamEvent{Name: messaging.Stdout, Text: "orphan"}
			barrier()
			drain()

			events <- iopub.StatusEvent{Parent: parent, Channel: iopub.Shell, State: messaging.ExecutionIdle}
			barrier()

			msgs := drain()
			Expect(msgs).To(HaveLen(2))
			stream, ok := msgs[0].(*messaging.Msg[messaging.StreamOutput])
			Expect(ok).To(BeTrue())
			Expect(stream.ParentHeader).To(BeNil())
		})
	})

	Context("Comm broadcasts", func() {
		It("Will correlate RPC replies via the carried parent rather than the shell context", func() {
			shellParent := messaging.NewHeader(messaging.ExecuteRequestMessage, "frontend", "tester")
			rpcParent := messaging.NewHeader(messaging.CommMsgMessage, "frontend", "tester")

			events <- iopub.StatusEvent{Parent: shellParent, Channel: iopub.Shell, State: messaging.ExecutionBusy}
			events <- iopub.CommOutgoing{
				CommID: "comm-1",
				Kind:   iopub.CommRpcReplyEvent,
				Data:   json.RawMessage(`{"answer":42}`),
				Parent: rpcParent,
			}
			events <- iopub.CommOutgoing{
				CommID: "comm-1",
				Kind:   iopub.CommDataEvent,
				Data:   json.RawMessage(`{"tick":1}`),
			}
			barrier()

			msgs := drain()
			Expect(msgs).To(HaveLen(3))

			rpc, ok := msgs[1].(*messaging.Msg[messaging.CommWireMsg])
			Expect(ok).To(BeTrue())
			Expect(rpc.ParentHeader).ToNot(BeNil())
			Expect(rpc.ParentHeader.MsgID).To(Equal(rpcParent.MsgID))

			data, ok := msgs[2].(*messaging.Msg[messaging.CommWireMsg])
			Expect(ok).To(BeTrue())
			Expect(data.ParentHeader).To(BeNil())
		})

		It("Will announce comm opens with target name and no parent", func() {
			events <- iopub.CommOutgoing{
				CommID:     "comm-9",
				Kind:       iopub.CommOpenEvent,
				TargetName: "debugger",
				Data:       json.RawMessage(`{}`),
			}
			barrier()

			msgs := drain()
			Expect(msgs).To(HaveLen(1))

			open, ok := msgs[0].(*messaging.Msg[messaging.CommOpen])
			Expect(ok).To(BeTrue())
			Expect(open.Content.TargetName).To(Equal("debugger"))
			Expect(open.ParentHeader).To(BeNil())
		})
	})

	Context("Wait barrier", func() {
		It("Will acknowledge only after every earlier event is forwarded", func() {
			parent := messaging.NewHeader(messaging.ExecuteRequestMessage, "frontend", "tester")

			events <- iopub.StatusEvent{Parent: parent, Channel: iopub.Shell, State: messaging.ExecutionBusy}
			events <- iopub.ExecuteResultEvent{Content: messaging.ExecuteResult{ExecutionCount: 1}}

			ack := make(chan struct{}, 1)
			events <- iopub.WaitEvent{Ack: ack}
			Eventually(ack).Should(Receive())

			Expect(drain()).To(HaveLen(2))
		})
	})
})
