package sockets_test

import (
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"rkernel/messaging"
	"rkernel/sockets"
)

func stdinWire(msgType string, content string) *messaging.WireMessage {
	return &messaging.WireMessage{
		Header:   *messaging.NewHeader(msgType, "frontend-session", "tester"),
		Metadata: json.RawMessage(`{}`),
		Content:  json.RawMessage(content),
	}
}

var _ = Describe("Stdin reply decoding", func() {
	It("Will extract the value from an input_reply", func() {
		value, err := sockets.DecodeInputReply(stdinWire(messaging.InputReplyMessage, `{"value":"secret"}`))
		Expect(err).ToNot(HaveOccurred())
		Expect(value).To(Equal("secret"))
	})

	It("Will accept an empty reply value", func() {
		value, err := sockets.DecodeInputReply(stdinWire(messaging.InputReplyMessage, `{"value":""}`))
		Expect(err).ToNot(HaveOccurred())
		Expect(value).To(BeEmpty())
	})

	It("Will reject a well-formed message of another type instead of returning empty input", func() {
		// Any JSON object deserializes into the reply schema with a zero
		// value, so the tag check has to do the filtering.
		_, err := sockets.DecodeInputReply(stdinWire(messaging.StatusMessage, `{"execution_state":"idle"}`))
		Expect(err).To(MatchError(sockets.ErrNotInputReply))

		_, err = sockets.DecodeInputReply(stdinWire(messaging.StreamMessage, `{"name":"stdout","text":"noise"}`))
		Expect(err).To(MatchError(sockets.ErrNotInputReply))
	})

	It("Will reject malformed input_reply content", func() {
		_, err := sockets.DecodeInputReply(stdinWire(messaging.InputReplyMessage, `[1,2,3]`))
		Expect(err).To(HaveOccurred())
		Expect(err).ToNot(MatchError(sockets.ErrNotInputReply))
	})
})
