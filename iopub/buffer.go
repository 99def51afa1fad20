package iopub

import (
	"strings"

	"rkernel/messaging"
)

// streamBuffer accumulates high-frequency stream output so it can be batched
// into one stream message. It is owned exclusively by the engine goroutine
// and created fresh after every flush or stream switch.
type streamBuffer struct {
	name    messaging.StreamName
	pending []string
}

func newStreamBuffer(name messaging.StreamName) *streamBuffer {
	return &streamBuffer{name: name}
}

func (b *streamBuffer) append(text string) {
	b.pending = append(b.pending, text)
}

func (b *streamBuffer) empty() bool {
	return len(b.pending) == 0
}

// drain empties the buffer and returns its accumulated chunks as the content
// of a single stream message.
func (b *streamBuffer) drain() messaging.StreamOutput {
	text := strings.Join(b.pending, "")
	b.pending = b.pending[:0]

	return messaging.StreamOutput{
		Name: b.name,
		Text: text,
	}
}
