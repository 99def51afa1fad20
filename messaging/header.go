package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	// ProtocolVersion is the version of the Jupyter messaging protocol spoken by this kernel.
	ProtocolVersion = "5.3"

	// DefaultUsername is stamped into the header of every message minted by the kernel session.
	DefaultUsername = "kernel"
)

// MessageHeader is a Jupyter message header.
// http://jupyter-client.readthedocs.io/en/latest/messaging.html#general-message-format
type MessageHeader struct {
	MsgID    string `json:"msg_id"`
	Username string `json:"username"`
	Session  string `json:"session"`
	Date     string `json:"date"`
	MsgType  string `json:"msg_type"`
	Version  string `json:"version"`
}

// NewHeader mints a fresh header for an outgoing message of the given type.
// Every call produces a unique message ID and a current timestamp.
func NewHeader(msgType string, session string, username string) *MessageHeader {
	return &MessageHeader{
		MsgID:    uuid.New().String(),
		Username: username,
		Session:  session,
		Date:     time.Now().UTC().Format(time.RFC3339Nano),
		MsgType:  msgType,
		Version:  ProtocolVersion,
	}
}

func (header *MessageHeader) Clone() *MessageHeader {
	return &MessageHeader{
		MsgID:    header.MsgID,
		Username: header.Username,
		Session:  header.Session,
		Date:     header.Date,
		MsgType:  header.MsgType,
		Version:  header.Version,
	}
}

func (header *MessageHeader) String() string {
	m, err := json.Marshal(header)
	if err != nil {
		panic(err)
	}

	return string(m)
}
