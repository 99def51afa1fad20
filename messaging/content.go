package messaging

import (
	"encoding/json"
	"fmt"
)

// Wire tags for every message type the kernel produces or consumes.
const (
	StatusMessage            = "status"
	StreamMessage            = "stream"
	ExecuteResultMessage     = "execute_result"
	ExecuteErrorMessage      = "error"
	ExecuteInputMessage      = "execute_input"
	DisplayDataMessage       = "display_data"
	UpdateDisplayDataMessage = "update_display_data"
	WelcomeMessage           = "iopub_welcome"
	ExecuteRequestMessage    = "execute_request"
	ExecuteReplyMessage      = "execute_reply"
	KernelInfoRequestMessage = "kernel_info_request"
	KernelInfoReplyMessage   = "kernel_info_reply"
	IsCompleteRequestMessage = "is_complete_request"
	IsCompleteReplyMessage   = "is_complete_reply"
	CompleteRequestMessage   = "complete_request"
	CompleteReplyMessage     = "complete_reply"
	InterruptRequestMessage  = "interrupt_request"
	InterruptReplyMessage    = "interrupt_reply"
	ShutdownRequestMessage   = "shutdown_request"
	ShutdownReplyMessage     = "shutdown_reply"
	InputRequestMessage      = "input_request"
	InputReplyMessage        = "input_reply"
	CommOpenMessage          = "comm_open"
	CommMsgMessage           = "comm_msg"
	CommCloseMessage         = "comm_close"
	CommInfoRequestMessage   = "comm_info_request"
	CommInfoReplyMessage     = "comm_info_reply"
)

// Reply statuses carried inside message content.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Content is implemented by every message payload schema; each schema knows
// its own wire tag. A content schema is a pure data contract, independent of
// transport: encoding a typed message always round-trips through a
// WireMessage back into the same content.
type Content interface {
	MessageType() string
}

// ExecutionState is the kernel state broadcast in status messages.
type ExecutionState string

const (
	// ExecutionBusy is sent when the kernel begins processing a request.
	ExecutionBusy ExecutionState = "busy"

	// ExecutionIdle is sent when the kernel finishes processing a request.
	ExecutionIdle ExecutionState = "idle"

	// ExecutionStarting is sent exactly once, at startup.
	ExecutionStarting ExecutionState = "starting"
)

// KernelStatus communicates kernel state; sent before and after handling
// every request.
type KernelStatus struct {
	ExecutionState ExecutionState `json:"execution_state"`
}

func (KernelStatus) MessageType() string { return StatusMessage }

// StreamName identifies which output stream a stream message carries.
type StreamName string

const (
	Stdout StreamName = "stdout"
	Stderr StreamName = "stderr"
)

// StreamOutput carries output emitted on stdout or stderr.
type StreamOutput struct {
	Name StreamName `json:"name"`
	Text string     `json:"text"`
}

func (StreamOutput) MessageType() string { return StreamMessage }

// ExecuteResult is the value produced by executing a code fragment.
type ExecuteResult struct {
	ExecutionCount int                    `json:"execution_count"`
	Data           map[string]interface{} `json:"data"`
	Metadata       map[string]interface{} `json:"metadata"`
}

func (ExecuteResult) MessageType() string { return ExecuteResultMessage }

// ExecuteError is broadcast when executing a code fragment fails.
type ExecuteError struct {
	ErrName   string   `json:"ename"`
	ErrValue  string   `json:"evalue"`
	Traceback []string `json:"traceback"`
}

func (ExecuteError) MessageType() string { return ExecuteErrorMessage }

// ExecuteInput rebroadcasts the code the kernel is about to execute, so all
// frontends see what ran.
type ExecuteInput struct {
	Code           string `json:"code"`
	ExecutionCount int    `json:"execution_count"`
}

func (ExecuteInput) MessageType() string { return ExecuteInputMessage }

// DisplayData carries rich output keyed by MIME type.
type DisplayData struct {
	Data      map[string]interface{} `json:"data"`
	Metadata  map[string]interface{} `json:"metadata"`
	Transient map[string]interface{} `json:"transient,omitempty"`
}

func (DisplayData) MessageType() string { return DisplayDataMessage }

// UpdateDisplayData replaces a previously emitted display by display_id.
type UpdateDisplayData struct {
	Data      map[string]interface{} `json:"data"`
	Metadata  map[string]interface{} `json:"metadata"`
	Transient map[string]interface{} `json:"transient"`
}

func (UpdateDisplayData) MessageType() string { return UpdateDisplayDataMessage }

// Welcome is the IOPub handshake message sent to a newly subscribed client
// (JEP 65); modern frontends wait for it before considering the kernel up.
type Welcome struct {
	Subscription string `json:"subscription"`
}

func (Welcome) MessageType() string { return WelcomeMessage }

// ExecuteRequest asks the kernel to execute a code fragment.
type ExecuteRequest struct {
	Code            string                 `json:"code"`
	Silent          bool                   `json:"silent"`
	StoreHistory    bool                   `json:"store_history"`
	UserExpressions map[string]interface{} `json:"user_expressions"`
	AllowStdin      bool                   `json:"allow_stdin"`
	StopOnError     bool                   `json:"stop_on_error"`
}

func (ExecuteRequest) MessageType() string { return ExecuteRequestMessage }

// ExecuteReply is the shell-channel reply to a successful execute_request.
type ExecuteReply struct {
	Status          string                 `json:"status"`
	ExecutionCount  int                    `json:"execution_count"`
	UserExpressions map[string]interface{} `json:"user_expressions,omitempty"`
}

func (ExecuteReply) MessageType() string { return ExecuteReplyMessage }

// ExecuteReplyException is the reply to an execute_request whose evaluation
// raised an error. It shares the execute_reply wire tag with ExecuteReply;
// the two are told apart structurally, never by a wire discriminator.
type ExecuteReplyException struct {
	Status         string   `json:"status"`
	ExecutionCount int      `json:"execution_count"`
	ErrName        string   `json:"ename"`
	ErrValue       string   `json:"evalue"`
	Traceback      []string `json:"traceback"`
}

func (ExecuteReplyException) MessageType() string { return ExecuteReplyMessage }

// validate rejects content that deserialized into this schema but is really a
// plain ExecuteReply; the registry tries this narrower schema first and falls
// through on failure.
func (e ExecuteReplyException) validate() error {
	if e.Status != StatusError {
		return fmt.Errorf("execute reply has status %q, not an exception", e.Status)
	}
	if e.ErrName == "" {
		return fmt.Errorf("execute reply exception carries no error name")
	}
	return nil
}

// KernelInfoRequest asks for the kernel's identity and language info.
type KernelInfoRequest struct{}

func (KernelInfoRequest) MessageType() string { return KernelInfoRequestMessage }

// LanguageInfo describes the language the kernel executes.
type LanguageInfo struct {
	Name          string `json:"name"`
	Version       string `json:"version"`
	MimeType      string `json:"mimetype"`
	FileExtension string `json:"file_extension"`
}

type HelpLink struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

type KernelInfoReply struct {
	Status                string       `json:"status"`
	ProtocolVersion       string       `json:"protocol_version"`
	Implementation        string       `json:"implementation"`
	ImplementationVersion string       `json:"implementation_version"`
	LanguageInfo          LanguageInfo `json:"language_info"`
	Banner                string       `json:"banner"`
	Debugger              bool         `json:"debugger"`
	HelpLinks             []HelpLink   `json:"help_links,omitempty"`
}

func (KernelInfoReply) MessageType() string { return KernelInfoReplyMessage }

// IsCompleteRequest asks whether a code fragment is a complete expression.
type IsCompleteRequest struct {
	Code string `json:"code"`
}

func (IsCompleteRequest) MessageType() string { return IsCompleteRequestMessage }

type IsCompleteReply struct {
	Status string `json:"status"`
	Indent string `json:"indent"`
}

func (IsCompleteReply) MessageType() string { return IsCompleteReplyMessage }

// CompleteRequest asks for completion candidates at a cursor position.
type CompleteRequest struct {
	Code      string `json:"code"`
	CursorPos int    `json:"cursor_pos"`
}

func (CompleteRequest) MessageType() string { return CompleteRequestMessage }

type CompleteReply struct {
	Status      string                 `json:"status"`
	Matches     []string               `json:"matches"`
	CursorStart int                    `json:"cursor_start"`
	CursorEnd   int                    `json:"cursor_end"`
	Metadata    map[string]interface{} `json:"metadata"`
}

func (CompleteReply) MessageType() string { return CompleteReplyMessage }

type InterruptRequest struct{}

func (InterruptRequest) MessageType() string { return InterruptRequestMessage }

type InterruptReply struct {
	Status string `json:"status"`
}

func (InterruptReply) MessageType() string { return InterruptReplyMessage }

type ShutdownRequest struct {
	Restart bool `json:"restart"`
}

func (ShutdownRequest) MessageType() string { return ShutdownRequestMessage }

type ShutdownReply struct {
	Status  string `json:"status"`
	Restart bool   `json:"restart"`
}

func (ShutdownReply) MessageType() string { return ShutdownReplyMessage }

// InputRequest asks the frontend for a line of user input on the stdin
// channel.
type InputRequest struct {
	Prompt   string `json:"prompt"`
	Password bool   `json:"password"`
}

func (InputRequest) MessageType() string { return InputRequestMessage }

type InputReply struct {
	Value string `json:"value"`
}

func (InputReply) MessageType() string { return InputReplyMessage }

// CommOpen announces a new comm between the kernel and the frontend.
type CommOpen struct {
	CommID     string          `json:"comm_id"`
	TargetName string          `json:"target_name"`
	Data       json.RawMessage `json:"data"`
}

func (CommOpen) MessageType() string { return CommOpenMessage }

// CommWireMsg carries an opaque payload over an open comm.
type CommWireMsg struct {
	CommID string          `json:"comm_id"`
	Data   json.RawMessage `json:"data"`
}

func (CommWireMsg) MessageType() string { return CommMsgMessage }

// CommClose tears down an open comm.
type CommClose struct {
	CommID string          `json:"comm_id"`
	Data   json.RawMessage `json:"data,omitempty"`
}

func (CommClose) MessageType() string { return CommCloseMessage }

type CommInfoRequest struct {
	TargetName string `json:"target_name,omitempty"`
}

func (CommInfoRequest) MessageType() string { return CommInfoRequestMessage }

type CommInfoReply struct {
	Status string                 `json:"status"`
	Comms  map[string]interface{} `json:"comms"`
}

func (CommInfoReply) MessageType() string { return CommInfoReplyMessage }

// ErrorReply is the content of an error reply on a request/reply channel. It
// is a special case: it travels under the wire tag of the successful reply it
// stands in for, so it carries no tag of its own and is constructed with
// NewErrorReply rather than registered for parsing.
type ErrorReply struct {
	Status    string   `json:"status"`
	ErrName   string   `json:"ename"`
	ErrValue  string   `json:"evalue"`
	Traceback []string `json:"traceback,omitempty"`
}
