package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"

	"rkernel"
	"rkernel/iopub"
	"rkernel/messaging"
	"rkernel/sockets"
)

const banner = "Echo kernel: repeats what you send it."

// shellHandler services the shell channel for a toy language whose evaluator
// echoes its input. It exists to exercise the full broadcast pipeline.
type shellHandler struct {
	events    chan<- iopub.Event
	comms     rkernelComms
	execCount int

	log logger.Logger
}

// rkernelComms narrows the comm manager surface the handler needs.
type rkernelComms interface {
	HandleOpen(msg *messaging.Msg[messaging.CommOpen]) error
	HandleMsg(msg *messaging.Msg[messaging.CommWireMsg]) error
	HandleClose(msg *messaging.Msg[messaging.CommClose])
	Info(targetName string) map[string]interface{}
}

func (h *shellHandler) HandleRequest(_ context.Context, request messaging.Message) (messaging.Content, error) {
	switch msg := request.(type) {
	case *messaging.Msg[messaging.KernelInfoRequest]:
		return messaging.KernelInfoReply{
			Status:                messaging.StatusOK,
			ProtocolVersion:       messaging.ProtocolVersion,
			Implementation:        "echo",
			ImplementationVersion: "1.0.0",
			LanguageInfo: messaging.LanguageInfo{
				Name:          "echo",
				Version:       "1.0.0",
				MimeType:      "text/plain",
				FileExtension: ".txt",
			},
			Banner: banner,
		}, nil

	case *messaging.Msg[messaging.ExecuteRequest]:
		return h.execute(msg), nil

	case *messaging.Msg[messaging.IsCompleteRequest]:
		return messaging.IsCompleteReply{Status: "complete"}, nil

	case *messaging.Msg[messaging.CompleteRequest]:
		return messaging.CompleteReply{
			Status:      messaging.StatusOK,
			Matches:     []string{},
			CursorStart: msg.Content.CursorPos,
			CursorEnd:   msg.Content.CursorPos,
		}, nil

	case *messaging.Msg[messaging.CommOpen]:
		if err := h.comms.HandleOpen(msg); err != nil {
			h.log.Warn("Rejected comm_open: %v", err)
		}
		return nil, nil

	case *messaging.Msg[messaging.CommWireMsg]:
		if err := h.comms.HandleMsg(msg); err != nil {
			h.log.Warn("Dropped comm_msg: %v", err)
		}
		return nil, nil

	case *messaging.Msg[messaging.CommClose]:
		h.comms.HandleClose(msg)
		return nil, nil

	case *messaging.Msg[messaging.CommInfoRequest]:
		return messaging.CommInfoReply{
			Status: messaging.StatusOK,
			Comms:  h.comms.Info(msg.Content.TargetName),
		}, nil

	default:
		return nil, fmt.Errorf("unsupported shell request \"%s\"", request.MessageType())
	}
}

// execute echoes the code back through the standard broadcast sequence:
// execute_input, a stream for each "print" line, then the execute_result.
func (h *shellHandler) execute(msg *messaging.Msg[messaging.ExecuteRequest]) messaging.Content {
	h.execCount++

	h.events <- iopub.ExecuteInputEvent{
		Content: messaging.ExecuteInput{Code: msg.Content.Code, ExecutionCount: h.execCount},
	}

	for _, line := range strings.Split(msg.Content.Code, "\n") {
		if text, ok := strings.CutPrefix(line, "print "); ok {
			h.events <- iopub.StreamEvent{Name: messaging.Stdout, Text: text + "\n"}
		}
	}

	h.events <- iopub.ExecuteResultEvent{
		Content: messaging.ExecuteResult{
			ExecutionCount: h.execCount,
			Data:           map[string]interface{}{"text/plain": msg.Content.Code},
			Metadata:       map[string]interface{}{},
		},
	}

	return messaging.ExecuteReply{Status: messaging.StatusOK, ExecutionCount: h.execCount}
}

// controlHandler services interrupts and shutdowns on the control channel.
type controlHandler struct {
	shutdown context.CancelFunc
	log      logger.Logger
}

func (h *controlHandler) HandleRequest(_ context.Context, request messaging.Message) (messaging.Content, error) {
	switch msg := request.(type) {
	case *messaging.Msg[messaging.InterruptRequest]:
		// Nothing to interrupt; evaluation is synchronous with the request.
		return messaging.InterruptReply{Status: messaging.StatusOK}, nil

	case *messaging.Msg[messaging.ShutdownRequest]:
		h.log.Info("Shutting down (restart=%v).", msg.Content.Restart)
		h.shutdown()
		return messaging.ShutdownReply{Status: messaging.StatusOK, Restart: msg.Content.Restart}, nil

	default:
		return nil, fmt.Errorf("unsupported control request \"%s\"", request.MessageType())
	}
}

func main() {
	var connectionFile string
	flag.StringVar(&connectionFile, "connection-file", "", "Path to the Jupyter connection file.")
	flag.Parse()

	var log logger.Logger
	config.InitLogger(&log, "Main ")

	if connectionFile == "" {
		log.Error("No connection file given; pass --connection-file.")
		os.Exit(1)
	}

	connection, err := rkernel.LoadConnectionFile(connectionFile)
	if err != nil {
		log.Error("%v", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shell := &shellHandler{}
	config.InitLogger(&shell.log, "Shell ")
	control := &controlHandler{shutdown: cancel}
	config.InitLogger(&control.log, "Control ")

	kernel, err := rkernel.NewKernel(connection, shell, control)
	if err != nil {
		log.Error("%v", err)
		os.Exit(1)
	}
	shell.events = kernel.Events()
	shell.comms = kernel.Comms()

	if err := kernel.Run(ctx); err != nil && err != context.Canceled {
		log.Error("%v", err)
		os.Exit(1)
	}
}

var _ sockets.RequestHandler = (*shellHandler)(nil)
var _ sockets.RequestHandler = (*controlHandler)(nil)
