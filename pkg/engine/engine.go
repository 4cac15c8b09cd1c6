// Package engine implements the PK Command transaction state machine.
//
// The engine is poll driven and single owner : one goroutine interleaves
// [Engine.IncomingCommand] and [Engine.Poll] calls. Poll consumes at
// most one buffered inbound frame per invocation, advances the chain and
// returns at most one frame to hand to the transport. The engine never
// blocks and never spawns goroutines ; long-running method work is
// observed through the [store.Pollable] contract.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lingrottin/go-pkcommand/internal/msgid"
	"github.com/lingrottin/go-pkcommand/pkg/clock"
	"github.com/lingrottin/go-pkcommand/pkg/command"
	"github.com/lingrottin/go-pkcommand/pkg/store"
)

// Stage is the transport phase of the current transaction chain.
type Stage uint8

const (
	StageIdle Stage = iota
	StageStarted
	StageRootOperationAssigned
	StageSendingParameter
	StageParameterSent
	StageSendingResponse
)

// Status tracks outstanding acknowledgements, orthogonally to [Stage].
type Status uint8

const (
	// StatusOther : no acknowledgement outstanding.
	StatusOther Status = iota
	StatusAwaitingAck
	StatusAwaitingErrAck
)

// Role of this engine in the current chain.
type Role uint8

const (
	RoleIdle Role = iota
	RoleHost
	RoleDevice
)

var (
	ErrNotRootOperation      = errors.New("engine: operation cannot initiate a chain")
	ErrTransactionInProgress = errors.New("engine: a transaction is already in progress")
	ErrInvalidObject         = errors.New("engine: object must be exactly 5 ASCII characters")
)

const errorObject = "ERROR"

// Engine is a single PK Command endpoint. It is not safe for concurrent
// use : exactly one owner must drive it.
type Engine struct {
	logger  *slog.Logger
	config  Config
	clock   clock.Clock
	vars    store.VariableAccessor
	methods store.MethodAccessor

	stage  Stage
	status Status
	role   Role

	rootOperation command.Operation
	rootObject    string

	lastSent          *command.Command
	lastSentMsgId     uint16
	lastReceivedMsgId uint16
	hasReceived       bool

	dataParam  []byte
	dataReturn []byte
	// byte offset into the active outgoing buffer while slicing
	progress int

	incoming         command.Command
	commandProcessed bool
	lastCommandTime  time.Time

	// long-running INVOK handling
	opPending     bool
	awaitDeadline time.Time
	pollable      store.Pollable
	shouldReturn  bool

	onComplete func(data []byte)
}

// Option customizes an [Engine] at construction time.
type Option func(*Engine)

// WithClock replaces the monotonic clock, mainly for tests.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger injects a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// New creates an idle engine.
// Panics if the packet limit cannot fit a single SDATA payload byte.
func New(config Config, vars store.VariableAccessor, methods store.MethodAccessor, opts ...Option) *Engine {
	if config.PacketLimit <= command.Overhead {
		panic(fmt.Sprintf("engine: packet limit %d cannot carry data frames", config.PacketLimit))
	}
	e := &Engine{
		config:            config,
		clock:             clock.Monotonic{},
		vars:              vars,
		methods:           methods,
		lastReceivedMsgId: msgid.MaxId,
		// nothing is buffered until the first IncomingCommand
		commandProcessed: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.logger = e.logger.With("service", "[ENGINE]")
	e.lastCommandTime = e.clock.Now()
	return e
}

// IncomingCommand buffers one received frame for the next [Engine.Poll].
// Parse errors leave the engine untouched. A second frame arriving
// before the first was polled replaces it.
func (e *Engine) IncomingCommand(frame []byte) error {
	cmd, err := command.Parse(frame)
	if err != nil {
		return err
	}
	e.incoming = cmd
	e.commandProcessed = false
	e.lastCommandTime = e.clock.Now()
	return nil
}

// Poll advances the state machine and returns at most one frame to send,
// or nil. At most one of the following happens per invocation : process
// one inbound frame, emit the next chain step, poll a pending method,
// emit a keep-alive, retransmit, or emit a timeout error. A buffered
// inbound frame always wins over timer events.
func (e *Engine) Poll() *command.Command {
	if !e.commandProcessed {
		e.commandProcessed = true
		cmd := e.incoming
		return e.processIncoming(&cmd)
	}

	// Device side : pending INVOK and deferred RTURN emission
	if e.role == RoleDevice && e.stage == StageSendingResponse && e.status == StatusOther {
		if e.opPending {
			return e.pollPending()
		}
		if e.shouldReturn {
			return e.emitReturn()
		}
	}

	// Host side : the chain opener
	if e.role == RoleHost && e.stage == StageStarted && e.status != StatusAwaitingAck {
		return e.send(&command.Command{MsgId: e.nextMsgId(), Operation: command.Start})
	}

	return e.checkTimers()
}

// Perform seeds a host initiated transaction. Only valid when the engine
// is fully idle and op is a root operation. The chain itself is driven
// by subsequent Poll calls.
func (e *Engine) Perform(op command.Operation, object string, data []byte) error {
	if !op.IsRoot() {
		return ErrNotRootOperation
	}
	if e.stage != StageIdle || e.role != RoleIdle || e.status != StatusOther {
		return ErrTransactionInProgress
	}
	if object == "" {
		// PKVER is the only root operation without an object
		if op != command.GetVersion {
			return ErrInvalidObject
		}
	} else if len(object) != command.ObjectLength {
		return ErrInvalidObject
	}
	e.rootOperation = op
	e.rootObject = object
	e.dataParam = append([]byte{}, data...)
	e.dataReturn = nil
	e.progress = 0
	e.role = RoleHost
	e.stage = StageStarted
	e.status = StatusOther
	e.lastCommandTime = e.clock.Now()
	e.logger.Debug("performing", "operation", op, "object", object, "paramLen", len(data))
	return nil
}

// IsComplete reports whether no transaction is in flight.
func (e *Engine) IsComplete() bool {
	return e.stage == StageIdle
}

// ReturnData hands out the response of a completed host transaction and
// releases the engine for the next Perform. Returns nil when there is no
// data or no completed host transaction.
func (e *Engine) ReturnData() []byte {
	if e.stage != StageIdle || e.role != RoleHost {
		return nil
	}
	e.role = RoleIdle
	return e.takeReturnData()
}

// LastReturnData exposes the response buffer of the most recent device
// side transaction. It is intentionally retained after completion.
func (e *Engine) LastReturnData() []byte {
	return append([]byte{}, e.dataReturn...)
}

// WaitForCompleteAnd registers a callback invoked exactly once with the
// return data when the current transaction reaches idle. If the engine
// is already idle the callback runs immediately. The callback consumes
// the return data, like [Engine.ReturnData].
func (e *Engine) WaitForCompleteAnd(callback func(data []byte)) {
	if e.stage == StageIdle {
		if e.role == RoleHost {
			e.role = RoleIdle
		}
		callback(e.takeReturnData())
		return
	}
	e.onComplete = callback
}

func (e *Engine) takeReturnData() []byte {
	data := e.dataReturn
	e.dataReturn = nil
	if len(data) == 0 {
		return nil
	}
	return data
}

// nextMsgId is the id for a newly sent frame : one past the last
// received id. This makes retransmits trivially idempotent on the
// receiver, which detects duplicates by "same id as most recent
// processed frame".
func (e *Engine) nextMsgId() uint16 {
	return msgid.Increment(e.lastReceivedMsgId)
}

// send records cmd for retransmission, stamps the command time and
// derives the acknowledgement status from the frame kind.
func (e *Engine) send(cmd *command.Command) *command.Command {
	e.lastSent = cmd
	e.lastSentMsgId = cmd.MsgId
	e.lastCommandTime = e.clock.Now()
	switch cmd.Operation {
	case command.Error:
		e.status = StatusAwaitingErrAck
	case command.Acknowledge:
		e.status = StatusOther
	default:
		e.status = StatusAwaitingAck
	}
	e.logger.Debug("sending", "frame", cmd)
	return cmd
}

func (e *Engine) ack(of *command.Command) *command.Command {
	return &command.Command{MsgId: of.MsgId, Operation: command.Acknowledge, Object: of.Operation.Name()}
}

func (e *Engine) ackError() *command.Command {
	return &command.Command{MsgId: 0, Operation: command.Acknowledge, Object: errorObject}
}

// reset drops every bit of transaction state, including the message id
// history, so a fresh chain starts from a clean slate on both peers.
// A registered completion callback resolves with no data, so waiters
// observe dropped transactions too.
func (e *Engine) reset() {
	if e.onComplete != nil {
		callback := e.onComplete
		e.onComplete = nil
		callback(nil)
	}
	e.stage = StageIdle
	e.status = StatusOther
	e.role = RoleIdle
	e.rootObject = ""
	e.dataParam = nil
	e.dataReturn = nil
	e.progress = 0
	e.opPending = false
	e.pollable = nil
	e.shouldReturn = false
	e.lastSent = nil
	e.lastSentMsgId = 0
	e.lastReceivedMsgId = msgid.MaxId
	e.hasReceived = false
}

// abort drops the transaction and reports reason to the peer.
func (e *Engine) abort(reason string) *command.Command {
	e.logger.Warn("protocol error", "reason", reason)
	e.reset()
	return e.send(&command.Command{
		MsgId:     0,
		Operation: command.Error,
		Object:    errorObject,
		Data:      []byte(reason),
	})
}

func (e *Engine) processIncoming(cmd *command.Command) *command.Command {
	e.logger.Debug("received", "frame", cmd)

	// The peer dropped the chain : wipe state and acknowledge.
	if cmd.Operation == command.Error {
		e.logger.Warn("received ERROR", "reason", string(cmd.Data))
		e.reset()
		return e.send(e.ackError())
	}

	isAckError := cmd.Operation == command.Acknowledge && cmd.Object == errorObject
	if e.status == StatusAwaitingErrAck {
		if isAckError {
			e.reset()
			return nil
		}
		return e.abort("Should be ACKNO ERROR")
	}
	if isAckError {
		return e.abort("Unexpected ACKNO ERROR")
	}

	// Same id as the most recent processed frame : the peer missed our
	// reply, re-emit it verbatim.
	if e.hasReceived && cmd.MsgId == e.lastReceivedMsgId {
		if e.lastSent == nil {
			return nil
		}
		e.logger.Debug("duplicate frame, resending cached reply", "id", cmd.MsgId)
		return e.lastSent
	}
	e.lastReceivedMsgId = cmd.MsgId
	e.hasReceived = true

	switch e.stage {
	case StageIdle:
		if cmd.Operation == command.Start && e.role == RoleIdle {
			e.role = RoleDevice
			e.stage = StageStarted
			return e.send(e.ack(cmd))
		}
		return e.abort("Received command but not in a chain")
	case StageStarted:
		if e.role == RoleHost {
			return e.hostStarted(cmd)
		}
		return e.deviceStarted(cmd)
	case StageRootOperationAssigned:
		if e.role == RoleHost {
			return e.hostRootOperationAssigned(cmd)
		}
		return e.deviceRootOperationAssigned(cmd)
	case StageSendingParameter:
		if e.role == RoleHost {
			return e.hostSendingParameter(cmd)
		}
		return e.deviceSendingParameter(cmd)
	case StageParameterSent:
		if e.role == RoleHost {
			return e.hostParameterSent(cmd)
		}
		return e.deviceParameterSent(cmd)
	case StageSendingResponse:
		if e.role == RoleHost {
			return e.hostSendingResponse(cmd)
		}
		return e.deviceSendingResponse(cmd)
	}
	return nil
}

// checkTimers runs when no inbound frame is pending. The inter-command
// timeout takes precedence so that a dead peer cannot keep the engine
// retransmitting forever.
func (e *Engine) checkTimers() *command.Command {
	if e.stage == StageIdle && e.status == StatusOther {
		return nil
	}
	elapsed := e.clock.Since(e.lastCommandTime)
	if e.stage != StageIdle && !e.opPending && elapsed >= e.config.InterCommandTimeout {
		return e.abort("Operation timed out")
	}
	if e.status == StatusAwaitingAck || e.status == StatusAwaitingErrAck {
		if elapsed >= e.config.AckTimeout {
			e.logger.Debug("ack timeout, retransmitting", "frame", e.lastSent)
			return e.lastSent
		}
	}
	return nil
}

// nextChunk slices the next SDATA payload out of buffer and advances the
// progress offset. A slice ending at len(buffer) is the last chunk.
func (e *Engine) nextChunk(buffer []byte) *command.Command {
	chunkSize := e.config.PacketLimit - command.Overhead
	end := e.progress + chunkSize
	if end > len(buffer) {
		end = len(buffer)
	}
	data := append([]byte{}, buffer[e.progress:end]...)
	e.progress = end
	return e.send(&command.Command{
		MsgId:     e.nextMsgId(),
		Operation: command.Data,
		Object:    e.rootOperation.Name(),
		Data:      data,
	})
}
