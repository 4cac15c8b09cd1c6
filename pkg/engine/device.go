package engine

import (
	"github.com/lingrottin/go-pkcommand/pkg/command"
	"github.com/lingrottin/go-pkcommand/pkg/store"
)

// Device side frame handling, plus the execution of root operations
// against the variable and method accessors.

func (e *Engine) deviceStarted(cmd *command.Command) *command.Command {
	if !cmd.Operation.IsRoot() {
		return e.abort("Expecting root operation")
	}
	switch cmd.Operation {
	case command.SendVariable, command.RequireVariable, command.Invoke:
		if cmd.Object == "" {
			return e.abort("Missing object for " + cmd.Operation.Name())
		}
	}
	e.rootOperation = cmd.Operation
	e.rootObject = cmd.Object
	e.stage = StageRootOperationAssigned
	return e.send(e.ack(cmd))
}

func (e *Engine) deviceRootOperationAssigned(cmd *command.Command) *command.Command {
	switch cmd.Operation {
	case command.Empty:
		e.stage = StageSendingParameter
		return e.send(e.ack(cmd))
	case command.Data:
		e.dataParam = append(e.dataParam, cmd.Data...)
		e.stage = StageSendingParameter
		return e.send(e.ack(cmd))
	}
	return e.abort("Expecting EMPTY or SDATA")
}

func (e *Engine) deviceSendingParameter(cmd *command.Command) *command.Command {
	switch cmd.Operation {
	case command.Data:
		e.dataParam = append(e.dataParam, cmd.Data...)
		return e.send(e.ack(cmd))
	case command.EndTransaction:
		e.stage = StageParameterSent
		return e.send(e.ack(cmd))
	}
	return e.abort("Expecting SDATA or ENDTR")
}

// deviceParameterSent executes the root operation on QUERY.
// PKVER, REQUV and SENDV run synchronously against the accessors ;
// INVOK starts a pollable whose completion later triggers the RTURN.
func (e *Engine) deviceParameterSent(cmd *command.Command) *command.Command {
	if cmd.Operation != command.Query {
		return e.abort("Expecting QUERY")
	}
	switch e.rootOperation {
	case command.GetVersion:
		e.dataReturn = []byte(e.config.ProtocolVersion)
	case command.RequireVariable:
		value, ok := e.vars.Get(e.rootObject)
		if !ok {
			value = nil
		}
		e.dataReturn = value
	case command.SendVariable:
		// a failing Set is reported back as response data, not as ERROR
		if err := e.vars.Set(e.rootObject, e.dataParam); err != nil {
			e.dataReturn = []byte(err.Error())
		} else {
			e.dataReturn = nil
		}
	case command.Invoke:
		pollable, err := e.methods.Invoke(e.rootObject, e.dataParam)
		if err != nil {
			e.logger.Warn("invoke failed", "object", e.rootObject, "err", err)
			return e.abort("Failed to initiate INVOK operation")
		}
		e.opPending = true
		e.pollable = pollable
		e.awaitDeadline = e.clock.Now().Add(e.config.AwaitInterval)
	}
	e.stage = StageSendingResponse
	e.shouldReturn = true
	return e.send(e.ack(cmd))
}

func (e *Engine) deviceSendingResponse(cmd *command.Command) *command.Command {
	if cmd.Operation != command.Acknowledge {
		return e.abort("Expecting acknowledge")
	}
	switch cmd.Object {
	case command.Return.Name():
		if len(e.dataReturn) == 0 {
			return e.send(&command.Command{MsgId: e.nextMsgId(), Operation: command.EndTransaction})
		}
		return e.nextChunk(e.dataReturn)
	case command.Data.Name():
		if e.progress < len(e.dataReturn) {
			return e.nextChunk(e.dataReturn)
		}
		return e.send(&command.Command{MsgId: e.nextMsgId(), Operation: command.EndTransaction})
	case command.EndTransaction.Name():
		e.completeDevice()
		return nil
	case command.Await.Name():
		// keep waiting on the pollable
		e.status = StatusOther
		return nil
	}
	return e.abort("Unexpected acknowledge")
}

// emitReturn announces the response phase. The RTURN object names the
// root operation when response data follows, or EMPTY otherwise ; for
// SENDV it is always EMPTY.
func (e *Engine) emitReturn() *command.Command {
	e.shouldReturn = false
	e.progress = 0
	object := command.Empty.Name()
	if len(e.dataReturn) > 0 && e.rootOperation != command.SendVariable {
		object = e.rootOperation.Name()
	}
	return e.send(&command.Command{MsgId: e.nextMsgId(), Operation: command.Return, Object: object})
}

// pollPending drives a pending INVOK : emit the RTURN once the pollable
// resolves, keep the host alive with AWAIT frames meanwhile.
func (e *Engine) pollPending() *command.Command {
	result := e.pollable.Poll()
	switch result.State {
	case store.Ready:
		if result.Err != nil {
			e.logger.Warn("invoke operation failed", "object", e.rootObject, "err", result.Err)
			return e.abort("INVOK operation failed")
		}
		e.opPending = false
		e.pollable = nil
		e.dataReturn = result.Data
		return e.emitReturn()
	default:
		now := e.clock.Now()
		if !now.Before(e.awaitDeadline) {
			e.awaitDeadline = now.Add(e.config.AwaitInterval)
			return e.send(&command.Command{MsgId: e.nextMsgId(), Operation: command.Await})
		}
		return nil
	}
}

// completeDevice closes the chain on the device side. The response
// buffer is intentionally retained for external inspection.
func (e *Engine) completeDevice() {
	e.stage = StageIdle
	e.status = StatusOther
	e.role = RoleIdle
	e.rootObject = ""
	e.dataParam = nil
	e.progress = 0
	e.opPending = false
	e.pollable = nil
	e.shouldReturn = false
	e.logger.Debug("transaction complete", "returnLen", len(e.dataReturn))
}
