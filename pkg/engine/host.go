package engine

import (
	"github.com/lingrottin/go-pkcommand/pkg/command"
)

// Host side frame handling. The host walks the chain strictly on
// acknowledgements : every received ACKNO clears the outstanding frame,
// and every one except ACKNO QUERY also triggers the next step ; after
// ACKNO QUERY the host waits for the device's AWAIT or RTURN.

func (e *Engine) hostStarted(cmd *command.Command) *command.Command {
	if cmd.Operation != command.Acknowledge || cmd.Object != command.Start.Name() {
		return e.abort("Expecting ACKNO START")
	}
	e.stage = StageRootOperationAssigned
	next := &command.Command{MsgId: e.nextMsgId(), Operation: e.rootOperation}
	if e.rootObject != "" {
		next.Object = e.rootObject
	}
	return e.send(next)
}

func (e *Engine) hostRootOperationAssigned(cmd *command.Command) *command.Command {
	if cmd.Operation != command.Acknowledge || cmd.Object != e.rootOperation.Name() {
		return e.abort("Expecting ACKNO " + e.rootOperation.Name())
	}
	e.stage = StageSendingParameter
	if len(e.dataParam) == 0 {
		return e.send(&command.Command{MsgId: e.nextMsgId(), Operation: command.Empty})
	}
	return e.nextChunk(e.dataParam)
}

func (e *Engine) hostSendingParameter(cmd *command.Command) *command.Command {
	if cmd.Operation != command.Acknowledge || e.lastSent == nil {
		return e.abort("Expecting acknowledge")
	}
	switch e.lastSent.Operation {
	case command.Empty:
		if cmd.Object != command.Empty.Name() {
			return e.abort("Expecting ACKNO EMPTY")
		}
		e.stage = StageParameterSent
		return e.send(&command.Command{MsgId: e.nextMsgId(), Operation: command.EndTransaction})
	case command.Data:
		if cmd.Object != command.Data.Name() {
			return e.abort("Expecting ACKNO SDATA")
		}
		if e.progress < len(e.dataParam) {
			return e.nextChunk(e.dataParam)
		}
		e.stage = StageParameterSent
		return e.send(&command.Command{MsgId: e.nextMsgId(), Operation: command.EndTransaction})
	}
	return e.abort("Unexpected acknowledge")
}

func (e *Engine) hostParameterSent(cmd *command.Command) *command.Command {
	switch cmd.Operation {
	case command.Acknowledge:
		switch cmd.Object {
		case command.EndTransaction.Name():
			return e.send(&command.Command{MsgId: e.nextMsgId(), Operation: command.Query})
		case command.Query.Name():
			// the device is now executing the root operation
			e.status = StatusOther
			return nil
		}
		return e.abort("Unexpected acknowledge")
	case command.Await:
		// keep-alive while the device works
		return e.send(e.ack(cmd))
	case command.Return:
		if cmd.Object != command.Empty.Name() && cmd.Object != e.rootOperation.Name() {
			return e.abort("Unexpected RTURN object")
		}
		e.stage = StageSendingResponse
		return e.send(e.ack(cmd))
	}
	return e.abort("Expecting RTURN or AWAIT")
}

func (e *Engine) hostSendingResponse(cmd *command.Command) *command.Command {
	switch cmd.Operation {
	case command.Data:
		e.dataReturn = append(e.dataReturn, cmd.Data...)
		return e.send(e.ack(cmd))
	case command.EndTransaction:
		reply := e.send(e.ack(cmd))
		e.completeHost()
		return reply
	}
	return e.abort("Expecting SDATA or ENDTR")
}

// completeHost closes the chain on the host side. The role sticks as
// Host until the return data is consumed through ReturnData or a
// completion callback.
func (e *Engine) completeHost() {
	e.stage = StageIdle
	e.status = StatusOther
	e.dataParam = nil
	e.progress = 0
	e.logger.Debug("transaction complete", "returnLen", len(e.dataReturn))
	if e.onComplete != nil {
		callback := e.onComplete
		e.onComplete = nil
		e.role = RoleIdle
		callback(e.takeReturnData())
	}
}
