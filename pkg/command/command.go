// Package command implements the PK Command wire codec.
//
// A frame is ASCII framed with a fixed header and an optional binary body :
//
//	id(2) op(5) [ SP object(5) [ SP data ] ]
//
// The two byte id is base-94 encoded, except for ERROR and ACKNO ERROR
// frames which always carry the two-space placeholder id.
package command

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/lingrottin/go-pkcommand/internal/msgid"
)

// Operation is the closed set of frame tags supported by the protocol.
type Operation uint8

const (
	SendVariable    Operation = iota // SENDV
	RequireVariable                  // REQUV
	Invoke                           // INVOK
	GetVersion                       // PKVER
	Start                            // START
	EndTransaction                   // ENDTR
	Acknowledge                      // ACKNO
	Query                            // QUERY
	Return                           // RTURN
	Empty                            // EMPTY
	Data                             // SDATA
	Await                            // AWAIT
	Error                            // ERROR
)

var operationNames = map[Operation]string{
	SendVariable:    "SENDV",
	RequireVariable: "REQUV",
	Invoke:          "INVOK",
	GetVersion:      "PKVER",
	Start:           "START",
	EndTransaction:  "ENDTR",
	Acknowledge:     "ACKNO",
	Query:           "QUERY",
	Return:          "RTURN",
	Empty:           "EMPTY",
	Data:            "SDATA",
	Await:           "AWAIT",
	Error:           "ERROR",
}

var operationsByName = map[string]Operation{}

func init() {
	for op, name := range operationNames {
		operationsByName[name] = op
	}
}

// Name returns the fixed 5-ASCII name of the operation.
func (op Operation) Name() string {
	name, ok := operationNames[op]
	if !ok {
		return "?????"
	}
	return name
}

func (op Operation) String() string {
	return op.Name()
}

// OperationFromName returns the operation matching a 5-ASCII name.
func OperationFromName(name string) (Operation, bool) {
	op, ok := operationsByName[name]
	return op, ok
}

// IsRoot reports whether the operation may initiate a transaction chain.
func (op Operation) IsRoot() bool {
	switch op {
	case SendVariable, RequireVariable, Invoke, GetVersion:
		return true
	}
	return false
}

var (
	ErrTooShort           = errors.New("command: invalid length, message is too short")
	ErrInvalidLength      = errors.New("command: invalid message length")
	ErrInvalidMsgId       = errors.New("command: invalid message id")
	ErrUnknownOperation   = errors.New("command: unrecognized operation name")
	ErrMalformedSeparator = errors.New("command: missing space separator")
	ErrInvalidEncoding    = errors.New("command: header is not printable ASCII")
	ErrInvalidErrorFrame  = errors.New("command: invalid ERROR frame format")
)

// ObjectLength is the fixed byte length of the object field.
const ObjectLength = 5

// Overhead is the frame size without data : id(2) + op(5) + SP + object(5) + SP
const Overhead = 14

// errorObject is the object carried by ERROR and ACKNO ERROR frames.
const errorObject = "ERROR"

// Command is a parsed PK frame.
type Command struct {
	MsgId     uint16
	Operation Operation
	Object    string
	Data      []byte
}

func isPrintableASCII(b []byte) bool {
	for _, c := range b {
		if c < 0x21 || c > 0x7E {
			return false
		}
	}
	return true
}

// Parse decodes a single raw frame.
func Parse(msg []byte) (Command, error) {
	if len(msg) < 7 {
		return Command{}, ErrTooShort
	}

	// ERROR and ACKNO ERROR frames carry the two-space placeholder id
	if bytes.Equal(msg[0:2], []byte("  ")) {
		opName := msg[2:7]
		isAcknoError := bytes.Equal(opName, []byte("ACKNO"))
		isErrorError := bytes.Equal(opName, []byte("ERROR"))
		if !isAcknoError && !isErrorError {
			return Command{}, ErrInvalidErrorFrame
		}
		if len(msg) < 13 || msg[7] != ' ' || !bytes.Equal(msg[8:13], []byte(errorObject)) {
			return Command{}, ErrInvalidErrorFrame
		}
		var data []byte
		switch {
		case len(msg) == 13:
		case len(msg) > 14:
			if msg[13] != ' ' {
				return Command{}, ErrInvalidErrorFrame
			}
			data = append([]byte{}, msg[14:]...)
		default:
			return Command{}, ErrInvalidErrorFrame
		}
		operation := Error
		if isAcknoError {
			operation = Acknowledge
		}
		return Command{MsgId: 0, Operation: operation, Object: errorObject, Data: data}, nil
	}

	id, err := msgid.ToUint16(msg[0:2])
	if err != nil {
		return Command{}, fmt.Errorf("%w: %w", ErrInvalidMsgId, err)
	}

	if !isPrintableASCII(msg[2:7]) {
		return Command{}, ErrInvalidEncoding
	}
	operation, ok := OperationFromName(string(msg[2:7]))
	if !ok {
		return Command{}, ErrUnknownOperation
	}

	var object string
	var data []byte
	switch {
	case len(msg) == 7:
	case len(msg) == 13:
		if msg[7] != ' ' {
			return Command{}, ErrMalformedSeparator
		}
		if !isPrintableASCII(msg[8:13]) {
			return Command{}, ErrInvalidEncoding
		}
		object = string(msg[8:13])
	case len(msg) > 14:
		if msg[7] != ' ' || msg[13] != ' ' {
			return Command{}, ErrMalformedSeparator
		}
		if !isPrintableASCII(msg[8:13]) {
			return Command{}, ErrInvalidEncoding
		}
		object = string(msg[8:13])
		data = append([]byte{}, msg[14:]...)
	default:
		return Command{}, ErrInvalidLength
	}

	return Command{MsgId: id, Operation: operation, Object: object, Data: data}, nil
}

// placeholderId reports whether the frame uses the two-space id.
func (cmd *Command) placeholderId() bool {
	if cmd.Operation == Error {
		return true
	}
	// The ACKNO of an ERROR frame also carries the placeholder id
	return cmd.Operation == Acknowledge && cmd.Object == errorObject
}

// Bytes serializes the command into a raw frame.
// Panics on programmer errors : a message id above 8835, or data present
// without an object.
func (cmd *Command) Bytes() []byte {
	var id []byte
	if cmd.placeholderId() {
		id = []byte("  ")
	} else {
		encoded, err := msgid.FromUint16(cmd.MsgId)
		if err != nil {
			panic(fmt.Sprintf("command: invalid message id %d", cmd.MsgId))
		}
		id = encoded
	}

	frame := make([]byte, 0, Overhead+len(cmd.Data))
	frame = append(frame, id...)
	frame = append(frame, cmd.Operation.Name()...)
	if cmd.Object == "" {
		if cmd.Data != nil {
			panic("command: data present without an object")
		}
		return frame
	}
	frame = append(frame, ' ')
	frame = append(frame, cmd.Object...)
	if cmd.Data != nil {
		frame = append(frame, ' ')
		frame = append(frame, cmd.Data...)
	}
	return frame
}

// String renders the frame for logging. Data is shown as-is, which is
// only meaningful for textual payloads.
func (cmd Command) String() string {
	if cmd.Data == nil {
		if cmd.Object == "" {
			return fmt.Sprintf("[%d] %s", cmd.MsgId, cmd.Operation.Name())
		}
		return fmt.Sprintf("[%d] %s %s", cmd.MsgId, cmd.Operation.Name(), cmd.Object)
	}
	return fmt.Sprintf("[%d] %s %s %s", cmd.MsgId, cmd.Operation.Name(), cmd.Object, string(cmd.Data))
}

// Equal compares two commands field by field.
func (cmd *Command) Equal(other *Command) bool {
	return cmd.MsgId == other.MsgId &&
		cmd.Operation == other.Operation &&
		cmd.Object == other.Object &&
		bytes.Equal(cmd.Data, other.Data)
}
