package snmp3

import (
	"context"
	"fmt"
	"net"
)

type Engine struct {
	ID  EngineID
	USM *UserSecurityModel

	d *Dispatcher
}

// NewEngine wires a notification receiving engine: the user security model,
// the message processing model and the dispatcher.
func NewEngine(id EngineID, lcd LocalConfigurationDatastore, nr NotificationReceiver, opts ...Option) *Engine {
	usm := NewUserSecurityModel(opts...)
	mpm := NewMessageProcessingModel(usm, lcd)
	d := NewDispatcher(mpm, nr)

	return &Engine{ID: id, USM: usm, d: d}
}

func (e *Engine) Dispatcher() *Dispatcher {
	return e.d
}

func (e *Engine) Serve(ctx context.Context, conn net.PacketConn) error {
	return e.d.Listen(ctx, conn)
}

type ErrorStatus int

const (
	ErrorStatusNoError ErrorStatus = iota
	ErrorStatusTooBig
	ErrorStatusNoSuchName
	ErrorStatusBadValue
	ErrorStatusReadOnly
	ErrorStatusGenErr
	ErrorStatusNoAccess
	ErrorStatusWrongType
	ErrorStatusWrongLength
	ErrorStatusWrongEncoding
	ErrorStatusWrongValue
	ErrorStatusNoCreation
	ErrorStatusInconsistentValue
	ErrorStatusResourceUnavailable
	ErrorStatusCommitFailed
	ErrorStatusUndoFailed
	ErrorStatusAuthorizationError
	ErrorStatusNotWritable
	ErrorStatusInconsistentName
)

var errorStatusText = [...]struct{ name, description string }{
	ErrorStatusNoError:             {"noError", "the request completed without error"},
	ErrorStatusTooBig:              {"tooBig", "the response would not fit in a single message"},
	ErrorStatusNoSuchName:          {"noSuchName", "the requested name does not exist"},
	ErrorStatusBadValue:            {"badValue", "the value is not valid for the variable"},
	ErrorStatusReadOnly:            {"readOnly", "the variable cannot be modified"},
	ErrorStatusGenErr:              {"genErr", "the agent failed for an unspecified reason"},
	ErrorStatusNoAccess:            {"noAccess", "the variable is not accessible"},
	ErrorStatusWrongType:           {"wrongType", "the value has the wrong type for the variable"},
	ErrorStatusWrongLength:         {"wrongLength", "the value has the wrong length for the variable"},
	ErrorStatusWrongEncoding:       {"wrongEncoding", "the value is encoded inconsistently with its type"},
	ErrorStatusWrongValue:          {"wrongValue", "the value can never be assigned to the variable"},
	ErrorStatusNoCreation:          {"noCreation", "the variable does not exist and cannot be created"},
	ErrorStatusInconsistentValue:   {"inconsistentValue", "the value cannot be assigned in the current state"},
	ErrorStatusResourceUnavailable: {"resourceUnavailable", "a resource needed to assign the value is unavailable"},
	ErrorStatusCommitFailed:        {"commitFailed", "the assignments could not be committed"},
	ErrorStatusUndoFailed:          {"undoFailed", "the failed assignments could not be undone"},
	ErrorStatusAuthorizationError:  {"authorizationError", "access was denied by the access control policy"},
	ErrorStatusNotWritable:         {"notWritable", "the variable cannot be written or created"},
	ErrorStatusInconsistentName:    {"inconsistentName", "the variable does not exist and its name is inconsistent"},
}

func (e ErrorStatus) String() string {
	if e < 0 || int(e) >= len(errorStatusText) {
		return fmt.Sprintf("errorStatus(%d)", int(e))
	}
	return errorStatusText[e].name
}

// Description is the RFC 3416 meaning of the status in plain words.
func (e ErrorStatus) Description() string {
	if e < 0 || int(e) >= len(errorStatusText) {
		return "unknown error status"
	}
	return errorStatusText[e].description
}
