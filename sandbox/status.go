package sandbox

import (
	"github.com/wippyai/wasm-sandbox/errors"
)

// Status is the protocol-neutral outcome of a request.
type Status uint8

const (
	StatusContinue Status = iota
	StatusCreated
	StatusContent
	StatusDeleted
	StatusBadRequest
	StatusNotFound
	StatusMethodNotAllowed
	StatusNotAcceptable
	StatusRequestEntityIncomplete
	StatusRequestEntityTooLarge
	StatusInternalServerError
)

var statusNames = [...]string{
	StatusContinue:                "Continue",
	StatusCreated:                 "Created",
	StatusContent:                 "Content",
	StatusDeleted:                 "Deleted",
	StatusBadRequest:              "BadRequest",
	StatusNotFound:                "NotFound",
	StatusMethodNotAllowed:        "MethodNotAllowed",
	StatusNotAcceptable:           "NotAcceptable",
	StatusRequestEntityIncomplete: "RequestEntityIncomplete",
	StatusRequestEntityTooLarge:   "RequestEntityTooLarge",
	StatusInternalServerError:     "InternalServerError",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "Unknown"
}

// Success reports whether s is a 2.xx-class status.
func (s Status) Success() bool {
	return s <= StatusDeleted
}

// StatusFor maps an error to the status reported to the requester.
func StatusFor(err error) Status {
	switch errors.KindOf(err) {
	case errors.KindBadOption, errors.KindMissingOption, errors.KindInvalidModule, errors.KindInvalidInput:
		return StatusBadRequest
	case errors.KindUnsupportedMethod:
		return StatusMethodNotAllowed
	case errors.KindOutOfOrder, errors.KindShortBlock:
		return StatusRequestEntityIncomplete
	case errors.KindTooLarge:
		return StatusRequestEntityTooLarge
	case errors.KindNotFound:
		return StatusNotFound
	case errors.KindNotAcceptable:
		return StatusNotAcceptable
	default:
		return StatusInternalServerError
	}
}
