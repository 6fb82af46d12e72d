package wire

import "fmt"

// Code is a server status code carried by OpError frames.
type Code uint8

const (
	CodeOK Code = iota
	CodeCancelled
	CodeUnknown
	CodeInvalidArgument
	CodeDeadlineExceeded
	CodeNotFound
	CodePermissionDenied
	CodeResourceExhausted
	CodeFailedPrecondition
	CodeAborted
	CodeInternal
	CodeUnavailable
)

var codeNames = map[Code]string{
	CodeOK:                 "OK",
	CodeCancelled:          "Cancelled",
	CodeUnknown:            "Unknown",
	CodeInvalidArgument:    "InvalidArgument",
	CodeDeadlineExceeded:   "DeadlineExceeded",
	CodeNotFound:           "NotFound",
	CodePermissionDenied:   "PermissionDenied",
	CodeResourceExhausted:  "ResourceExhausted",
	CodeFailedPrecondition: "FailedPrecondition",
	CodeAborted:            "Aborted",
	CodeInternal:           "Internal",
	CodeUnavailable:        "Unavailable",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Code(%d)", uint8(c))
}

// Retryable reports whether the server considers a request that failed with
// this code worth repeating unchanged.
func (c Code) Retryable() bool {
	switch c {
	case CodeUnavailable, CodeResourceExhausted, CodeAborted, CodeDeadlineExceeded:
		return true
	default:
		return false
	}
}

// Status is the body of an OpError frame.
type Status struct {
	Code    Code   `json:"code"`
	Message string `json:"msg"`
}
