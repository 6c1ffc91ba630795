package action

import (
	"encoding/json"
	"net/http"

	"github.com/Olympe-Studio/ferndev/internal/fault"
)

// Status tags a Result.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Result is the outcome of one action call. Callers branch on Status: a
// successful call may carry a zero or nil Data.
type Result struct {
	Status Status       `json:"status"`
	Data   any          `json:"data,omitempty"`
	Error  *ResultError `json:"error,omitempty"`
}

// ResultError describes a failed call.
type ResultError struct {
	Message string     `json:"message"`
	Status  int        `json:"status,omitempty"`
	Kind    fault.Kind `json:"kind,omitempty"`

	cause error
}

// OK reports whether the call succeeded.
func (r Result) OK() bool {
	return r.Status == StatusOK
}

// Err returns nil for successful results and a *fault.Error otherwise.
func (r Result) Err() error {
	if r.OK() {
		return nil
	}
	if r.Error == nil {
		return fault.New(fault.KindNetwork, http.StatusInternalServerError, defaultFailureMessage)
	}
	return &fault.Error{
		Kind:    r.Error.Kind,
		Status:  r.Error.Status,
		Message: r.Error.Message,
		Err:     r.Error.cause,
	}
}

func success(data any) Result {
	return Result{Status: StatusOK, Data: data}
}

func failure(err *fault.Error) Result {
	return Result{
		Status: StatusError,
		Error: &ResultError{
			Message: err.Message,
			Status:  err.Status,
			Kind:    err.Kind,
			cause:   err.Err,
		},
	}
}

// Decode converts the untyped payload of a successful result into T.
func Decode[T any](r Result) (T, error) {
	var out T
	if err := r.Err(); err != nil {
		return out, err
	}
	raw, err := json.Marshal(r.Data)
	if err != nil {
		return out, fault.Wrap(fault.KindValidation, "decode action payload", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fault.Wrap(fault.KindValidation, "decode action payload", err)
	}
	return out, nil
}
