package transcription

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/codebuildervaibhav/speaker-transcription/internal/types"
)

// Kind classifies a pipeline failure. Each stage reports its own kind.
type Kind string

const (
	ConversionFailed    Kind = "conversion_failed"
	ProbeFailed         Kind = "ffprobe_failed"
	ValidationFailed    Kind = "validation_failed"
	DiarizationFailed   Kind = "diarization_failed"
	TranscriptionFailed Kind = "transcription_failed"
	PersistenceFailed   Kind = "persistence_failed"
)

// Error is returned by every stage of the pipeline.
type Error struct {
	Kind   Kind
	Detail string
	// Observed is set for ValidationFailed and carries what the prober saw.
	Observed *types.AudioStreamSpec
	// Timeout is set when a collaborator exceeded its deadline.
	Timeout bool
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Timeout {
		msg += " (timeout)"
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil && e.Detail == "" {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// newError wraps err under kind, flagging context deadlines as timeouts.
func newError(kind Kind, err error, detail string) *Error {
	e := &Error{Kind: kind, Detail: detail, Err: err}
	if errors.Is(err, context.DeadlineExceeded) {
		e.Timeout = true
	}
	return e
}

// Wrap classifies err under kind unless it already carries a kind.
func Wrap(kind Kind, err error) error {
	if err == nil || KindOf(err) != "" {
		return err
	}
	return newError(kind, err, "")
}

// NewPersistenceError wraps a storage failure.
func NewPersistenceError(err error) *Error {
	return newError(PersistenceFailed, err, err.Error())
}

// NewValidationError reports a normalized file that does not match the canonical spec.
func NewValidationError(observed types.AudioStreamSpec) *Error {
	return &Error{
		Kind:     ValidationFailed,
		Detail:   fmt.Sprintf("expected %s/%dch/%dHz, got %s/%dch/%dHz", types.CanonicalCodec, types.CanonicalChannels, types.CanonicalSampleRateHz, observed.Codec, observed.Channels, observed.SampleRateHz),
		Observed: &observed,
	}
}

// KindOf returns the kind of err, or "" when err is not a pipeline error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsTimeout reports whether err came from a collaborator deadline.
func IsTimeout(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Timeout
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// HTTPStatus maps a failure to a response code: caller input problems are
// 4xx, environment and model faults 5xx.
func HTTPStatus(err error) int {
	if IsTimeout(err) {
		return http.StatusGatewayTimeout
	}
	switch KindOf(err) {
	case ValidationFailed:
		return http.StatusBadRequest
	case ConversionFailed:
		// the upload could not be decoded
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
