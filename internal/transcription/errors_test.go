package transcription

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/codebuildervaibhav/speaker-transcription/internal/types"
)

func TestHTTPStatus(t *testing.T) {
	t.Parallel()
	cases := []struct {
		err  error
		want int
	}{
		{NewValidationError(types.AudioStreamSpec{Codec: "mp3", Channels: 2, SampleRateHz: 44100}), http.StatusBadRequest},
		{newError(ConversionFailed, errors.New("exit 1"), "bad input"), http.StatusUnprocessableEntity},
		{newError(ProbeFailed, errors.New("exit 1"), ""), http.StatusInternalServerError},
		{newError(DiarizationFailed, fmt.Errorf("x: %w", context.DeadlineExceeded), ""), http.StatusGatewayTimeout},
		{NewPersistenceError(errors.New("disk full")), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := HTTPStatus(tc.err); got != tc.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestWrapKeepsExistingKind(t *testing.T) {
	t.Parallel()
	inner := newError(ProbeFailed, errors.New("boom"), "")
	if KindOf(Wrap(DiarizationFailed, inner)) != ProbeFailed {
		t.Fatal("Wrap must not reclassify")
	}
	if KindOf(Wrap(DiarizationFailed, errors.New("boom"))) != DiarizationFailed {
		t.Fatal("Wrap should classify plain errors")
	}
	if Wrap(DiarizationFailed, nil) != nil {
		t.Fatal("Wrap(nil) must stay nil")
	}
}

func TestValidationErrorMessage(t *testing.T) {
	t.Parallel()
	err := NewValidationError(types.AudioStreamSpec{Codec: "pcm_s16le", Channels: 2, SampleRateHz: 16000})
	if !strings.Contains(err.Error(), "2ch") || err.Observed.Channels != 2 {
		t.Fatalf("unexpected error %v", err)
	}
	var wrapped error = fmt.Errorf("job: %w", err)
	if KindOf(wrapped) != ValidationFailed {
		t.Fatal("kind must survive wrapping")
	}
}
