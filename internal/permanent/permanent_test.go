package permanent

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestMarkAndIs(t *testing.T) {
	t.Parallel()

	if Mark(nil) != nil || New(ReasonFormat, nil) != nil {
		t.Fatalf("nil must stay nil")
	}
	if Is(nil) || Is(errors.New("flaky")) {
		t.Fatalf("plain errors are retryable")
	}

	wrapped := fmt.Errorf("deliver: %w", Errorf(ReasonFormat, "format slack payload: %w", context.Canceled))
	if !Is(wrapped) {
		t.Fatalf("marker must survive wrapping")
	}
	if !errors.Is(wrapped, context.Canceled) {
		t.Fatalf("cause must stay reachable")
	}
	if wrapped.Error() != "deliver: format slack payload: context canceled" {
		t.Fatalf("unexpected message %q", wrapped.Error())
	}
}

func TestReasonOf(t *testing.T) {
	t.Parallel()

	cases := map[string]error{
		"":                    errors.New("connection reset"),
		ReasonTargetMissing:   fmt.Errorf("replay: %w", Errorf(ReasonTargetMissing, "target %q gone", "ops")),
		ReasonRejected:        Mark(New(ReasonRejected, errors.New("400 bad request"))),
		ReasonUnsupportedType: New(ReasonUnsupportedType, errors.New("sms")),
	}
	for want, err := range cases {
		if got := ReasonOf(err); got != want {
			t.Fatalf("ReasonOf(%v)=%q want %q", err, got, want)
		}
	}
	if ReasonOf(Mark(errors.New("no reason"))) != "" {
		t.Fatalf("reasonless mark must report empty reason")
	}
	if (&Error{Reason: ReasonTargetDisabled}).Error() != "permanent failure: target_disabled" {
		t.Fatalf("unexpected message for causeless error")
	}
}
