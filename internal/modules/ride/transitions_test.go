// README: Transition table tests (no collaborators needed).
package ride

import (
	"errors"
	"testing"

	"orbix/internal/apperrors"
	"orbix/internal/types"
)

// TestCanTransition verifies the phase diagram without a store.
func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Phase
		want     bool
	}{
		// happy path
		{PhaseIdle, PhaseRequested, true},
		{PhaseRequested, PhaseMatched, true},
		{PhaseMatched, PhaseOTPPending, true},
		{PhaseOTPPending, PhaseStarted, true},
		{PhaseStarted, PhaseCaptainWaiting, true},
		{PhaseCaptainWaiting, PhaseStarted, true},
		{PhaseStarted, PhaseFinishing, true},
		{PhaseFinishing, PhaseCompleted, true},
		// rider skips otp_pending
		{PhaseMatched, PhaseStarted, true},
		// otp rejection loops back
		{PhaseOTPPending, PhaseMatched, true},
		// cancellation
		{PhaseRequested, PhaseCancelled, true},
		{PhaseStarted, PhaseCancelled, true},
		{PhaseFinishing, PhaseCancelled, true},
		// terminal phases have no outgoing edges
		{PhaseCompleted, PhaseIdle, false},
		{PhaseCancelled, PhaseRequested, false},
		{PhaseError, PhaseRequested, false},
		// skipping phases
		{PhaseIdle, PhaseStarted, false},
		{PhaseRequested, PhaseStarted, false},
		{PhaseMatched, PhaseFinishing, false},
		{PhaseIdle, PhaseCancelled, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

// Every event rule must be an edge of the diagram.
func TestRulesFollowDiagram(t *testing.T) {
	for k, r := range rules {
		if !CanTransition(k.from, r.to) {
			t.Errorf("rule %s --%s--> %s is not in AllowedTransitions", k.from, k.kind, r.to)
		}
	}
	for _, p := range Phases {
		if p.Terminal() {
			continue
		}
		if p != PhaseIdle && !CanTransition(p, PhaseCancelled) {
			t.Errorf("%s cannot be cancelled", p)
		}
		if !CanTransition(p, PhaseError) {
			t.Errorf("%s cannot fail", p)
		}
	}
}

func TestValidateOTP(t *testing.T) {
	cases := []struct {
		otp string
		ok  bool
	}{
		{"483920", true},
		{"000000", true},
		{"", false},
		{"12345", false},
		{"1234567", false},
		{"12a456", false},
		{" 123456", false},
		{"١٢٣٤٥٦", false}, // non-ASCII digits
	}
	for _, tc := range cases {
		err := ValidateOTP(tc.otp)
		if (err == nil) != tc.ok {
			t.Errorf("ValidateOTP(%q) err = %v, want ok=%v", tc.otp, err, tc.ok)
		}
		if err != nil && !errors.Is(err, ErrInvalidOTP) {
			t.Errorf("ValidateOTP(%q) err = %v, want ErrInvalidOTP", tc.otp, err)
		}
	}
}

func TestInvalidTransitionErrorMatchesBothSentinels(t *testing.T) {
	err := error(&InvalidTransitionError{From: PhaseIdle, Event: EventRideStarted, Role: types.RoleRider})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition")
	}
	if !errors.Is(err, apperrors.InvalidTransition) {
		t.Fatalf("expected apperrors.InvalidTransition")
	}
	if k := apperrors.KindOf(AsAppError("transition", err)); k != apperrors.KindInvalidTransition {
		t.Fatalf("kind = %s", k)
	}
}
