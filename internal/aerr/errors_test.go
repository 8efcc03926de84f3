package aerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	err := E(KindTimeout, "llm.Generate", "deadline exceeded")
	if got := KindOf(err); got != KindTimeout {
		t.Errorf("KindOf = %s, want %s", got, KindTimeout)
	}

	wrapped := fmt.Errorf("outer: %w", err)
	if got := KindOf(wrapped); got != KindTimeout {
		t.Errorf("KindOf(wrapped) = %s, want %s", got, KindTimeout)
	}

	if got := KindOf(errors.New("plain")); got != KindInternal {
		t.Errorf("KindOf(plain) = %s, want %s", got, KindInternal)
	}

	if got := KindOf(nil); got != "" {
		t.Errorf("KindOf(nil) = %q, want empty", got)
	}
}

func TestSentinelComparison(t *testing.T) {
	err := E(KindCircuitOpen, "resilience.Execute", errors.New("breaker open"))
	if !errors.Is(err, Sentinel(KindCircuitOpen)) {
		t.Error("errors.Is should match sentinel of same kind")
	}
	if errors.Is(err, Sentinel(KindRateLimited)) {
		t.Error("errors.Is should not match different kind")
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		kind Kind
		want bool
	}{
		{KindBackendUnavailable, true},
		{KindTimeout, true},
		{KindRateLimited, true},
		{KindCircuitOpen, true},
		{KindValidation, false},
		{KindPersistenceCorrupt, false},
		{KindGenerationUnavailable, false},
	}
	for _, tc := range cases {
		if got := IsRetryable(E(tc.kind, "op")); got != tc.want {
			t.Errorf("IsRetryable(%s) = %v, want %v", tc.kind, got, tc.want)
		}
	}
}

func TestErrorMessageForms(t *testing.T) {
	e := E(KindNotFound, "memory.Get", "no such key")
	if e.Error() != "NotFound: memory.Get: no such key" {
		t.Errorf("unexpected message: %s", e.Error())
	}

	cause := errors.New("disk gone")
	e2 := E(KindPersistenceCorrupt, "store.Load", cause)
	if !errors.Is(e2, cause) {
		t.Error("wrapped cause should be reachable via errors.Is")
	}
}
