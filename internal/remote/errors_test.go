package remote

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindMatching(t *testing.T) {
	base := E(RateLimited, "like", errors.New("please wait a few minutes"))
	wrapped := fmt.Errorf("job: %w", base)

	if !errors.Is(wrapped, RateLimited) {
		t.Fatalf("errors.Is(RateLimited) = false")
	}
	if errors.Is(wrapped, AuthRequired) {
		t.Fatalf("errors.Is(AuthRequired) = true")
	}
	if got := KindOf(wrapped); got != RateLimited {
		t.Fatalf("KindOf = %v", got)
	}
	if got := KindOf(errors.New("plain")); got != Generic {
		t.Fatalf("KindOf(plain) = %v", got)
	}
	if got := KindOf(fmt.Errorf("x: %w", NotFound)); got != NotFound {
		t.Fatalf("KindOf(bare kind) = %v", got)
	}
}

func TestErrorMessage(t *testing.T) {
	err := E(NotFound, "user_medias", errors.New("user not found\ntrace"))
	want := "remote user_medias: not_found: user not found\ntrace"
	if err.Error() != want {
		t.Fatalf("Error() = %q", err.Error())
	}
}
