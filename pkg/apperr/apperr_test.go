package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestIsMatchesByKind(t *testing.T) {
	err := Conflict("broker.approve", "session %s is full", "s-1")
	wrapped := fmt.Errorf("approve: %w", err)

	if !errors.Is(wrapped, ErrConflict) {
		t.Fatalf("expected conflict to match sentinel")
	}
	if errors.Is(wrapped, ErrForbidden) {
		t.Fatalf("conflict must not match forbidden")
	}
	if KindOf(wrapped) != KindConflict {
		t.Fatalf("KindOf = %v", KindOf(wrapped))
	}
	if HTTPStatus(wrapped) != http.StatusConflict {
		t.Fatalf("HTTPStatus = %d", HTTPStatus(wrapped))
	}
	if Message(wrapped) != "session s-1 is full" {
		t.Fatalf("Message = %q", Message(wrapped))
	}
}

func TestUnclassifiedErrors(t *testing.T) {
	err := errors.New("boom")
	if KindOf(err) != KindUnknown {
		t.Fatalf("expected unknown kind")
	}
	if HTTPStatus(err) != http.StatusInternalServerError {
		t.Fatalf("expected 500")
	}
	if Message(err) != "internal error" {
		t.Fatalf("internal text leaked: %q", Message(err))
	}
}

func TestParseKindRoundTrip(t *testing.T) {
	for k := KindValidation; k <= KindUnauthenticated; k++ {
		if ParseKind(k.String()) != k {
			t.Fatalf("round trip failed for %v", k)
		}
	}
	if ParseKind("nope") != KindUnknown {
		t.Fatalf("expected unknown")
	}
}

func TestTransientIOUnwraps(t *testing.T) {
	cause := errors.New("disk full")
	err := TransientIO("store.apply", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause in chain")
	}
	if !errors.Is(err, ErrTransientIO) {
		t.Fatalf("expected transient kind")
	}
}
