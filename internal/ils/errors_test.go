package ils

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsKindMatchesThroughWrapping(t *testing.T) {
	err := fmt.Errorf("calling backend: %w", TransportError("request failed", errors.New("dial tcp: refused")))

	if !IsKind(err, KindTransport) {
		t.Fatalf("expected transport kind to match through wrapping")
	}
	if IsKind(err, KindAuthentication) {
		t.Fatalf("kinds must not cross-match")
	}
	if IsKind(errors.New("plain"), KindTransport) {
		t.Fatalf("plain errors have no kind")
	}
}
