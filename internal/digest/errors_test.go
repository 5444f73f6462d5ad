package digest

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/HerbHall/litdigest/pkg/llm"
)

func TestKindOf_Wrapped(t *testing.T) {
	err := fmt.Errorf("job a.pdf: %w", Extraction("a.pdf", "text too short", nil))
	if KindOf(err) != KindExtraction {
		t.Errorf("KindOf() = %q, want extraction", KindOf(err))
	}
	if !IsKind(err, KindExtraction) || IsKind(err, KindAPI) {
		t.Error("IsKind() mismatch")
	}
	if KindOf(errors.New("plain")) != "" {
		t.Error("KindOf(plain) should be empty")
	}
}

func TestAPICode(t *testing.T) {
	pe := llm.NewProviderError(llm.ErrCodeRateLimit, "slow down", nil)
	err := API("summarize", pe)

	if got := APICode(err); got != llm.ErrCodeRateLimit {
		t.Errorf("APICode() = %q, want %q", got, llm.ErrCodeRateLimit)
	}
	if !errors.Is(err, pe) {
		t.Error("API error does not unwrap to provider error")
	}
	if APICode(Generation("summarize", "blank")) != "" {
		t.Error("APICode() of non-API error should be empty")
	}
}

func TestError_Message(t *testing.T) {
	err := Extraction("/docs/a.pdf", "no text", errors.New("malformed xref"))
	msg := err.Error()
	for _, want := range []string{"extract", "extraction error", "/docs/a.pdf", "no text", "malformed xref"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
}

func TestDescribe(t *testing.T) {
	err := API("ask", llm.NewProviderError(llm.ErrCodeConnection, "refused", nil))
	if !strings.Contains(Describe(err), "cannot reach") {
		t.Errorf("Describe() = %q", Describe(err))
	}
	if Describe(nil) != "" {
		t.Error("Describe(nil) should be empty")
	}
}
