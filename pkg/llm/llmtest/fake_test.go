package llmtest

import (
	"strings"
	"testing"

	"github.com/HerbHall/litdigest/pkg/llm"
)

func TestFake_Contract(t *testing.T) {
	TestProviderContract(t, func() llm.Provider {
		f := Static("one two three")
		f.Models = []string{"fake"}
		return f
	})
}

func TestFragments_JoinRoundTrip(t *testing.T) {
	for _, s := range []string{"", "a", "hello world", "  leading", "trailing  ", "多 字节 text"} {
		got := strings.Join(Fragments(s), "")
		if got != s {
			t.Errorf("Fragments(%q) joined = %q", s, got)
		}
	}
	if n := len(Fragments("a b c")); n != 3 {
		t.Errorf("len(Fragments(\"a b c\")) = %d, want 3", n)
	}
}
