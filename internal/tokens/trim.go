package tokens

import "github.com/HerbHall/litdigest/pkg/llm"

// HeadroomRatio is the share of the limit a fitted message list may use,
// leaving the remainder for the response.
const HeadroomRatio = 0.8

// Trim keeps messages[0] (the system message) and the longest run of the
// newest remaining messages whose cost fits in budget. Walking newest to
// oldest, it stops at the first message that does not fit. Order is
// preserved. The returned slice is newly allocated.
func Trim(c Counter, messages []llm.Message, budget int) []llm.Message {
	if len(messages) == 0 {
		return nil
	}

	system := messages[0]
	systemTokens := c.Count([]llm.Message{system})
	if systemTokens >= budget {
		return []llm.Message{system}
	}
	available := budget - systemTokens

	rest := messages[1:]
	start := len(rest)
	used := 0
	for i := len(rest) - 1; i >= 0; i-- {
		cost := c.Count(rest[i : i+1])
		if used+cost > available {
			break
		}
		used += cost
		start = i
	}

	out := make([]llm.Message, 0, 1+len(rest)-start)
	out = append(out, system)
	return append(out, rest[start:]...)
}

// Fit returns messages unchanged when their cost is within limit, and
// otherwise trims them to HeadroomRatio of limit. The second return reports
// whether a trim happened.
func Fit(c Counter, messages []llm.Message, limit int) ([]llm.Message, bool) {
	if c.Count(messages) <= limit {
		return messages, false
	}
	return Trim(c, messages, int(float64(limit)*HeadroomRatio)), true
}
