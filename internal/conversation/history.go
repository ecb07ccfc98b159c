// ABOUTME: Bounded sliding-window message history for one end-user of a tenant
// ABOUTME: Pure data structure; FIFO eviction after every append keeps at most Limit turns

package conversation

// DefaultLimit is the number of turns retained per end-user.
const DefaultLimit = 20

// Role identifies who authored a Turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a single immutable message in a conversation.
type Turn struct {
	Role    Role
	Content string
}

// UserTurn returns a Turn authored by the end-user.
func UserTurn(content string) Turn {
	return Turn{Role: RoleUser, Content: content}
}

// AssistantTurn returns a Turn authored by the agent.
func AssistantTurn(content string) Turn {
	return Turn{Role: RoleAssistant, Content: content}
}

// History is the ordered turn buffer for one (tenant, end-user) pair.
type History struct {
	turns []Turn
	limit int
}

// NewHistory creates an empty History holding at most limit turns.
// A non-positive limit falls back to DefaultLimit.
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &History{
		turns: make([]Turn, 0, limit+1),
		limit: limit,
	}
}

// Append adds a turn to the end of the history and re-applies the limit.
// It returns the number of turns evicted.
func (h *History) Append(t Turn) int {
	h.turns = append(h.turns, t)
	return h.TruncateToCap(h.limit)
}

// TruncateToCap drops the oldest turns until at most n remain and returns
// how many were dropped.
func (h *History) TruncateToCap(n int) int {
	if n < 0 {
		n = 0
	}
	excess := len(h.turns) - n
	if excess <= 0 {
		return 0
	}
	// Shift in place so the backing array doesn't grow without bound.
	copy(h.turns, h.turns[excess:])
	clear(h.turns[len(h.turns)-excess:])
	h.turns = h.turns[:len(h.turns)-excess]
	return excess
}

// Clear removes every turn.
func (h *History) Clear() {
	clear(h.turns)
	h.turns = h.turns[:0]
}

// Snapshot returns a copy of the turns in order, oldest first.
func (h *History) Snapshot() []Turn {
	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Len returns the number of turns currently held.
func (h *History) Len() int {
	return len(h.turns)
}

// Limit returns the configured cap.
func (h *History) Limit() int {
	return h.limit
}
