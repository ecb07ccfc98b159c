// Package conversation holds per-end-user conversation state for a tenant.
//
// # History
//
// A History is an ordered, bounded buffer of Turns:
//
//	h := conversation.NewHistory(conversation.DefaultLimit)
//	h.Append(conversation.UserTurn("hello"))
//	h.Append(conversation.AssistantTurn("Hi there!"))
//	turns := h.Snapshot()
//
// The limit is enforced after every single Append. When a new turn would
// exceed the limit the oldest turns are dropped first and the relative order
// of the remaining turns is preserved.
//
// # Ownership
//
// History performs no locking. Exactly one writer (the tenant worker that owns
// the end-user) may mutate a given History; readers outside that goroutine
// must synchronize with it.
package conversation
