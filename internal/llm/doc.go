// Package llm is the client for the shared chat-completion gateway.
//
// # Client
//
// A single Client is shared by every tenant worker:
//
//	c := llm.New(llm.Config{BaseURL: "https://api.onlysq.ru/ai/openai/v1"}, logger, m)
//	res := c.Complete(ctx, llm.Request{History: turns, Profile: profile})
//	reply := res.Reply()
//
// Complete never returns an error. Every call yields a Result whose Outcome is
// one of success, timeout, http_error, transport_error or malformed; Reply
// maps a failed Result to a fixed apology for the end-user. That mapping is
// the only place failures become user-facing text.
//
// # Connection Pool
//
// The client owns one HTTP transport for its lifetime. The pool moves through
// uninitialized -> open -> closed; ensureOpen (re)creates it under a lock, so
// a Close followed by a call transparently reopens it.
//
// # Timeouts
//
// Each call is bounded by RequestTimeout (30s). The bound is not adjustable
// per call.
package llm
