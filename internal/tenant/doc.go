// ABOUTME: Package tenant runs conversational agents, one worker per tenant.
// ABOUTME: The Supervisor is the only registry of live workers.

// Package tenant hosts the lifecycle of running tenants.
//
// A Worker owns one tenant's receive loop, delegated to a Transport, and the
// per-user conversation state for that tenant. Messages from one user are
// handled strictly in arrival order; different users are handled
// concurrently.
//
// The Supervisor maps tenant IDs to live Workers. Start and Stop never
// surface worker failures as errors; they log them and report a boolean.
// At most one Worker exists per tenant ID, and an ID becomes eligible for a
// new start only after its previous Worker has fully stopped.
package tenant
