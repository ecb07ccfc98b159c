// ABOUTME: Contracts between a tenant worker and its collaborators.
// ABOUTME: Defines inbound units, the Transport interface and the gateway Completer.

package tenant

import (
	"context"

	"github.com/2389/botfactory/internal/conversation"
	"github.com/2389/botfactory/internal/llm"
)

// Kind classifies an inbound unit.
type Kind int

const (
	// KindText is an ordinary message that runs the conversation protocol.
	KindText Kind = iota
	// KindStart initializes the user's conversation and greets them.
	KindStart
	// KindReset clears the user's conversation.
	KindReset
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindStart:
		return "start"
	case KindReset:
		return "reset"
	default:
		return "unknown"
	}
}

// Inbound is one unit delivered by a Transport.
type Inbound struct {
	// UpdateID identifies the unit for redelivery suppression. Zero disables it.
	UpdateID int64
	UserID   int64
	ChatID   int64
	Kind     Kind
	Text     string
}

// Transport receives inbound units for one tenant and sends replies.
type Transport interface {
	// Run receives until ctx is cancelled, calling handle for each unit in
	// arrival order. It calls ready once the transport is initialized and
	// about to receive; units may arrive only after that. An error returned
	// before ready means the transport could not be initialized.
	Run(ctx context.Context, handle func(Inbound), ready func()) error

	// Send delivers a text reply to a chat.
	Send(ctx context.Context, chatID int64, text string) error
}

// TransportFactory builds a Transport for a tenant credential.
type TransportFactory func(credential string) (Transport, error)

// Completer is the gateway as seen by a worker. *llm.Client satisfies it.
type Completer interface {
	Complete(ctx context.Context, history []conversation.Turn, profile string, opts ...llm.CallOption) llm.Result
}
