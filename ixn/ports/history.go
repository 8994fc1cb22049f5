package ixnports

import "context"

// HistoryStore persists client-held conversation history. Server-delegated
// conversations never touch it.
type HistoryStore interface {
	AppendTurn(ctx context.Context, conversationID string, msg TurnMessage) error
	LoadHistory(ctx context.Context, conversationID string) ([]TurnMessage, error)
	Clear(ctx context.Context, conversationID string) error
}
