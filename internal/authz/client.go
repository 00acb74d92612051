package authz

import "context"

// Client is the boundary to a policy decision point. Implementations must be
// safe for concurrent use and must report transport problems as
// ErrDecisionUnavailable.
type Client interface {
	// CheckResource asks for a verdict on each action against one resource.
	CheckResource(ctx context.Context, p Principal, r Resource, actions []string) (Decision, error)
	// CheckResources evaluates every item in a single round trip.
	CheckResources(ctx context.Context, p Principal, items []BatchItem) (BatchDecision, error)
}
