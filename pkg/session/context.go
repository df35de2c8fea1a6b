package session

import "context"

type stateContextKey struct{}

// NewContext attaches state to ctx for handlers further down a chain.
func NewContext(ctx context.Context, state *State) context.Context {
	return context.WithValue(ctx, stateContextKey{}, state)
}

func FromContext(ctx context.Context) (*State, bool) {
	if ctx == nil {
		return nil, false
	}

	state, ok := ctx.Value(stateContextKey{}).(*State)
	return state, ok && state != nil
}
