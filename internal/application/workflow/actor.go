package workflow

import "context"

type actorKey struct{}

// SystemActor is recorded in history when the caller did not identify itself
const SystemActor = "system"

// WithActor attaches the name recorded in history rows for actions run with ctx
func WithActor(ctx context.Context, actor string) context.Context {
	if actor == "" {
		return ctx
	}
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the actor attached by WithActor, or SystemActor
func ActorFrom(ctx context.Context) string {
	if actor, ok := ctx.Value(actorKey{}).(string); ok && actor != "" {
		return actor
	}
	return SystemActor
}
