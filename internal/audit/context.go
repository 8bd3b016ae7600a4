package audit

import "context"

// actorKey is an unexported context key for passing the acting operator through
// internal layers. HTTP handlers attach it with WithActor after authentication.
type actorKey struct{}

func WithActor(ctx context.Context, a Actor) context.Context {
	if a == (Actor{}) {
		return ctx
	}
	return context.WithValue(ctx, actorKey{}, a)
}

func ActorFrom(ctx context.Context) Actor {
	if a, ok := ctx.Value(actorKey{}).(Actor); ok {
		return a
	}
	return Actor{}
}
