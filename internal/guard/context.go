package guard

import (
	"context"

	"github.com/frahmantamala/restaurant-pos/internal/notice"
)

type navigatorKey struct{}
type notifierKey struct{}
type targetKey struct{}

// WithNavigator overrides the guard's navigator for evaluations under ctx.
func WithNavigator(ctx context.Context, nav notice.Navigator) context.Context {
	return context.WithValue(ctx, navigatorKey{}, nav)
}

// WithNotifier overrides the guard's notifier for evaluations under ctx.
func WithNotifier(ctx context.Context, n notice.Notifier) context.Context {
	return context.WithValue(ctx, notifierKey{}, n)
}

// WithTarget names the view being opened, for logs and audit events.
func WithTarget(ctx context.Context, target string) context.Context {
	return context.WithValue(ctx, targetKey{}, target)
}

func navigatorFrom(ctx context.Context, fallback notice.Navigator) notice.Navigator {
	if nav, ok := ctx.Value(navigatorKey{}).(notice.Navigator); ok {
		return nav
	}
	return fallback
}

func notifierFrom(ctx context.Context, fallback notice.Notifier) notice.Notifier {
	if n, ok := ctx.Value(notifierKey{}).(notice.Notifier); ok {
		return n
	}
	return fallback
}

func targetFrom(ctx context.Context) string {
	target, _ := ctx.Value(targetKey{}).(string)
	return target
}
