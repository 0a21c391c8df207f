package errcoll

import "context"

// ctxKey is the type of context keys used by this package.
type ctxKey int

const (
	ctxKeyPrefix ctxKey = iota
	ctxKeyWorker
)

// WithPrefix returns a copy of ctx annotated with the hash prefix being
// processed, for inclusion in any error collected further down the call
// chain.
func WithPrefix(ctx context.Context, prefix string) (annotated context.Context) {
	return context.WithValue(ctx, ctxKeyPrefix, prefix)
}

// PrefixFromContext returns the prefix previously attached by [WithPrefix],
// if any.
func PrefixFromContext(ctx context.Context) (prefix string, ok bool) {
	prefix, ok = ctx.Value(ctxKeyPrefix).(string)

	return prefix, ok
}

// WithWorker returns a copy of ctx annotated with the refresh worker's
// identifier.
func WithWorker(ctx context.Context, worker string) (annotated context.Context) {
	return context.WithValue(ctx, ctxKeyWorker, worker)
}

// WorkerFromContext returns the worker identifier previously attached by
// [WithWorker], if any.
func WorkerFromContext(ctx context.Context) (worker string, ok bool) {
	worker, ok = ctx.Value(ctxKeyWorker).(string)

	return worker, ok
}
