package jobs

import "context"

// ProgressNotifier receives progress updates while a job is polled.
type ProgressNotifier interface {
	Notify(ctx context.Context, progress, total float64, message string) error
}

type progressKey struct{}

// WithProgressNotifier stores n in ctx for Poller.Await to report through.
func WithProgressNotifier(ctx context.Context, n ProgressNotifier) context.Context {
	return context.WithValue(ctx, progressKey{}, n)
}

// GetProgressNotifier returns the notifier stored in ctx, or nil.
func GetProgressNotifier(ctx context.Context) ProgressNotifier {
	n, _ := ctx.Value(progressKey{}).(ProgressNotifier)
	return n
}
