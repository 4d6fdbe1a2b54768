package dispatch

import "context"

type depthKey struct{}

// Depth returns how many dispatch cycles are currently nested in ctx.
// Handlers that mutate records must pass their ctx on so nested commits are
// counted.
func Depth(ctx context.Context) int {
	if ctx == nil {
		return 0
	}
	d, _ := ctx.Value(depthKey{}).(int)
	return d
}

func withDepth(ctx context.Context, depth int) context.Context {
	return context.WithValue(ctx, depthKey{}, depth)
}
