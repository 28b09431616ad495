package goruntime

import (
	"context"
	rpprof "runtime/pprof"

	"github.com/fllarpy/stackprobe/domain/profile"
)

// labelKey is the pprof label that binds a goroutine to a sampling target.
const labelKey = "stackprobe_target"

// Do runs fn on the current goroutine labelled as target, so a concurrent
// sampling run bound to the same TargetID can attribute its stacks. The
// label is removed when fn returns.
func Do(ctx context.Context, target profile.TargetID, fn func(context.Context)) {
	rpprof.Do(ctx, rpprof.Labels(labelKey, string(target)), fn)
}

// Annotate labels the current goroutine as target for the rest of its
// lifetime and returns the labelled context so the label propagates to
// goroutines started from it.
func Annotate(ctx context.Context, target profile.TargetID) context.Context {
	lctx := rpprof.WithLabels(ctx, rpprof.Labels(labelKey, string(target)))
	rpprof.SetGoroutineLabels(lctx)
	return lctx
}
