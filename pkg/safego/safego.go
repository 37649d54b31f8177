package safego

import (
	"context"
	"fmt"
	"runtime/debug"

	"gitlab.com/timkado/api/edumate-realtime/internal/domain"
)

// Execute runs fn in a new goroutine, recovering and logging any panic with a stack trace.
func Execute(ctx context.Context, logger domain.Logger, goroutineName string, fn func()) {
	go Run(ctx, logger, goroutineName, fn)
}

// Run calls fn on the current goroutine with the same panic protection as Execute.
// It reports whether fn returned normally.
func Run(ctx context.Context, logger domain.Logger, name string, fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			logCtx := ctx
			if ctx.Err() != nil {
				logCtx = context.Background()
			}
			logger.Error(logCtx, fmt.Sprintf("Panic recovered in %s", name),
				"panic_info", fmt.Sprintf("%v", r),
				"stacktrace", string(debug.Stack()),
			)
		}
	}()
	fn()
	return true
}
