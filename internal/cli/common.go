package cli

import (
	"context"
	"fmt"
)

// syncAndCheck runs one cycle and turns terminal operation failures into a
// failing exit code.
func syncAndCheck(ctx context.Context, app *app) error {
	result, err := app.coord.SyncNow(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "sync", err)
	}
	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d operation(s) failed", result.Failed))
	}
	return nil
}
