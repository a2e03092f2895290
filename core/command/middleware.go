package command

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sodaframework/soda/core/runctx"
)

// DefaultMaxHops is the ceiling on command->event->command crossings. A send
// observing a deeper hop count fails before the handler runs, breaking
// infinite command/event loops that span async and transport boundaries.
const DefaultMaxHops = 20

// PropagateContext returns middleware that synchronizes the execution
// metadata between the command and the context. A command submitted without
// request identity inherits the ambient metadata; the handler then runs under
// the command's own metadata. Metadata installed here is scoped to the
// handler's context, so teardown on exit is implicit.
func PropagateContext() Middleware {
	return func(next SendFunc) SendFunc {
		return func(ctx context.Context, cmd *Command) (any, error) {
			if ambient, ok := runctx.FromContext(ctx); ok && cmd.Meta.RequestID == "" {
				cmd.Meta = cmd.Meta.Merge(ambient)
			}
			return next(runctx.WithMetadata(ctx, cmd.Meta), cmd)
		}
	}
}

// HopGuard returns middleware enforcing the async recursion ceiling. The hop
// depth is read from the ambient context (0 when absent); exceeding maxHops
// fails with ErrAsyncRecursionTooDeep before the handler is invoked. The
// command is stamped with the next hop's depth so events it produces carry
// the incremented count across transports.
func HopGuard(maxHops int) Middleware {
	if maxHops <= 0 {
		maxHops = DefaultMaxHops
	}
	return func(next SendFunc) SendFunc {
		return func(ctx context.Context, cmd *Command) (any, error) {
			hop := runctx.HopCount(ctx)
			if hop > maxHops {
				return nil, fmt.Errorf("%w: command %s at hop %d exceeds limit %d",
					ErrAsyncRecursionTooDeep, cmd.Name, hop, maxHops)
			}

			cmd.Meta.HopCount = hop + 1

			m, _ := runctx.FromContext(ctx)
			m.HopCount = cmd.Meta.HopCount
			return next(runctx.WithMetadata(ctx, m), cmd)
		}
	}
}

// Logging returns middleware that logs command execution with duration,
// command name, and the submitting user.
func Logging(logger *slog.Logger) Middleware {
	return func(next SendFunc) SendFunc {
		return func(ctx context.Context, cmd *Command) (any, error) {
			start := time.Now()

			logger.InfoContext(ctx, "command started",
				slog.String("command", cmd.Name),
				slog.String("command_id", cmd.ID),
				slog.String("request_id", cmd.Meta.RequestID),
				slog.String("user_name", cmd.Meta.UserName))

			result, err := next(ctx, cmd)
			duration := time.Since(start)

			if err != nil {
				logger.ErrorContext(ctx, "command failed",
					slog.String("command", cmd.Name),
					slog.String("command_id", cmd.ID),
					slog.String("user_name", cmd.Meta.UserName),
					slog.Duration("duration", duration),
					slog.String("error", err.Error()))
				return result, err
			}

			logger.InfoContext(ctx, "command completed",
				slog.String("command", cmd.Name),
				slog.String("command_id", cmd.ID),
				slog.String("user_name", cmd.Meta.UserName),
				slog.String("result", resultSummary(result)),
				slog.Duration("duration", duration))

			return result, nil
		}
	}
}

func resultSummary(result any) string {
	if result == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%T", result)
}
