package tool

import (
	"context"
	"time"

	domaintool "github.com/dialogkernel/driver/internal/domain/tool"
	"go.uber.org/zap"
)

// Executor invokes a single resolved tool and normalizes its outcome. The
// Tool Round Executor (C5) uses this as its dispatch primitive; policy
// filtering (allow/deny, confirmation) happens one layer up in the Policy
// Guardrail (C4), which hands C5 only the effective tool list.
type Executor struct {
	registry domaintool.Registry
	logger   *zap.Logger
}

func NewExecutor(registry domaintool.Registry, logger *zap.Logger) *Executor {
	return &Executor{registry: registry, logger: logger}
}

// Resolve looks up a tool by name.
func (e *Executor) Resolve(name string) (domaintool.Tool, bool) {
	return e.registry.Get(name)
}

// Invoke executes a resolved tool with the given arguments, recovering from
// panics as a failed result rather than crashing the drive goroutine.
func (e *Executor) Invoke(ctx context.Context, t domaintool.Tool, args map[string]interface{}) (res *domaintool.Result, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("tool panicked", zap.String("tool", t.Name()), zap.Any("panic", r))
			res, err = &domaintool.Result{Success: false, Error: "tool panicked"}, nil
		}
	}()

	res, err = t.Execute(ctx, args)
	e.logger.Debug("tool invoked",
		zap.String("tool", t.Name()),
		zap.Duration("duration", time.Since(start)),
		zap.Error(err),
	)
	return res, err
}
