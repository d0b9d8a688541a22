package service

import (
	"context"
	"fmt"
	"time"

	"github.com/dialogkernel/driver/internal/domain/entity"
	"go.uber.org/zap"
)

// CallerConfig tunes the C2 LLM Call Wrapper's retry behavior.
type CallerConfig struct {
	MaxRetries    int
	RetryBaseWait time.Duration
	CallTimeout   time.Duration
}

func DefaultCallerConfig() CallerConfig {
	return CallerConfig{MaxRetries: 3, RetryBaseWait: 2 * time.Second, CallTimeout: 3 * time.Minute}
}

// TextDeltaFunc receives incremental assistant text as it streams in.
type TextDeltaFunc func(delta string)

// RetryFunc is notified before each retry attempt, letting the caller
// publish an llm_retry_evt without LLMCaller depending on the event bus.
type RetryFunc func(attempt, maxRetries int, wait time.Duration, cause error)

// ExhaustFunc is notified once, after every configured retry attempt has
// failed and Call is about to return the last classified error, letting the
// caller publish a terminal llm_retry_evt{phase: exhausted}.
type ExhaustFunc func(totalAttempts int, cause error)

// LLMCaller is the C2 LLM Call Wrapper (§4.2): it owns retry/backoff around
// a raw LLMClient call and classifies failures through C1 before deciding
// whether to retry, surface a rejection/fatal error, or report an abort.
type LLMCaller struct {
	client LLMClient
	config CallerConfig
	logger *zap.Logger
}

func NewLLMCaller(client LLMClient, config CallerConfig, logger *zap.Logger) *LLMCaller {
	return &LLMCaller{client: client, config: config, logger: logger}
}

// Call performs one logical LLM turn, retrying transient failures with
// exponential backoff and forwarding streamed text deltas to onDelta. reason
// names the stop reason the caller believes is in effect, so a context
// cancellation classifies as Interrupted{reason} rather than a generic error.
func (c *LLMCaller) Call(ctx context.Context, req *LLMRequest, reason entity.StopReason, onDelta TextDeltaFunc, onRetry RetryFunc, onExhaust ExhaustFunc) (*LLMResponse, error) {
	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := c.config.RetryBaseWait * (1 << (attempt - 1))
			c.logger.Info("retrying llm call",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", c.config.MaxRetries),
				zap.Duration("wait", wait),
				zap.Error(lastErr),
			)
			if onRetry != nil {
				onRetry(attempt, c.config.MaxRetries, wait, lastErr)
			}
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, entity.NewInterrupted(orSystemStop(reason))
			}
		}

		deltaCh := make(chan StreamChunk, 128)
		done := make(chan struct{})
		go func() {
			defer close(done)
			for chunk := range deltaCh {
				if chunk.DeltaText != "" && onDelta != nil {
					onDelta(chunk.DeltaText)
				}
			}
		}()

		callCtx, cancel := context.WithTimeout(ctx, c.config.CallTimeout)
		resp, err := c.client.GenerateStream(callCtx, req, deltaCh)
		cancel()
		close(deltaCh)
		<-done

		if err == nil {
			if attempt > 0 {
				c.logger.Info("llm retry succeeded", zap.Int("attempt", attempt))
			}
			return resp, nil
		}

		classified := ClassifyLLMError(err, reason)
		if classified.Kind != entity.KindLlmRetriable {
			return nil, classified
		}

		lastErr = classified
		c.logger.Warn("llm call failed, will retry if attempts remain",
			zap.Int("attempt", attempt), zap.Error(classified))
	}

	exhausted := &entity.DriverError{
		Kind: entity.KindLlmRetriable,
		Msg:  fmt.Sprintf("llm call failed after %d retries", c.config.MaxRetries),
		Err:  lastErr,
	}
	if onExhaust != nil {
		onExhaust(c.config.MaxRetries, exhausted)
	}
	return nil, exhausted
}
