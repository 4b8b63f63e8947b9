package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"storyscene-server/models"
)

const defaultAttempts = 3

// RetryPolicy 上游调用的统一重试策略：最多 Attempts 次，每次独立超时，
// 失败后等待 BaseDelay × 第几次 再重试
type RetryPolicy struct {
	Attempts       int
	BaseDelay      time.Duration
	AttemptTimeout time.Duration
}

var (
	decomposeRetry   = RetryPolicy{Attempts: defaultAttempts, BaseDelay: time.Second, AttemptTimeout: 60 * time.Second}
	imageRetry       = RetryPolicy{Attempts: defaultAttempts, BaseDelay: 2 * time.Second, AttemptTimeout: 120 * time.Second}
	videoCreateRetry = RetryPolicy{Attempts: defaultAttempts, BaseDelay: 2 * time.Second, AttemptTimeout: 60 * time.Second}
	videoStatusRetry = RetryPolicy{Attempts: defaultAttempts, BaseDelay: time.Second, AttemptTimeout: 60 * time.Second}
)

// Sleeper waits between attempts. Tests swap it for a no-op.
type Sleeper func(ctx context.Context, d time.Duration)

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

type options struct {
	httpClient *http.Client
	sleeper    Sleeper
	retry      *RetryPolicy
}

// Option customizes a client.
type Option func(*options)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		if client != nil {
			o.httpClient = client
		}
	}
}

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleeper Sleeper) Option {
	return func(o *options) {
		o.sleeper = sleeper
	}
}

// WithRetryPolicy replaces the client's default retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *options) {
		o.retry = &p
	}
}

func buildOptions(opts []Option) options {
	o := options{
		httpClient: &http.Client{},
		sleeper:    sleepContext,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.sleeper == nil {
		o.sleeper = sleepContext
	}
	return o
}

func (o options) policy(def RetryPolicy) RetryPolicy {
	if o.retry != nil {
		return *o.retry
	}
	return def
}

// permanentError 不可重试的错误（如响应内容无法解析）
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type httpStatusError struct {
	StatusCode int
	Body       string
}

func (e *httpStatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 512 {
		body = body[:512]
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, body)
}

// run executes fn under the policy. Transport and status failures are retried; a permanent
// error stops immediately. Terminal failures surface as KindUpstream.
func (p RetryPolicy) run(ctx context.Context, op string, sleep Sleeper, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = defaultAttempts
	}
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if p.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
		}
		err := fn(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return upstreamError(op, perm.err)
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if attempt < attempts {
			sleep(ctx, p.BaseDelay*time.Duration(attempt))
		}
	}
	return upstreamError(op, fmt.Errorf("giving up after %d attempts: %w", attempts, lastErr))
}

func upstreamError(op string, err error) error {
	var appErr *models.Error
	if errors.As(err, &appErr) {
		return err
	}
	return models.WrapError(models.KindUpstream, op, err)
}

func missingKey(op, name string) error {
	return models.NewError(models.KindServiceUnavailable, op, name+" is not configured")
}
