package services

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"strings"
	"syscall"
	"time"
)

// RetryPolicy 存储访问的有界重试策略，延迟按 attempt × BaseDelay 线性增长
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration

	// sleep 可在测试中替换
	sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy 默认 3 次尝试，基础间隔 500ms
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond}
}

// NewRetryPolicy 从配置构造策略，非法值回落到默认值
func NewRetryPolicy(attempts int, base time.Duration) RetryPolicy {
	p := DefaultRetryPolicy()
	if attempts > 0 {
		p.MaxAttempts = attempts
	}
	if base > 0 {
		p.BaseDelay = base
	}
	return p
}

// Do 执行 op；仅对瞬时错误重试，其他错误立即返回
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = op(ctx); err == nil {
			return nil
		}
		if attempt == attempts || !IsTransient(err) {
			return err
		}
		if serr := sleep(ctx, time.Duration(attempt)*p.BaseDelay); serr != nil {
			return err
		}
	}
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var transientSignatures = []string{
	"connection",
	"timeout",
	"timed out",
	"deadline exceeded",
	"database is locked",
	"broken pipe",
}

// IsTransient 判断错误是否属于连接/超时类瞬时故障
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range transientSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}
