package services

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func recordingPolicy(attempts int, base time.Duration) (RetryPolicy, *[]time.Duration) {
	var delays []time.Duration
	p := NewRetryPolicy(attempts, base)
	p.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return ctx.Err()
	}
	return p, &delays
}

func TestRetryPolicy_TransientThenSuccess(t *testing.T) {
	p, delays := recordingPolicy(3, 500*time.Millisecond)
	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("dial tcp: connection refused")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, *delays)
}

func TestRetryPolicy_NonTransientFailsImmediately(t *testing.T) {
	p, delays := recordingPolicy(3, time.Millisecond)
	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return gorm.ErrRecordNotFound
	})
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *delays)
}

func TestRetryPolicy_ExhaustedReturnsLastError(t *testing.T) {
	p, delays := recordingPolicy(3, 10*time.Millisecond)
	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return fmt.Errorf("attempt %d: i/o timeout", calls)
	})
	require.Error(t, err)
	assert.Equal(t, "attempt 3: i/o timeout", err.Error())
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, *delays)
}

func TestRetryPolicy_ContextCancelledStops(t *testing.T) {
	p := NewRetryPolicy(5, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, func(ctx context.Context) error {
			calls++
			return driver.ErrBadConn
		})
	}()
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, driver.ErrBadConn)
		assert.Equal(t, 1, calls)
	case <-time.After(2 * time.Second):
		t.Fatal("retry did not stop after cancellation")
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "net op failed" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"bad conn", driver.ErrBadConn, true},
		{"wrapped refused", fmt.Errorf("query: %w", syscall.ECONNREFUSED), true},
		{"reset", syscall.ECONNRESET, true},
		{"net timeout", timeoutErr{}, true},
		{"deadline", context.DeadlineExceeded, true},
		{"sqlite locked", errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{"cancelled", context.Canceled, false},
		{"not found", gorm.ErrRecordNotFound, false},
		{"business", ErrNoBudget, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}
