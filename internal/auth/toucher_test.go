package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"bigapi/backend/internal/config"
	"bigapi/backend/internal/monitoring"
)

type fakeKeyToucher struct {
	mu      sync.Mutex
	touched map[string]time.Time
	err     error
	block   chan struct{}
}

func (f *fakeKeyToucher) TouchLastUsed(_ context.Context, keyID string, at time.Time) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.touched == nil {
		f.touched = make(map[string]time.Time)
	}
	f.touched[keyID] = at
	return nil
}

func TestToucher_Schedule(t *testing.T) {
	keys := &fakeKeyToucher{}
	toucher := NewToucher(keys, config.TouchConfig{Workers: 2, QueueSize: 8}, nil, nil)
	toucher.Start(context.Background())

	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.True(t, toucher.Schedule("key-1", at))
	toucher.Stop()

	assert.Equal(t, at, keys.touched["key-1"])
}

func TestToucher_DropsWhenQueueFull(t *testing.T) {
	keys := &fakeKeyToucher{block: make(chan struct{})}
	metrics := monitoring.NewMetrics()
	toucher := NewToucher(keys, config.TouchConfig{Workers: 1, QueueSize: 1}, nil, metrics)

	// 未启动 worker 时队列只能容纳一个任务
	assert.True(t, toucher.Schedule("key-1", time.Now()))
	assert.False(t, toucher.Schedule("key-2", time.Now()))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.TouchDropped))

	close(keys.block)
	toucher.Start(context.Background())
	toucher.Stop()
}

func TestToucher_FailuresAreCounted(t *testing.T) {
	keys := &fakeKeyToucher{err: errors.New("db down")}
	metrics := monitoring.NewMetrics()
	toucher := NewToucher(keys, config.TouchConfig{Workers: 1, QueueSize: 4}, nil, metrics)
	toucher.Start(context.Background())

	toucher.Schedule("key-1", time.Now())
	toucher.Stop()

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.TouchFailures))
}
