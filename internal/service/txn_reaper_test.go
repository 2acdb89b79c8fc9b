package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nash333/saskay-snacks-manager-sub002/internal/storage"
)

type MockStagedTxnReaper struct {
	mock.Mock
}

func (m *MockStagedTxnReaper) ExpireStaged(ctx context.Context, olderThan time.Time) (int, error) {
	args := m.Called(ctx, olderThan)
	return args.Int(0), args.Error(1)
}

func TestGetDefaultReaperConfig(t *testing.T) {
	config := GetDefaultReaperConfig()

	assert.Equal(t, 10*time.Minute, config.StagedTxnTimeout)
	assert.Equal(t, time.Minute, config.Interval)
}

func TestTxnReaper_RunCleanup_UsesCutoff(t *testing.T) {
	store := new(MockStagedTxnReaper)
	reaper := NewTxnReaper(store, zap.NewNop(), ReaperConfig{StagedTxnTimeout: 10 * time.Minute, Interval: time.Minute})
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	reaper.now = func() time.Time { return now }

	store.On("ExpireStaged", mock.Anything, now.Add(-10*time.Minute)).Return(2, nil)

	assert.Equal(t, 2, reaper.runCleanup(context.Background()))
	store.AssertExpectations(t)
}

func TestTxnReaper_RunCleanup_Error(t *testing.T) {
	store := new(MockStagedTxnReaper)
	reaper := NewTxnReaper(store, zap.NewNop(), GetDefaultReaperConfig())

	store.On("ExpireStaged", mock.Anything, mock.Anything).Return(0, errors.New("boom"))

	assert.Equal(t, 0, reaper.runCleanup(context.Background()))
}

func TestTxnReaper_ExpiresAbandonedMemoryTransactions(t *testing.T) {
	store := storage.NewMemoryObjectStore(nil)
	ctx := context.Background()

	_, err := store.StartTransaction(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, store.OpenTransactions())

	reaper := NewTxnReaper(store, zap.NewNop(), ReaperConfig{StagedTxnTimeout: time.Minute, Interval: time.Minute})
	reaper.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	assert.Equal(t, 1, reaper.runCleanup(ctx))
	assert.Equal(t, 0, store.OpenTransactions())
}

func TestTxnReaper_Start_StopWithContext(t *testing.T) {
	store := new(MockStagedTxnReaper)
	store.On("ExpireStaged", mock.Anything, mock.Anything).Return(0, nil).Maybe()
	reaper := NewTxnReaper(store, zap.NewNop(), ReaperConfig{StagedTxnTimeout: time.Minute, Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reaper.Start(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop after context cancellation")
	}
}
