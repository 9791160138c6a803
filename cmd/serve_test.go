package main

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/parcelpicker/internal/assistant"
	"github.com/sells-group/parcelpicker/internal/config"
	"github.com/sells-group/parcelpicker/internal/model"
	"github.com/sells-group/parcelpicker/internal/store"
)

// countingStore counts CleanupExpired calls. Other methods are not used.
type countingStore struct {
	store.Store
	calls atomic.Int32
	err   error
}

func (c *countingStore) CleanupExpired(_ context.Context, days int) (model.CleanupResult, error) {
	c.calls.Add(1)
	return model.CleanupResult{Runs: int64(days)}, c.err
}

func TestSweep_RunsUntilCanceled(t *testing.T) {
	st := &countingStore{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		sweep(ctx, st, 7, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return st.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweep did not stop after cancel")
	}
}

func TestSweep_ContinuesAfterError(t *testing.T) {
	st := &countingStore{err: eris.New("store: database is locked")}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go sweep(ctx, st, 7, 5*time.Millisecond)

	require.Eventually(t, func() bool { return st.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
}

func TestInitStore_SQLite(t *testing.T) {
	st, err := initStore(context.Background(), config.StoreConfig{
		Driver:      "sqlite",
		DatabaseURL: filepath.Join(t.TempDir(), "cmd.db"),
	})
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	require.NoError(t, st.Migrate(context.Background()))
	require.NoError(t, st.Ping(context.Background()))
}

func TestInitStore_Unsupported(t *testing.T) {
	_, err := initStore(context.Background(), config.StoreConfig{Driver: "mysql"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver: mysql")
}

func TestNewAssistant(t *testing.T) {
	assert.IsType(t, assistant.Noop{}, newAssistant(config.AnthropicConfig{}))
	assert.IsType(t, assistant.Noop{}, newAssistant(config.AnthropicConfig{Enabled: true}))

	a := newAssistant(config.AnthropicConfig{Enabled: true, Key: "sk-ant-test", Model: "claude-haiku-4-5-20251001", MaxTokens: 100})
	assert.IsType(t, &assistant.Anthropic{}, a)
	assert.True(t, a.Available())
}

func TestNewProvider(t *testing.T) {
	p := newProvider(config.ProviderConfig{
		SourceTag:       "county_parcels",
		TimeoutSecs:     5,
		Retries:         1,
		RetryBackoffMs:  10,
		CacheMaxEntries: 16,
		CacheTTLMins:    1,
	})
	assert.Equal(t, "county_parcels", p.Name())

	defaults := newProvider(config.ProviderConfig{TimeoutSecs: 5, CacheMaxEntries: 16})
	assert.Equal(t, "wright_county_arcgis", defaults.Name())
}
