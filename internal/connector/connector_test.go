package connector

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/metastore/internal/config"
	"github.com/agenthands/metastore/internal/core/model"
	"github.com/agenthands/metastore/internal/core/typeregistry"
	"github.com/agenthands/metastore/internal/engine"
	"github.com/agenthands/metastore/internal/engine/memory"
	"github.com/agenthands/metastore/internal/metrics"
)

func registry(t *testing.T) *typeregistry.Registry {
	t.Helper()
	r, err := typeregistry.New(&model.TypeDef{Name: "Person", Category: model.CategoryEntity, Attributes: []model.TypeDefAttribute{
		{Name: "name", Type: model.TypeString},
	}})
	require.NoError(t, err)
	return r
}

func countingOpener(n *atomic.Int32) Opener {
	return func(ctx context.Context, cfg *config.Config, log zerolog.Logger) (engine.Engine, error) {
		n.Add(1)
		return memory.New(), nil
	}
}

func TestConnector_Lifecycle(t *testing.T) {
	ctx := context.Background()
	c := New(config.Default(), registry(t), WithMetrics(metrics.New()))
	assert.Equal(t, Uninitialized, c.State())

	_, err := c.Store()
	assert.ErrorIs(t, err, ErrNotRunning)

	require.NoError(t, c.Start(ctx))
	assert.Equal(t, Running, c.State())
	require.NoError(t, c.Start(ctx), "starting twice is a no-op")

	s, err := c.Store()
	require.NoError(t, err)
	created, err := s.CreateEntity(ctx, &model.Entity{
		InstanceHeader: model.InstanceHeader{TypeName: "Person"},
		Properties:     model.InstanceProperties{"name": model.StringValue("Ann")},
	})
	require.NoError(t, err)
	assert.Equal(t, "metastore-local", created.MetadataCollectionID)

	require.NoError(t, c.Stop())
	require.NoError(t, c.Stop())
	assert.Equal(t, Stopped, c.State())
	_, err = c.Store()
	assert.ErrorIs(t, err, ErrNotRunning)
	assert.ErrorIs(t, c.Start(ctx), ErrStopped)
}

func TestConnector_ConcurrentStartOpensOnce(t *testing.T) {
	var opened atomic.Int32
	c := New(config.Default(), registry(t), WithOpener(countingOpener(&opened)))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Start(context.Background()))
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), opened.Load())

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Stop())
		}()
	}
	wg.Wait()
	assert.Equal(t, Stopped, c.State())
}

func TestConnector_FailedStartCanRetry(t *testing.T) {
	fail := true
	opener := func(ctx context.Context, cfg *config.Config, log zerolog.Logger) (engine.Engine, error) {
		if fail {
			return nil, errors.New("connection refused")
		}
		return memory.New(), nil
	}
	c := New(config.Default(), registry(t), WithOpener(opener))

	err := c.Start(context.Background())
	assert.ErrorIs(t, err, model.ErrStoreUnavailable)
	assert.Equal(t, Uninitialized, c.State())

	fail = false
	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, Running, c.State())
}

func TestConnector_PingFailure(t *testing.T) {
	dead := memory.New()
	require.NoError(t, dead.Close())
	c := New(config.Default(), registry(t), WithOpener(func(context.Context, *config.Config, zerolog.Logger) (engine.Engine, error) {
		return dead, nil
	}))

	assert.ErrorIs(t, c.Start(context.Background()), model.ErrStoreUnavailable)
	assert.Equal(t, Uninitialized, c.State())
}

func TestConnector_StopBeforeStart(t *testing.T) {
	c := New(config.Default(), registry(t))
	require.NoError(t, c.Stop())
	assert.Equal(t, Stopped, c.State())
}

func TestNewEngine(t *testing.T) {
	ctx := context.Background()

	cfg := config.Default()
	eng, err := NewEngine(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "memory", eng.Name())
	require.NoError(t, eng.Close())

	cfg.Store.Backend = config.BackendSQLite
	cfg.Store.DSN = filepath.Join(t.TempDir(), "meta.db")
	eng, err = NewEngine(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "sqlite", eng.Name())
	require.NoError(t, eng.Close())

	cfg.Store.Backend = "oracle"
	_, err = NewEngine(ctx, cfg, zerolog.Nop())
	assert.Error(t, err)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "state(9)", State(9).String())
}
