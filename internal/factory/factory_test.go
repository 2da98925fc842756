package factory

import (
	"context"
	"testing"
	"time"

	"github.com/libsqlgo/sqld/internal/config"
	"github.com/libsqlgo/sqld/internal/enginetest"
	"github.com/libsqlgo/sqld/internal/resultbuilder"
	"github.com/stretchr/testify/require"
)

func TestFactory_OpensKeepAliveWorker(t *testing.T) {
	cfg := config.NewServer()
	f, err := New(context.Background(), enginetest.Open(0), ":memory:", nil, cfg, config.NewStore(), resultbuilder.Config{}, nil)
	require.NoError(t, err)
	defer f.Close()
}

func TestFactory_RetriesColdStartBusy(t *testing.T) {
	cfg := config.NewServer()
	cfg.ColdStartDelay = time.Millisecond
	cfg.OpenRetryCount = 0 // force the cold-start loop, not the inner one, to absorb the busy errors
	f, err := New(context.Background(), enginetest.Open(5), ":memory:", nil, cfg, config.NewStore(), resultbuilder.Config{}, nil)
	require.NoError(t, err)
	defer f.Close()
}

func TestFactory_WorkerOpensAdditionalConnections(t *testing.T) {
	cfg := config.NewServer()
	f, err := New(context.Background(), enginetest.Open(0), ":memory:", nil, cfg, config.NewStore(), resultbuilder.Config{}, nil)
	require.NoError(t, err)
	defer f.Close()

	w, err := f.Worker(context.Background(), "client-1")
	require.NoError(t, err)
	defer w.Close()
}

func TestFactory_GivesUpAfterExhaustingColdStartRetries(t *testing.T) {
	cfg := config.NewServer()
	cfg.ColdStartRetries = 2
	cfg.ColdStartDelay = time.Millisecond
	cfg.OpenRetryCount = 0
	_, err := New(context.Background(), enginetest.Open(10), ":memory:", nil, cfg, config.NewStore(), resultbuilder.Config{}, nil)
	require.Error(t, err)
}
