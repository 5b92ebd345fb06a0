package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memoryvault/internal/config"
	"memoryvault/internal/rpcserver"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Server.DataDir = t.TempDir()
	cfg.CrossEncoder.Enabled = false
	return cfg
}

func TestBuildEngineWiresEveryCollaborator(t *testing.T) {
	cfg := testConfig(t)

	engine, cleanup, err := buildEngine(cfg)
	require.NoError(t, err)
	defer cleanup()

	require.NotNil(t, engine)

	s := rpcserver.NewWithIO(nil, nil)
	engine.Register(s)
}

func TestBuildEngineReopenReusesPersistedStores(t *testing.T) {
	cfg := testConfig(t)

	engine1, cleanup1, err := buildEngine(cfg)
	require.NoError(t, err)
	cleanup1()
	assert.NotNil(t, engine1)

	engine2, cleanup2, err := buildEngine(cfg)
	require.NoError(t, err)
	defer cleanup2()
	assert.NotNil(t, engine2)
}

func TestFlattenCommandsFallsBackWhenNoOutput(t *testing.T) {
	_, assistant := flattenCommands(nil)
	assert.Equal(t, "(no output recorded)", assistant)
}
