package main

import (
	"errors"
	"flag"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/g-uva/sgesim/pkg/core"
	"github.com/g-uva/sgesim/pkg/generator"
)

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil, env(nil), io.Discard)
	require.NoError(t, err)

	assert.Equal(t, -1, cfg.Slots)
	assert.Equal(t, core.DefaultSlotRange, cfg.SlotRange())
	assert.NotZero(t, cfg.Seed)
	assert.Equal(t, generator.Mixed, cfg.Pattern)
	assert.Equal(t, "submit_all", cfg.Strategy)
	assert.Equal(t, int64(1), cfg.TickLength)
	assert.Equal(t, logrus.InfoLevel, cfg.LogLevel)
	assert.Equal(t, time.Second, cfg.TimeUnit)
	assert.False(t, cfg.Benchmark)
}

func TestLoadFlagsOverrideEnvironment(t *testing.T) {
	vars := map[string]string{
		"SGESIM_SLOTS":     "4",
		"SGESIM_STRATEGY":  "hold_backlog",
		"SGESIM_LOG_LEVEL": "debug",
		"SGESIM_SEED":      "7",
	}
	cfg, err := Load([]string{"-slots", "8", "-pattern", "tiny", "-benchmark"}, env(vars), io.Discard)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Slots)
	assert.Equal(t, "hold_backlog", cfg.Strategy)
	assert.Equal(t, logrus.DebugLevel, cfg.LogLevel)
	assert.Equal(t, int64(7), cfg.Seed)
	assert.Equal(t, generator.Tiny, cfg.Pattern)
	assert.True(t, cfg.Benchmark)
}

func TestLoadRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"not a number", []string{"-slots", "many"}},
		{"negative range", []string{"-slot-min", "-2"}},
		{"zero tick", []string{"-tick", "0"}},
		{"unknown strategy", []string{"-strategy", "greedy"}},
		{"unknown pattern", []string{"-pattern", "bursty"}},
		{"hold fraction", []string{"-hold-fraction", "1.5"}},
		{"log format", []string{"-log-format", "xml"}},
		{"stray argument", []string{"extra"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.args, env(nil), io.Discard)
			assert.Error(t, err)
			assert.Nil(t, cfg)
		})
	}
}

func TestLoadZeroTickWrapsSentinel(t *testing.T) {
	_, err := Load([]string{"-tick", "0"}, env(nil), io.Discard)
	assert.True(t, errors.Is(err, core.ErrInvalidTickLength))
}

func TestLoadHelp(t *testing.T) {
	_, err := Load([]string{"-h"}, env(nil), io.Discard)
	assert.True(t, errors.Is(err, flag.ErrHelp))
}

func TestBenchmarkSkipsStrategyCheck(t *testing.T) {
	cfg, err := Load([]string{"-benchmark", "-strategy", "ignored"}, env(nil), io.Discard)
	require.NoError(t, err)
	_, err = strategyByName(cfg)
	assert.Error(t, err)
}
