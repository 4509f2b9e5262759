package scenario

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/redispatch/internal/config"
	"github.com/mattjoyce/redispatch/internal/dispatch"
	"github.com/mattjoyce/redispatch/internal/log"
	"github.com/mattjoyce/redispatch/internal/recovery"
	"github.com/mattjoyce/redispatch/internal/unit"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR") // Suppress logs in tests
	os.Exit(m.Run())
}

func ladderConfig(outcomes ...string) *config.Config {
	cfg := config.Defaults()
	cfg.Policy.Rules = []config.RuleConfig{
		{Unit: "fetch", Failure: "timeout", Strategy: "retry_twice"},
		{Unit: "retry_twice", Failure: "retry_escalation", Strategy: "retry_once"},
		{Unit: "retry_once", Failure: "retry_escalation", Strategy: "log"},
	}
	cfg.Units = []config.UnitConfig{{Kind: "fetch", Outcomes: outcomes, Repeat: 1}}
	return cfg
}

func TestScriptedOutcomes(t *testing.T) {
	s := NewScripted("fetch", "timeout", "ok")
	ctx := context.Background()

	err := s.Run(ctx)
	require.Error(t, err)
	assert.Equal(t, unit.FailureKind("timeout"), unit.KindOf(err))

	assert.NoError(t, s.Run(ctx))
	assert.NoError(t, s.Run(ctx), "runs past the script succeed")
	assert.Equal(t, 3, s.Calls())
}

func TestScriptedPanics(t *testing.T) {
	s := NewScripted("fetch", "panic")
	assert.Panics(t, func() { _ = s.Run(context.Background()) })
}

func TestBuildLadderEndToEnd(t *testing.T) {
	var logged []error
	plan, err := Build(ladderConfig("timeout", "timeout", "timeout"), func(err error) {
		logged = append(logged, err)
	})
	require.NoError(t, err)
	require.Len(t, plan.Units, 1)
	assert.Len(t, plan.Registry.Keys(), 3)

	stats, err := dispatch.Execute(context.Background(), plan.Queue, plan.Registry)
	require.NoError(t, err)

	assert.Equal(t, 3, plan.Units[0].Calls())
	require.Len(t, logged, 1)
	assert.Contains(t, logged[0].Error(), "fetch attempt 3 failed")
	assert.Equal(t, 3, stats.Handled)
}

func TestBuildRepeatAndDefault(t *testing.T) {
	cfg := config.Defaults()
	cfg.Policy.Default = string(recovery.NameLog)
	cfg.Units = []config.UnitConfig{{Kind: "parse", Outcomes: []string{"bad_input"}, Repeat: 3}}

	var logged []error
	plan, err := Build(cfg, func(err error) { logged = append(logged, err) })
	require.NoError(t, err)
	require.True(t, plan.Registry.HasDefault())
	assert.Equal(t, []unit.Kind{"parse", "parse", "parse"}, plan.Queue.Kinds())

	_, err = dispatch.Execute(context.Background(), plan.Queue, plan.Registry)
	require.NoError(t, err)
	assert.Len(t, logged, 3)
}

func TestBuildRejectsUnknownStrategy(t *testing.T) {
	cfg := ladderConfig()
	cfg.Policy.Rules[0].Strategy = "retry_forever"

	_, err := Build(cfg, nil)
	assert.Error(t, err)
}
