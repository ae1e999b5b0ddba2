package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qianlnk/mafia/config"
	"github.com/qianlnk/mafia/models"
)

func standardDefs() []PhaseDefinition {
	defs := make([]PhaseDefinition, 0, len(models.AllPhases))
	for _, phase := range models.AllPhases {
		defs = append(defs, PhaseDefinition{Phase: phase, Duration: config.DefaultPhaseSeconds[phase]})
	}
	return defs
}

func never(*RuleContext) bool { return false }

func TestNewPhaseTable(t *testing.T) {
	table, err := NewPhaseTable(config.Default().Game)
	require.NoError(t, err)

	for _, phase := range models.AllPhases {
		def, ok := table.Definition(phase)
		require.True(t, ok, phase)
		assert.True(t, def.Allows(models.ActionLeave), phase)
	}

	voting := table.TransitionsFrom(models.PhaseVoting)
	require.Len(t, voting, 2)
	assert.Equal(t, "nominee_chosen", voting[0].Name)
	assert.Equal(t, "no_nomination", voting[1].Name)

	nightResult := table.TransitionsFrom(models.PhaseNightResult)
	require.Len(t, nightResult, 2)
	assert.Equal(t, models.PhaseEnded, nightResult[0].Target)

	ended, _ := table.Definition(models.PhaseEnded)
	assert.Empty(t, ended.DefaultNext)
	assert.Empty(t, table.TransitionsFrom(models.PhaseEnded))

	day, _ := table.Definition(models.PhaseDay)
	assert.False(t, day.Allows(models.ActionNominate))
	assert.Equal(t, 120, day.Duration)
}

func TestNewPhaseTable_ConfiguredDurations(t *testing.T) {
	game := config.Default().Game
	game.Phases = map[string]int{"day": 30}

	table, err := NewPhaseTable(game)
	require.NoError(t, err)
	day, _ := table.Definition(models.PhaseDay)
	assert.Equal(t, 30, day.Duration)

	game.Phases = map[string]int{"waiting": 5}
	_, err = NewPhaseTable(game)
	assert.True(t, config.IsConfigurationError(err))

	// 夜晚结果阶段为 0 时胜负已分也无法进入结束阶段
	game.Phases = map[string]int{"night_result": 0}
	_, err = NewPhaseTable(game)
	assert.True(t, config.IsConfigurationError(err))
}

func TestBuildPhaseTable_Malformed(t *testing.T) {
	tests := []struct {
		name        string
		defs        func() []PhaseDefinition
		transitions map[models.Phase][]Transition
		field       string
	}{
		{
			name:  "missing phase",
			defs:  func() []PhaseDefinition { return standardDefs()[:7] },
			field: "phases.ended",
		},
		{
			name: "duplicate phase",
			defs: func() []PhaseDefinition {
				return append(standardDefs(), PhaseDefinition{Phase: models.PhaseDay})
			},
			field: "phases.day",
		},
		{
			name: "unknown default successor",
			defs: func() []PhaseDefinition {
				defs := standardDefs()
				defs[2].DefaultNext = "lunch"
				return defs
			},
			field: "phases.day",
		},
		{
			name: "unknown action",
			defs: func() []PhaseDefinition {
				defs := standardDefs()
				defs[2].LegalActions = actions("dance")
				return defs
			},
			field: "phases.day",
		},
		{
			name: "ended has successor",
			defs: func() []PhaseDefinition {
				defs := standardDefs()
				defs[7].DefaultNext = models.PhaseDay
				return defs
			},
			field: "phases.ended",
		},
		{
			name: "timed phase without duration",
			defs: func() []PhaseDefinition {
				defs := standardDefs()
				defs[6].Duration = 0
				return defs
			},
			field: "phases.night_result",
		},
		{
			name: "default back to waiting",
			defs: func() []PhaseDefinition {
				defs := standardDefs()
				defs[6].DefaultNext = models.PhaseWaiting
				return defs
			},
			field: "phases.night_result",
		},
		{
			name: "transition back to starting",
			defs: standardDefs,
			transitions: map[models.Phase][]Transition{
				models.PhaseDay: {{Name: "again", When: never, Target: models.PhaseStarting}},
			},
			field: "transitions.day.again",
		},
		{
			name: "transition without predicate",
			defs: standardDefs,
			transitions: map[models.Phase][]Transition{
				models.PhaseDay: {{Name: "blank", Target: models.PhaseVoting}},
			},
			field: "transitions.day.blank",
		},
		{
			name: "transition out of ended",
			defs: standardDefs,
			transitions: map[models.Phase][]Transition{
				models.PhaseEnded: {{Name: "revive", When: never, Target: models.PhaseDay}},
			},
			field: "phases.ended",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := buildPhaseTable(tt.defs(), tt.transitions)
			require.Error(t, err)
			var ce *config.ConfigurationError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestBuildPhaseTable_Valid(t *testing.T) {
	table, err := buildPhaseTable(standardDefs(), map[models.Phase][]Transition{
		models.PhaseDay: {{Name: "noop", When: never, Target: models.PhaseVoting}},
	})
	require.NoError(t, err)
	assert.Len(t, table.TransitionsFrom(models.PhaseDay), 1)
	assert.Empty(t, table.TransitionsFrom(models.PhaseNight))
}
