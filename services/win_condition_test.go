package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qianlnk/mafia/models"
)

func kill(players []models.Player, id string, cause models.KillCause) {
	for i := range players {
		if players[i].ID == id {
			c := cause
			players[i].Alive = false
			players[i].KilledBy = &c
		}
	}
}

func TestEvaluateWin(t *testing.T) {
	roles := testRoles(t)
	ids := map[string]models.RoleID{
		"m1": models.Mafia, "m2": models.Mafia,
		"c1": models.Citizen, "c2": models.Citizen, "c3": models.Citizen,
		"j": models.Jester, "sk": models.SerialKiller, "s": models.Survivor,
	}

	tests := []struct {
		name     string
		order    []string
		dead     map[string]models.KillCause
		teams    []models.Team
		neutrals []string
		none     bool
	}{
		{
			name:  "game continues",
			order: []string{"m1", "c1", "c2"},
			none:  true,
		},
		{
			name:  "mafia parity",
			order: []string{"m1", "m2", "c1", "c2", "c3"},
			dead:  map[string]models.KillCause{"c3": models.CauseMafia},
			teams: []models.Team{models.TeamMafia},
		},
		{
			name:  "no mafia left",
			order: []string{"m1", "c1", "c2"},
			dead:  map[string]models.KillCause{"m1": models.CauseExecution},
			teams: []models.Team{models.TeamCitizen},
		},
		{
			name:     "executed jester ends the game",
			order:    []string{"m1", "c1", "c2", "c3", "j"},
			dead:     map[string]models.KillCause{"j": models.CauseExecution},
			neutrals: []string{"j"},
		},
		{
			name:  "jester killed at night does not win",
			order: []string{"m1", "c1", "c2", "c3", "j"},
			dead:  map[string]models.KillCause{"j": models.CauseMafia},
			none:  true,
		},
		{
			name:     "serial killer last standing",
			order:    []string{"m1", "c1", "sk"},
			dead:     map[string]models.KillCause{"m1": models.CauseNeutral},
			teams:    []models.Team{models.TeamCitizen},
			neutrals: []string{"sk"},
		},
		{
			name:     "survivor wins alongside",
			order:    []string{"m1", "c1", "c2", "s"},
			dead:     map[string]models.KillCause{"m1": models.CauseExecution},
			teams:    []models.Team{models.TeamCitizen},
			neutrals: []string{"s"},
		},
		{
			name:  "survivor alone does not end the game",
			order: []string{"m1", "c1", "c2", "s"},
			none:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			players := seat(roles, ids, tt.order...)
			for id, cause := range tt.dead {
				kill(players, id, cause)
			}

			win := EvaluateWin(players, roles)
			if tt.none {
				assert.Nil(t, win)
				assert.False(t, win.HasWinner())
				return
			}
			require.NotNil(t, win)
			assert.True(t, win.HasWinner())
			assert.Equal(t, tt.teams, win.WinningTeams)
			assert.Equal(t, tt.neutrals, win.NeutralWinners)
		})
	}
}

func TestEvaluateWin_Idempotent(t *testing.T) {
	roles := testRoles(t)
	players := seat(roles, map[string]models.RoleID{
		"m1": models.Mafia, "c1": models.Citizen, "s": models.Survivor,
	}, "m1", "c1", "s")
	kill(players, "c1", models.CauseMafia)

	first := EvaluateWin(players, roles)
	second := EvaluateWin(players, roles)
	require.NotNil(t, first)
	assert.Equal(t, first, second)
	assert.False(t, players[1].Alive)
	assert.True(t, players[2].Alive)
}
