package services

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/qianlnk/mafia/config"
	"github.com/qianlnk/mafia/models"
)

type mockBroadcaster struct {
	mock.Mock
	events chan models.Event
}

func newMockBroadcaster() *mockBroadcaster {
	b := &mockBroadcaster{events: make(chan models.Event, 4096)}
	b.On("Publish", mock.Anything).Run(func(args mock.Arguments) {
		select {
		case b.events <- args.Get(0).(models.Event):
		default:
		}
	}).Return()
	return b
}

func (b *mockBroadcaster) Publish(event models.Event) {
	b.Called(event)
}

// waitFor 读取事件直到满足条件
func (b *mockBroadcaster) waitFor(t *testing.T, match func(models.Event) bool) models.Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e := <-b.events:
			if match(e) {
				return e
			}
		case <-timeout:
			t.Fatal("timed out waiting for event")
			return models.Event{}
		}
	}
}

func testGameConfig() config.GameConfig {
	game := config.Default().Game
	game.RNGSeed = 42
	return game
}

func newTestController(t *testing.T, players int, configure ...func(*ControllerOptions)) (*GameController, *mockBroadcaster) {
	t.Helper()
	game := testGameConfig()
	table, err := NewPhaseTable(game)
	require.NoError(t, err)

	b := newMockBroadcaster()
	opts := ControllerOptions{
		Roles:       testRoles(t),
		Table:       table,
		Game:        game,
		Broadcaster: b,
		Logger:      zerolog.Nop(),
	}
	for _, fn := range configure {
		fn(&opts)
	}

	gc := NewGameController("room-1", "mod", opts)
	t.Cleanup(gc.Close)
	for i := 1; i <= players; i++ {
		require.NoError(t, gc.Join(fmt.Sprintf("p%d", i), fmt.Sprintf("player %d", i)))
	}
	return gc, b
}

func submit(t *testing.T, gc *GameController, intent models.Intent) {
	t.Helper()
	require.NoError(t, gc.SubmitAction(intent))
}

func skip(t *testing.T, gc *GameController) {
	t.Helper()
	submit(t, gc, models.Intent{PlayerID: "mod", Kind: models.ActionSkip})
}

func guilty(v bool) *bool { return &v }

// startWithRoles 开局并把身份固定为给定顺序，推进到第一天
func startWithRoles(t *testing.T, gc *GameController, assigned ...models.RoleID) {
	t.Helper()
	submit(t, gc, models.Intent{PlayerID: "mod", Kind: models.ActionStart})
	require.Equal(t, models.PhaseStarting, gc.Snapshot().Phase)

	gc.mu.Lock()
	for i := range gc.state.Players {
		id := models.Citizen
		if i < len(assigned) {
			id = assigned[i]
		}
		role, ok := gc.roles.Get(id)
		require.True(t, ok)
		gc.state.Players[i].Role = role.ID
		gc.state.Players[i].Team = role.Team
	}
	gc.mu.Unlock()

	starting, _ := gc.table.Definition(models.PhaseStarting)
	gc.Tick(starting.Duration)
	snap := gc.Snapshot()
	require.Equal(t, models.PhaseDay, snap.Phase)
	require.Equal(t, 1, snap.DayNumber)
}

func markDead(gc *GameController, ids ...string) {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	for _, id := range ids {
		p := gc.state.FindPlayer(id)
		round, cause := 0, models.CauseMafia
		p.Alive = false
		p.DeathRound = &round
		p.KilledBy = &cause
	}
}

func phaseDuration(t *testing.T, gc *GameController, phase models.Phase) int {
	def, ok := gc.table.Definition(phase)
	require.True(t, ok)
	return def.Duration
}

func TestController_ScenarioNightKill(t *testing.T) {
	gc, _ := newTestController(t, 6)
	startWithRoles(t, gc, models.Mafia, models.Detective)

	skip(t, gc)
	skip(t, gc)
	require.Equal(t, models.PhaseNight, gc.Snapshot().Phase)

	submit(t, gc, models.Intent{PlayerID: "p1", Kind: models.ActionNight, TargetID: "p2"})
	assert.Equal(t, models.PhaseNight, gc.Snapshot().Phase, "detective has not acted yet")
	submit(t, gc, models.Intent{PlayerID: "p2", Kind: models.ActionNight, TargetID: "p1"})

	snap := gc.Snapshot()
	require.Equal(t, models.PhaseNightResult, snap.Phase)
	require.NotNil(t, snap.LastNight)
	assert.Equal(t, []models.Death{{PlayerID: "p2", Cause: models.CauseMafia}}, snap.LastNight.Deaths)
	detective := snap.FindPlayer("p2")
	assert.False(t, detective.Alive)
	require.NotNil(t, detective.DeathRound)
	assert.Equal(t, 1, *detective.DeathRound)
	assert.Nil(t, snap.WinCondition)

	gc.Tick(phaseDuration(t, gc, models.PhaseNightResult))
	snap = gc.Snapshot()
	assert.Equal(t, models.PhaseDay, snap.Phase)
	assert.Equal(t, 2, snap.DayNumber)
	assert.Equal(t, 1, snap.Round)
}

func TestController_ScenarioNoNomination(t *testing.T) {
	gc, _ := newTestController(t, 6)
	startWithRoles(t, gc, models.Mafia)
	skip(t, gc)
	require.Equal(t, models.PhaseVoting, gc.Snapshot().Phase)

	gc.Tick(phaseDuration(t, gc, models.PhaseVoting))

	snap := gc.Snapshot()
	assert.Equal(t, models.PhaseNight, snap.Phase)
	assert.Empty(t, snap.NomineeID)
	assert.Equal(t, 1, snap.Round)
	assert.Len(t, snap.AlivePlayers(), 6)
}

func TestController_ScenarioExecution(t *testing.T) {
	gc, b := newTestController(t, 6)
	startWithRoles(t, gc, models.Mafia, models.Detective)
	skip(t, gc)

	for _, voter := range []string{"p2", "p3", "p4"} {
		submit(t, gc, models.Intent{PlayerID: voter, Kind: models.ActionNominate, TargetID: "p5"})
	}
	skip(t, gc)

	snap := gc.Snapshot()
	require.Equal(t, models.PhaseExecution, snap.Phase)
	require.Equal(t, "p5", snap.NomineeID)

	err := gc.SubmitAction(models.Intent{PlayerID: "p5", Kind: models.ActionExecutionVote, Guilty: guilty(false)})
	assert.ErrorIs(t, err, ErrInvalidTarget)

	for _, voter := range []string{"p1", "p2", "p3", "p6"} {
		submit(t, gc, models.Intent{PlayerID: voter, Kind: models.ActionExecutionVote, Guilty: guilty(true)})
	}
	require.Equal(t, models.PhaseExecution, gc.Snapshot().Phase)
	submit(t, gc, models.Intent{PlayerID: "p4", Kind: models.ActionExecutionVote, Guilty: guilty(false)})

	snap = gc.Snapshot()
	assert.Equal(t, models.PhaseNight, snap.Phase)
	executed := snap.FindPlayer("p5")
	assert.False(t, executed.Alive)
	require.NotNil(t, executed.KilledBy)
	assert.Equal(t, models.CauseExecution, *executed.KilledBy)
	assert.Equal(t, 1, *executed.DeathRound)
	assert.Nil(t, snap.WinCondition)

	e := b.waitFor(t, func(e models.Event) bool {
		return e.Narration != nil && e.Narration.Key == models.NarrationExecutionResult
	})
	assert.Equal(t, true, e.Narration.Params["executed"])
	assert.Equal(t, "p5", e.Narration.Params["player"])
}

func TestController_ScenarioMafiaParityEndsGame(t *testing.T) {
	gc, _ := newTestController(t, 6)
	startWithRoles(t, gc, models.Mafia, models.Doctor)
	markDead(gc, "p4", "p5", "p6")

	skip(t, gc)
	skip(t, gc)
	require.Equal(t, models.PhaseNight, gc.Snapshot().Phase)

	submit(t, gc, models.Intent{PlayerID: "p2", Kind: models.ActionNight, TargetID: "p2"})
	submit(t, gc, models.Intent{PlayerID: "p1", Kind: models.ActionNight, TargetID: "p3"})

	snap := gc.Snapshot()
	require.Equal(t, models.PhaseNightResult, snap.Phase)
	require.NotNil(t, snap.WinCondition)
	assert.Equal(t, []models.Team{models.TeamMafia}, snap.WinCondition.WinningTeams)

	err := gc.SubmitAction(models.Intent{PlayerID: "mod", Kind: models.ActionSkip})
	assert.ErrorIs(t, err, ErrGameOver)

	gc.Tick(phaseDuration(t, gc, models.PhaseNightResult))
	assert.Equal(t, models.PhaseEnded, gc.Snapshot().Phase)
}

func TestController_ExecutedJesterEndsGame(t *testing.T) {
	finished := make(chan *models.RoomState, 1)
	gc, _ := newTestController(t, 6, func(o *ControllerOptions) {
		o.OnGameEnd = func(final *models.RoomState) { finished <- final }
	})
	startWithRoles(t, gc, models.Mafia, models.Jester)
	skip(t, gc)

	submit(t, gc, models.Intent{PlayerID: "p3", Kind: models.ActionNominate, TargetID: "p2"})
	submit(t, gc, models.Intent{PlayerID: "p4", Kind: models.ActionNominate, TargetID: "p2"})
	skip(t, gc)
	require.Equal(t, models.PhaseExecution, gc.Snapshot().Phase)

	for _, voter := range []string{"p1", "p3", "p4", "p5", "p6"} {
		submit(t, gc, models.Intent{PlayerID: voter, Kind: models.ActionExecutionVote, Guilty: guilty(true)})
	}

	snap := gc.Snapshot()
	assert.Equal(t, models.PhaseEnded, snap.Phase)
	require.NotNil(t, snap.WinCondition)
	assert.Equal(t, []string{"p2"}, snap.WinCondition.NeutralWinners)

	select {
	case final := <-finished:
		assert.Equal(t, models.PhaseEnded, final.Phase)
	case <-time.After(2 * time.Second):
		t.Fatal("game end hook not called")
	}

	submit(t, gc, models.Intent{PlayerID: "mod", Kind: models.ActionRematch})
	assert.True(t, gc.RematchAgreed())
}

func TestController_RejectedActionsLeaveStateUnchanged(t *testing.T) {
	gc, _ := newTestController(t, 6)

	err := gc.SubmitAction(models.Intent{PlayerID: "p1", Kind: models.ActionStart})
	assert.ErrorIs(t, err, ErrNotModerator)

	startWithRoles(t, gc, models.Mafia, models.Mafia, models.Doctor, models.Citizen, models.Hunter)
	markDead(gc, "p6")

	tests := []struct {
		name   string
		intent models.Intent
		want   error
	}{
		{"nominate during day", models.Intent{PlayerID: "p1", Kind: models.ActionNominate, TargetID: "p3"}, ErrIllegalPhase},
		{"unknown kind", models.Intent{PlayerID: "p1", Kind: "dance"}, ErrUnknownAction},
		{"unknown player", models.Intent{PlayerID: "ghost", Kind: models.ActionDiscuss}, ErrUnknownPlayer},
		{"dead player", models.Intent{PlayerID: "p6", Kind: models.ActionDiscuss}, ErrDeadPlayer},
		{"start twice", models.Intent{PlayerID: "mod", Kind: models.ActionStart}, ErrIllegalPhase},
		{"player skip", models.Intent{PlayerID: "p2", Kind: models.ActionSkip}, ErrNotModerator},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := gc.Snapshot()
			err := gc.SubmitAction(tt.intent)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			var ae *ActionError
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, tt.intent.PlayerID, ae.PlayerID)
			assert.Equal(t, before, gc.Snapshot())
		})
	}

	skip(t, gc)
	votingTests := []struct {
		name   string
		intent models.Intent
		want   error
	}{
		{"self nomination", models.Intent{PlayerID: "p1", Kind: models.ActionNominate, TargetID: "p1"}, ErrInvalidTarget},
		{"dead target", models.Intent{PlayerID: "p1", Kind: models.ActionNominate, TargetID: "p6"}, ErrDeadTarget},
		{"unknown target", models.Intent{PlayerID: "p1", Kind: models.ActionNominate, TargetID: "nobody"}, ErrUnknownTarget},
		{"withdraw without nomination", models.Intent{PlayerID: "p1", Kind: models.ActionWithdraw}, ErrInvalidTarget},
	}
	for _, tt := range votingTests {
		t.Run(tt.name, func(t *testing.T) {
			before := gc.Snapshot()
			assert.ErrorIs(t, gc.SubmitAction(tt.intent), tt.want)
			assert.Equal(t, before, gc.Snapshot())
		})
	}

	skip(t, gc)
	require.Equal(t, models.PhaseNight, gc.Snapshot().Phase)
	nightTests := []struct {
		name   string
		intent models.Intent
		want   error
	}{
		{"citizen has no ability", models.Intent{PlayerID: "p4", Kind: models.ActionNight, TargetID: "p1"}, ErrNoAbility},
		{"mafia kills teammate", models.Intent{PlayerID: "p1", Kind: models.ActionNight, TargetID: "p2"}, ErrInvalidTarget},
		{"mafia kills self", models.Intent{PlayerID: "p1", Kind: models.ActionNight, TargetID: "p1"}, ErrInvalidTarget},
		{"dead target", models.Intent{PlayerID: "p3", Kind: models.ActionNight, TargetID: "p6"}, ErrDeadTarget},
	}
	for _, tt := range nightTests {
		t.Run(tt.name, func(t *testing.T) {
			before := gc.Snapshot()
			assert.ErrorIs(t, gc.SubmitAction(tt.intent), tt.want)
			assert.Equal(t, before, gc.Snapshot())
		})
	}

	// 死亡后只有死亡触发的角色还能使用夜晚技能
	markDead(gc, "p3", "p5")
	before := gc.Snapshot()
	err = gc.SubmitAction(models.Intent{PlayerID: "p3", Kind: models.ActionNight, TargetID: "p4"})
	assert.ErrorIs(t, err, ErrDeadPlayer)
	assert.Equal(t, before, gc.Snapshot())

	submit(t, gc, models.Intent{PlayerID: "p5", Kind: models.ActionNight, TargetID: "p1"})
	action, ok := gc.Snapshot().NightActions["p5"]
	require.True(t, ok)
	assert.Equal(t, "p1", action.TargetID)
}

func TestController_NominationsMoveAndWithdraw(t *testing.T) {
	gc, _ := newTestController(t, 6)
	startWithRoles(t, gc, models.Mafia)
	skip(t, gc)

	submit(t, gc, models.Intent{PlayerID: "p1", Kind: models.ActionNominate, TargetID: "p3"})
	submit(t, gc, models.Intent{PlayerID: "p2", Kind: models.ActionNominate, TargetID: "p4"})
	submit(t, gc, models.Intent{PlayerID: "p1", Kind: models.ActionNominate, TargetID: "p4"})

	snap := gc.Snapshot()
	assert.Equal(t, []string{"p4"}, snap.Nominations.Order())
	assert.Equal(t, []string{"p2", "p1"}, snap.Nominations.VotersOf("p4"))

	submit(t, gc, models.Intent{PlayerID: "p2", Kind: models.ActionWithdraw})
	snap = gc.Snapshot()
	assert.Equal(t, []string{"p1"}, snap.Nominations.VotersOf("p4"))
	assert.Equal(t, 1, snap.Nominations.BallotCount())
}

func TestController_VotingEndsWhenEveryoneNominated(t *testing.T) {
	gc, _ := newTestController(t, 6)
	startWithRoles(t, gc, models.Mafia)
	skip(t, gc)

	targets := map[string]string{"p1": "p2", "p2": "p3", "p3": "p2", "p4": "p3", "p5": "p2", "p6": "p1"}
	for _, voter := range []string{"p1", "p2", "p3", "p4", "p5", "p6"} {
		submit(t, gc, models.Intent{PlayerID: voter, Kind: models.ActionNominate, TargetID: targets[voter]})
	}

	snap := gc.Snapshot()
	assert.Equal(t, models.PhaseExecution, snap.Phase)
	assert.Equal(t, "p2", snap.NomineeID)
}

func TestController_TickIgnoresNonPositiveElapsed(t *testing.T) {
	gc, _ := newTestController(t, 6)
	startWithRoles(t, gc, models.Mafia)

	before := gc.Snapshot()
	gc.Tick(0)
	gc.Tick(-5)
	assert.Equal(t, before, gc.Snapshot())

	gc.Tick(1)
	assert.Equal(t, before.TimeLeft-1, gc.Snapshot().TimeLeft)
}

func TestController_TimedPhasesAdvanceOnTimeout(t *testing.T) {
	gc, _ := newTestController(t, 6)
	startWithRoles(t, gc, models.Mafia, models.Doctor)

	gc.Tick(phaseDuration(t, gc, models.PhaseDay))
	require.Equal(t, models.PhaseVoting, gc.Snapshot().Phase)
	gc.Tick(phaseDuration(t, gc, models.PhaseVoting))
	require.Equal(t, models.PhaseNight, gc.Snapshot().Phase)

	// 无人行动，夜晚超时后照常结算
	gc.Tick(phaseDuration(t, gc, models.PhaseNight))
	snap := gc.Snapshot()
	require.Equal(t, models.PhaseNightResult, snap.Phase)
	assert.Empty(t, snap.LastNight.Deaths)

	// 一次时钟最多推进一个阶段
	gc.Tick(1000)
	assert.Equal(t, models.PhaseDay, gc.Snapshot().Phase)
}

func TestController_WaitingIsNotTimed(t *testing.T) {
	gc, _ := newTestController(t, 3)
	gc.Tick(1000)
	snap := gc.Snapshot()
	assert.Equal(t, models.PhaseWaiting, snap.Phase)

	err := gc.SubmitAction(models.Intent{PlayerID: "mod", Kind: models.ActionStart})
	assert.ErrorIs(t, err, ErrNotEnoughPlayers)
}

func TestController_JoinRules(t *testing.T) {
	gc, _ := newTestController(t, 6)

	assert.ErrorIs(t, gc.Join("p1", "again"), ErrDuplicatePlayer)

	submit(t, gc, models.Intent{PlayerID: "p6", Kind: models.ActionLeave})
	assert.Len(t, gc.Snapshot().Players, 5)
	require.NoError(t, gc.Join("p6", "back"))

	startWithRoles(t, gc, models.Mafia)
	assert.ErrorIs(t, gc.Join("late", "late"), ErrGameInProgress)

	submit(t, gc, models.Intent{PlayerID: "p3", Kind: models.ActionLeave})
	p3 := gc.Snapshot().FindPlayer("p3")
	require.NotNil(t, p3)
	assert.Equal(t, models.Left, p3.Connection)
}

func TestController_AvailableActions(t *testing.T) {
	gc, _ := newTestController(t, 6)
	assert.Equal(t, []models.ActionKind{models.ActionStart}, gc.AvailableActions("mod"))
	assert.Equal(t, []models.ActionKind{models.ActionLeave}, gc.AvailableActions("p1"))

	startWithRoles(t, gc, models.Mafia)
	assert.Equal(t, []models.ActionKind{models.ActionDiscuss, models.ActionLeave}, gc.AvailableActions("p1"))
	assert.Equal(t, []models.ActionKind{models.ActionSkip}, gc.AvailableActions("mod"))

	skip(t, gc)
	skip(t, gc)
	assert.Contains(t, gc.AvailableActions("p1"), models.ActionNight)
	assert.NotContains(t, gc.AvailableActions("p2"), models.ActionNight)
}

func TestController_PrivateEvents(t *testing.T) {
	gc, b := newTestController(t, 6)
	startWithRoles(t, gc, models.Mafia, models.Detective)

	e := b.waitFor(t, func(e models.Event) bool {
		return e.Type == models.EventRoleAssigned && e.Recipient == "p1"
	})
	assert.NotEmpty(t, e.Payload["role"])

	skip(t, gc)
	skip(t, gc)
	submit(t, gc, models.Intent{PlayerID: "p1", Kind: models.ActionNight, TargetID: "p3"})
	submit(t, gc, models.Intent{PlayerID: "p2", Kind: models.ActionNight, TargetID: "p1"})

	e = b.waitFor(t, func(e models.Event) bool { return e.Type == models.EventInvestigation })
	assert.Equal(t, "p2", e.Recipient)
	assert.Equal(t, "p1", e.Payload["target_id"])
	assert.Equal(t, models.TeamMafia, e.Payload["team"])
}

func TestController_HaltsOnPanickingRule(t *testing.T) {
	gc, b := newTestController(t, 6, func(o *ControllerOptions) {
		o.Table.transitions[models.PhaseWaiting] = []Transition{{
			Name:   "broken",
			When:   func(*RuleContext) bool { panic("boom") },
			Target: models.PhaseStarting,
		}}
	})

	require.NoError(t, gc.SubmitAction(models.Intent{PlayerID: "mod", Kind: models.ActionStart}))

	var iv *InvariantViolation
	require.ErrorAs(t, gc.Halted(), &iv)
	assert.Equal(t, "room-1", iv.RoomID)
	assert.Equal(t, models.PhaseWaiting, gc.Snapshot().Phase)

	b.waitFor(t, func(e models.Event) bool { return e.Type == models.EventHalted })

	err := gc.SubmitAction(models.Intent{PlayerID: "p1", Kind: models.ActionLeave})
	assert.ErrorIs(t, err, ErrRoomHalted)
	assert.ErrorIs(t, gc.Join("p7", "late"), ErrRoomHalted)
	assert.Nil(t, gc.AvailableActions("p1"))
}

func TestController_HaltsOnFailingApply(t *testing.T) {
	gc, _ := newTestController(t, 6, func(o *ControllerOptions) {
		o.Table.transitions[models.PhaseWaiting] = []Transition{{
			Name:   "broken",
			When:   readyToStart,
			Target: models.PhaseStarting,
			Apply:  func(*RuleContext) error { return errors.New("no deck") },
		}}
	})

	require.NoError(t, gc.SubmitAction(models.Intent{PlayerID: "mod", Kind: models.ActionStart}))
	require.Error(t, gc.Halted())

	snap := gc.Snapshot()
	assert.Equal(t, models.PhaseWaiting, snap.Phase)
	for _, p := range snap.Players {
		assert.Empty(t, p.Role)
	}
}

func TestController_InvariantsHoldThroughoutGame(t *testing.T) {
	gc, _ := newTestController(t, 8)
	startWithRoles(t, gc, models.Mafia, models.Mafia, models.Doctor, models.Detective, models.Escort)
	roles := gc.roles

	prev := gc.Snapshot()
	check := func() {
		t.Helper()
		snap := gc.Snapshot()
		require.NoError(t, checkInvariants(prev, snap, roles))
		require.NoError(t, gc.Halted())
		prev = snap
	}

	for day := 0; day < 4 && gc.Snapshot().Phase != models.PhaseEnded; day++ {
		skip(t, gc)
		check()

		alive := gc.Snapshot().AlivePlayers()
		if len(alive) > 2 {
			target := alive[len(alive)-1].ID
			for _, p := range alive[:2] {
				if p.ID != target {
					submit(t, gc, models.Intent{PlayerID: p.ID, Kind: models.ActionNominate, TargetID: target})
					check()
				}
			}
		}
		skip(t, gc)
		check()

		if gc.Snapshot().Phase == models.PhaseExecution {
			skip(t, gc)
			check()
		}
		if gc.Snapshot().Phase == models.PhaseEnded {
			break
		}

		require.Equal(t, models.PhaseNight, gc.Snapshot().Phase)
		gc.Tick(phaseDuration(t, gc, models.PhaseNight))
		check()
		gc.Tick(phaseDuration(t, gc, models.PhaseNightResult))
		check()
	}
}
