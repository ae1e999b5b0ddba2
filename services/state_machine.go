package services

import (
	"fmt"

	"github.com/qianlnk/mafia/models"
)

// readyToStart 主持人已开始且人数达标
func readyToStart(ctx *RuleContext) bool {
	return ctx.State.IsStarted && len(ctx.State.Players) >= ctx.MinPlayers
}

// assignRoles 洗牌并分配身份，身份分配后不再改变
func assignRoles(ctx *RuleContext) error {
	s := ctx.State
	deck, err := ctx.Roles.Deck(len(s.Players), ctx.Deck)
	if err != nil {
		return err
	}
	ctx.Rand.Shuffle(len(deck), func(i, j int) {
		deck[i], deck[j] = deck[j], deck[i]
	})

	for i := range s.Players {
		role, _ := ctx.Roles.Get(deck[i])
		s.Players[i].Role = role.ID
		s.Players[i].Team = role.Team
		s.Players[i].Alive = true
		s.Players[i].DeathRound = nil
		s.Players[i].KilledBy = nil
	}
	return nil
}

// votingDone 投票时间到、被跳过，或所有存活玩家都已提名
func votingDone(ctx *RuleContext) bool {
	if ctx.over() {
		return true
	}
	alive := 0
	for _, p := range ctx.State.Players {
		if p.Alive {
			alive++
		}
	}
	return alive > 0 && ctx.State.Nominations.BallotCount() >= alive
}

func hasNomination(ctx *RuleContext) bool {
	return ctx.State.Nominations.HasAny()
}

// fixNominee 确定进入处决表决的玩家
func fixNominee(ctx *RuleContext) error {
	nominee, ok := TallyNominations(ctx.State.Nominations)
	if !ok {
		return fmt.Errorf("有提名但无法统计出被提名者")
	}
	ctx.State.NomineeID = nominee
	return nil
}

// eligibleExecutionVoters 可以参与处决表决的玩家：存活且不是被提名者本人
func eligibleExecutionVoters(s *models.RoomState) []string {
	voters := make([]string, 0, len(s.Players))
	for _, p := range s.Players {
		if p.Alive && p.ID != s.NomineeID {
			voters = append(voters, p.ID)
		}
	}
	return voters
}

// executionDone 表决时间到、被跳过，或所有有资格的玩家都已表决
func executionDone(ctx *RuleContext) bool {
	if ctx.over() {
		return true
	}
	for _, id := range eligibleExecutionVoters(ctx.State) {
		if _, ok := ctx.State.ExecutionVotes[id]; !ok {
			return false
		}
	}
	return true
}

// verdictEndsGame 预演处决结果，判断是否会直接结束游戏
func verdictEndsGame(ctx *RuleContext) bool {
	s := ctx.State
	if !TallyExecution(s.ExecutionVotes, eligibleExecutionVoters(s)) {
		return false
	}
	projected := make([]models.Player, len(s.Players))
	copy(projected, s.Players)
	cause := models.CauseExecution
	for i := range projected {
		if projected[i].ID == s.NomineeID {
			projected[i].Alive = false
			projected[i].KilledBy = &cause
		}
	}
	return EvaluateWin(projected, ctx.Roles).HasWinner()
}

// applyVerdict 执行处决结果并重新判定胜负
func applyVerdict(ctx *RuleContext) error {
	s := ctx.State
	if TallyExecution(s.ExecutionVotes, eligibleExecutionVoters(s)) {
		if err := killPlayer(s, s.NomineeID, models.CauseExecution, s.DayNumber); err != nil {
			return err
		}
	}
	s.WinCondition = EvaluateWin(s.Players, ctx.Roles)
	return nil
}

// nightDone 时间到、被跳过，或所有有夜晚技能的存活玩家都已提交
func nightDone(ctx *RuleContext) bool {
	if ctx.over() {
		return true
	}
	for _, p := range ctx.State.Players {
		if !p.Alive {
			continue
		}
		role, ok := ctx.Roles.Get(p.Role)
		if !ok || !role.HasNightAction() {
			continue
		}
		if _, submitted := ctx.State.NightActions[p.ID]; !submitted {
			return false
		}
	}
	return true
}

// resolveNight 结算夜晚并一次性写入所有死亡
func resolveNight(ctx *RuleContext) error {
	s := ctx.State
	outcome, err := ResolveNight(s.Players, s.NightActions, ctx.Roles)
	if err != nil {
		return err
	}
	for _, death := range outcome.Deaths {
		if err := killPlayer(s, death.PlayerID, death.Cause, s.Round); err != nil {
			return err
		}
	}
	s.LastNight = outcome
	s.NightActions = make(map[string]models.NightAction)
	s.WinCondition = EvaluateWin(s.Players, ctx.Roles)
	return nil
}

func hasWinner(ctx *RuleContext) bool {
	return ctx.State.WinCondition.HasWinner()
}

// killPlayer 标记死亡并清除其在缓冲区中的票
func killPlayer(s *models.RoomState, playerID string, cause models.KillCause, round int) error {
	p := s.FindPlayer(playerID)
	if p == nil {
		return fmt.Errorf("死亡目标 %s 不存在", playerID)
	}
	if !p.Alive {
		return fmt.Errorf("玩家 %s 已经死亡", playerID)
	}
	r, c := round, cause
	p.Alive = false
	p.DeathRound = &r
	p.KilledBy = &c

	s.Nominations.Withdraw(playerID)
	delete(s.ExecutionVotes, playerID)
	return nil
}

func enterDay(s *models.RoomState) {
	s.DayNumber++
	s.NomineeID = ""
}

func enterVoting(s *models.RoomState) {
	s.Nominations = models.NewNominations()
	s.NomineeID = ""
}

func enterExecution(s *models.RoomState) {
	s.ExecutionVotes = make(map[string]bool)
}

func enterNight(s *models.RoomState) {
	s.Round++
	s.NightActions = make(map[string]models.NightAction)
	s.LastNight = nil
	s.NomineeID = ""
}
