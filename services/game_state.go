package services

import (
	"fmt"
	"slices"

	"github.com/qianlnk/mafia/models"
)

// joinPlayer 等待阶段加入房间，按加入顺序排列
func joinPlayer(s *models.RoomState, playerID, name string, maxPlayers int) error {
	if s.Phase != models.PhaseWaiting || s.IsStarted {
		return ErrGameInProgress
	}
	if s.FindPlayer(playerID) != nil {
		return ErrDuplicatePlayer
	}
	if maxPlayers > 0 && len(s.Players) >= maxPlayers {
		return ErrRoomFull
	}
	s.Players = append(s.Players, models.Player{
		ID:         playerID,
		Name:       name,
		Alive:      true,
		Connection: models.Connected,
	})
	return nil
}

// leave 离开：等待阶段直接移出名单，开局后只标记状态
func leave(s *models.RoomState, playerID string) {
	if s.Phase == models.PhaseWaiting {
		s.Players = slices.DeleteFunc(s.Players, func(p models.Player) bool { return p.ID == playerID })
		return
	}
	if p := s.FindPlayer(playerID); p != nil {
		p.Connection = models.Left
	}
	s.Rematch = slices.DeleteFunc(s.Rematch, func(id string) bool { return id == playerID })
}

func requestRematch(s *models.RoomState, playerID string) {
	if !slices.Contains(s.Rematch, playerID) {
		s.Rematch = append(s.Rematch, playerID)
	}
}

// rematchAgreed 主持人同意，或所有未离开的玩家都同意
func rematchAgreed(s *models.RoomState) bool {
	if s.Phase != models.PhaseEnded {
		return false
	}
	if s.ModeratorID != "" && slices.Contains(s.Rematch, s.ModeratorID) {
		return true
	}
	staying := 0
	for _, p := range s.Players {
		if p.Connection == models.Left {
			continue
		}
		staying++
		if !slices.Contains(s.Rematch, p.ID) {
			return false
		}
	}
	return staying > 0
}

// everyoneLeft 所有玩家都已离开
func everyoneLeft(s *models.RoomState) bool {
	for _, p := range s.Players {
		if p.Connection != models.Left {
			return false
		}
	}
	return true
}

// checkInvariants 校验状态不变量，prev 为上一个已提交的状态
func checkInvariants(prev, s *models.RoomState, roles *RoleRegistry) error {
	if !s.Phase.Valid() {
		return fmt.Errorf("未知阶段 %q", s.Phase)
	}
	if s.Round < prev.Round || s.DayNumber < prev.DayNumber {
		return fmt.Errorf("计数器倒退: round %d->%d, day %d->%d", prev.Round, s.Round, prev.DayNumber, s.DayNumber)
	}
	if prev.WinCondition.HasWinner() && !s.WinCondition.HasWinner() {
		return fmt.Errorf("胜负结果被清除")
	}

	seen := make(map[string]bool, len(s.Players))
	for _, p := range s.Players {
		if seen[p.ID] {
			return fmt.Errorf("玩家 %s 重复", p.ID)
		}
		seen[p.ID] = true
		if s.IsStarted && s.Phase != models.PhaseWaiting && p.Role == "" {
			return fmt.Errorf("玩家 %s 没有身份", p.ID)
		}
	}

	alive := func(id string) bool {
		p := s.FindPlayer(id)
		return p != nil && p.Alive
	}
	for _, nominee := range s.Nominations.Order() {
		for _, voter := range s.Nominations.VotersOf(nominee) {
			if !alive(voter) {
				return fmt.Errorf("死亡或未知玩家 %s 出现在提名中", voter)
			}
		}
	}
	for voter := range s.ExecutionVotes {
		if !alive(voter) {
			return fmt.Errorf("死亡或未知玩家 %s 出现在处决表决中", voter)
		}
	}
	for actor := range s.NightActions {
		p := s.FindPlayer(actor)
		if p == nil {
			return fmt.Errorf("未知玩家 %s 提交了夜晚行动", actor)
		}
		if role, _ := roles.Get(p.Role); !p.Alive && !role.ActsOnDeath {
			return fmt.Errorf("死亡玩家 %s 提交了夜晚行动", actor)
		}
	}
	return nil
}
