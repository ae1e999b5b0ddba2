package services

import (
	"github.com/qianlnk/mafia/models"
)

// moderatorOnly 只有主持人可以执行的动作
var moderatorOnly = map[models.ActionKind]bool{
	models.ActionStart: true,
	models.ActionSkip:  true,
}

// requiresAlive 需要玩家存活的动作，夜晚技能另有死亡触发例外
var requiresAlive = map[models.ActionKind]bool{
	models.ActionDiscuss:       true,
	models.ActionNominate:      true,
	models.ActionWithdraw:      true,
	models.ActionExecutionVote: true,
	models.ActionNight:         true,
}

// validateIntent 校验动作，不修改状态
func (gc *GameController) validateIntent(intent models.Intent) error {
	s := gc.state
	isModerator := intent.PlayerID != "" && intent.PlayerID == s.ModeratorID
	actor := s.FindPlayer(intent.PlayerID)

	if moderatorOnly[intent.Kind] {
		if !isModerator {
			if actor == nil {
				return ErrUnknownPlayer
			}
			return ErrNotModerator
		}
	} else if actor == nil && !(intent.Kind == models.ActionRematch && isModerator) {
		return ErrUnknownPlayer
	}

	if actor != nil && requiresAlive[intent.Kind] && !actor.Alive {
		if intent.Kind != models.ActionNight {
			return ErrDeadPlayer
		}
		if role, _ := gc.roles.Get(actor.Role); !role.ActsOnDeath {
			return ErrDeadPlayer
		}
	}

	switch intent.Kind {
	case models.ActionStart:
		if len(s.Players) < gc.minPlayers {
			return ErrNotEnoughPlayers
		}
		if s.IsStarted {
			return ErrGameInProgress
		}

	case models.ActionNominate:
		if err := gc.validateTarget(intent.TargetID); err != nil {
			return err
		}
		if intent.TargetID == actor.ID {
			return ErrInvalidTarget
		}

	case models.ActionWithdraw:
		if _, ok := s.Nominations.NomineeOf(actor.ID); !ok {
			return ErrInvalidTarget
		}

	case models.ActionExecutionVote:
		if actor.ID == s.NomineeID {
			return ErrInvalidTarget
		}
		if intent.Guilty == nil {
			return ErrMissingVote
		}

	case models.ActionNight:
		return gc.validateNightAction(actor, intent)

	case models.ActionDiscuss, models.ActionSkip, models.ActionRematch, models.ActionLeave:

	default:
		return ErrUnknownAction
	}
	return nil
}

// validateTarget 目标必须存在且存活
func (gc *GameController) validateTarget(targetID string) error {
	target := gc.state.FindPlayer(targetID)
	if target == nil {
		return ErrUnknownTarget
	}
	if !target.Alive {
		return ErrDeadTarget
	}
	return nil
}

func (gc *GameController) validateNightAction(actor *models.Player, intent models.Intent) error {
	role, ok := gc.roles.Get(actor.Role)
	if !ok || !role.HasNightAction() {
		return ErrNoAbility
	}
	if err := gc.validateTarget(intent.TargetID); err != nil {
		return err
	}
	target := gc.state.FindPlayer(intent.TargetID)

	switch role.Ability {
	case models.AbilityProtect:
	case models.AbilityRedirect:
		if err := gc.validateTarget(intent.SecondTargetID); err != nil {
			return err
		}
		if intent.SecondTargetID == intent.TargetID {
			return ErrInvalidTarget
		}
	case models.AbilityKill:
		if target.ID == actor.ID {
			return ErrInvalidTarget
		}
		// 同阵营成员不能互相击杀
		if role.CollectiveKill && target.Team == role.Team {
			return ErrInvalidTarget
		}
	case models.AbilityInvestigate, models.AbilityBlock, models.AbilityReveal:
		if target.ID == actor.ID {
			return ErrInvalidTarget
		}
	case models.AbilityNone:
		return ErrNoAbility
	default:
		return ErrNoAbility
	}
	return nil
}

// recordIntent 把已校验的动作写入对应缓冲区，返回需要附带的旁白或事件
func (gc *GameController) recordIntent(intent models.Intent) (*models.Narration, []models.Event) {
	s := gc.state

	switch intent.Kind {
	case models.ActionStart:
		s.IsStarted = true

	case models.ActionSkip:
		s.SkipRequested = true

	case models.ActionLeave:
		leave(s, intent.PlayerID)

	case models.ActionRematch:
		requestRematch(s, intent.PlayerID)

	case models.ActionDiscuss:
		return nil, []models.Event{{
			Type:    models.EventDiscussion,
			RoomID:  s.RoomID,
			Payload: map[string]any{"player_id": intent.PlayerID, "message": intent.Message},
		}}

	case models.ActionNominate:
		s.Nominations.Nominate(intent.PlayerID, intent.TargetID)
		return &models.Narration{
			Key: models.NarrationNominated,
			Params: map[string]any{
				"player": intent.TargetID,
				"votes":  len(s.Nominations.VotersOf(intent.TargetID)),
			},
		}, nil

	case models.ActionWithdraw:
		s.Nominations.Withdraw(intent.PlayerID)

	case models.ActionExecutionVote:
		s.ExecutionVotes[intent.PlayerID] = *intent.Guilty

	case models.ActionNight:
		actor := s.FindPlayer(intent.PlayerID)
		role, _ := gc.roles.Get(actor.Role)
		// 重复提交覆盖之前的行动
		s.NightActions[intent.PlayerID] = models.NightAction{
			Kind:           role.Ability,
			TargetID:       intent.TargetID,
			SecondTargetID: intent.SecondTargetID,
		}
	}
	return nil, nil
}

// AvailableActions 玩家在当前阶段可以执行的动作
func (gc *GameController) AvailableActions(playerID string) []models.ActionKind {
	gc.mu.Lock()
	defer gc.mu.Unlock()

	s := gc.state
	def, ok := gc.table.Definition(s.Phase)
	if !ok || gc.halted != nil {
		return nil
	}

	actions := make([]models.ActionKind, 0)
	for _, kind := range []models.ActionKind{
		models.ActionStart, models.ActionDiscuss, models.ActionNominate, models.ActionWithdraw,
		models.ActionExecutionVote, models.ActionNight, models.ActionSkip, models.ActionRematch, models.ActionLeave,
	} {
		if !def.Allows(kind) {
			continue
		}
		if s.WinCondition.HasWinner() && kind != models.ActionRematch && kind != models.ActionLeave {
			continue
		}
		if gc.actorAllowed(playerID, kind) {
			actions = append(actions, kind)
		}
	}
	return actions
}

// actorAllowed 只检查身份相关的条件，不检查目标
func (gc *GameController) actorAllowed(playerID string, kind models.ActionKind) bool {
	s := gc.state
	if moderatorOnly[kind] {
		return playerID == s.ModeratorID
	}
	actor := s.FindPlayer(playerID)
	if actor == nil {
		return kind == models.ActionRematch && playerID == s.ModeratorID
	}
	role, _ := gc.roles.Get(actor.Role)
	switch kind {
	case models.ActionNight:
		return role.HasNightAction() && (actor.Alive || role.ActsOnDeath)
	case models.ActionExecutionVote:
		return actor.Alive && actor.ID != s.NomineeID
	case models.ActionWithdraw:
		_, ok := s.Nominations.NomineeOf(actor.ID)
		return actor.Alive && ok
	}
	return !requiresAlive[kind] || actor.Alive
}
