package services

import (
	"github.com/qianlnk/mafia/models"
)

// announce 阶段转换后的旁白与私信
func (gc *GameController) announce(prev, next *models.RoomState) {
	var narrations []*models.Narration

	if prev.Phase == models.PhaseExecution {
		narrations = append(narrations, executionResult(prev, next))
	}

	switch next.Phase {
	case models.PhaseStarting:
		narrations = append(narrations, &models.Narration{
			Key:    models.NarrationGameStart,
			Params: map[string]any{"players": len(next.Players)},
		})
		gc.sendRoles(next)

	case models.PhaseDay:
		deaths := []string{}
		if prev.Phase == models.PhaseNightResult && next.LastNight != nil {
			for _, d := range next.LastNight.Deaths {
				deaths = append(deaths, d.PlayerID)
			}
		}
		narrations = append(narrations, &models.Narration{
			Key:    models.NarrationDayStart,
			Params: map[string]any{"day": next.DayNumber, "deaths": deaths},
		})

	case models.PhaseVoting:
		narrations = append(narrations, &models.Narration{
			Key:    models.NarrationVotingStart,
			Params: map[string]any{"day": next.DayNumber},
		})

	case models.PhaseExecution:
		narrations = append(narrations, &models.Narration{
			Key: models.NarrationExecutionStart,
			Params: map[string]any{
				"player": next.NomineeID,
				"votes":  len(next.Nominations.VotersOf(next.NomineeID)),
			},
		})

	case models.PhaseNight:
		narrations = append(narrations, &models.Narration{
			Key:    models.NarrationNightStart,
			Params: map[string]any{"round": next.Round},
		})

	case models.PhaseNightResult:
		deaths := []models.Death{}
		var reveals []models.Reveal
		if next.LastNight != nil {
			deaths = next.LastNight.Deaths
			reveals = next.LastNight.Reveals
			gc.sendInvestigations(next)
		}
		narrations = append(narrations, &models.Narration{
			Key:    models.NarrationNightResult,
			Params: map[string]any{"round": next.Round, "deaths": deaths, "reveals": reveals},
		})

	case models.PhaseEnded:
		params := map[string]any{}
		if next.WinCondition != nil {
			params["winning_teams"] = next.WinCondition.WinningTeams
			params["neutral_winners"] = next.WinCondition.NeutralWinners
		}
		narrations = append(narrations, &models.Narration{Key: models.NarrationGameEnd, Params: params})
		if gc.onGameEnd != nil {
			go gc.onGameEnd(next.Clone())
		}
	}

	if len(narrations) == 0 {
		gc.emitState(nil)
		return
	}
	for _, n := range narrations {
		gc.emitState(n)
	}
}

func executionResult(prev, next *models.RoomState) *models.Narration {
	executed := false
	if p := next.FindPlayer(prev.NomineeID); p != nil && !p.Alive && p.KilledBy != nil && *p.KilledBy == models.CauseExecution {
		if before := prev.FindPlayer(prev.NomineeID); before != nil && before.Alive {
			executed = true
		}
	}
	return &models.Narration{
		Key:    models.NarrationExecutionResult,
		Params: map[string]any{"executed": executed, "player": prev.NomineeID},
	}
}

// sendRoles 私下告知每位玩家身份，黑手党同时得知同伴
func (gc *GameController) sendRoles(s *models.RoomState) {
	var mafia []string
	for _, p := range s.Players {
		if p.Team == models.TeamMafia {
			mafia = append(mafia, p.ID)
		}
	}

	for _, p := range s.Players {
		role, _ := gc.roles.Get(p.Role)
		payload := map[string]any{
			"role":        role.ID,
			"team":        role.Team,
			"description": role.Description,
		}
		if role.Team == models.TeamMafia {
			payload["teammates"] = mafia
		}
		gc.emit(models.Event{
			Type:      models.EventRoleAssigned,
			RoomID:    s.RoomID,
			Recipient: p.ID,
			Payload:   payload,
		})
	}
}

// sendInvestigations 查验结果只发给查验者
func (gc *GameController) sendInvestigations(s *models.RoomState) {
	for _, inv := range s.LastNight.Investigations {
		gc.emit(models.Event{
			Type:      models.EventInvestigation,
			RoomID:    s.RoomID,
			Recipient: inv.ActorID,
			Payload: map[string]any{
				"target_id": inv.TargetID,
				"team":      inv.Team,
			},
		})
	}
}
