package services

import "github.com/qianlnk/mafia/models"

// EvaluateWin 检查胜负，没有胜利方时返回 nil
// 纯函数：重复调用结果相同，不修改输入
func EvaluateWin(players []models.Player, roles *RoleRegistry) *models.WinCondition {
	mafiaAlive, othersAlive := 0, 0
	for _, p := range players {
		if !p.Alive {
			continue
		}
		if role, _ := roles.Get(p.Role); role.Team == models.TeamMafia {
			mafiaAlive++
		} else {
			othersAlive++
		}
	}
	aliveTotal := mafiaAlive + othersAlive

	win := &models.WinCondition{}
	if mafiaAlive == 0 {
		win.WinningTeams = append(win.WinningTeams, models.TeamCitizen)
	} else if mafiaAlive >= othersAlive {
		win.WinningTeams = append(win.WinningTeams, models.TeamMafia)
	}

	terminal := len(win.WinningTeams) > 0
	var survivors []string
	for _, p := range players {
		role, ok := roles.Get(p.Role)
		if !ok {
			continue
		}
		switch role.WinRule {
		case models.WinRuleExecuted:
			if !p.Alive && p.KilledBy != nil && *p.KilledBy == models.CauseExecution {
				win.NeutralWinners = append(win.NeutralWinners, p.ID)
				terminal = true
			}
		case models.WinRuleLastStanding:
			if p.Alive && aliveTotal <= 2 {
				win.NeutralWinners = append(win.NeutralWinners, p.ID)
				terminal = true
			}
		case models.WinRuleSurvive:
			if p.Alive {
				survivors = append(survivors, p.ID)
			}
		case models.WinRuleNone:
		}
	}

	if !terminal {
		return nil
	}
	win.NeutralWinners = append(win.NeutralWinners, survivors...)
	return win
}
