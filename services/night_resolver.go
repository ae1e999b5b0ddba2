package services

import (
	"fmt"
	"sort"

	"github.com/qianlnk/mafia/models"
)

// nightEntry 一条待结算的夜晚行动
type nightEntry struct {
	actor  models.Player
	role   models.Role
	action models.NightAction
	order  int // 加入顺序
}

// nightResolution 一次结算过程中的中间状态
type nightResolution struct {
	players   map[string]models.Player
	blocked   map[string]bool
	protected map[string]bool
	dead      map[string]bool
	teamDone  map[models.Team]bool
	swaps     [][2]string
	entries   []nightEntry
	outcome   *models.NightOutcome
}

// ResolveNight 结算一夜的所有行动，不修改输入
// 按角色优先级分层、层内按加入顺序处理；死亡触发的角色在最后一轮只对当晚死亡者生效
func ResolveNight(players []models.Player, actions map[string]models.NightAction, roles *RoleRegistry) (*models.NightOutcome, error) {
	res := &nightResolution{
		players:   make(map[string]models.Player, len(players)),
		blocked:   make(map[string]bool),
		protected: make(map[string]bool),
		dead:      make(map[string]bool),
		teamDone:  make(map[models.Team]bool),
		outcome:   &models.NightOutcome{Deaths: make([]models.Death, 0)},
	}

	var direct, triggers []nightEntry
	for i, p := range players {
		res.players[p.ID] = p

		action, ok := actions[p.ID]
		if !ok {
			continue
		}
		role, ok := roles.Get(p.Role)
		if !ok {
			return nil, fmt.Errorf("玩家 %s 的角色 %q 不在角色表中", p.ID, p.Role)
		}
		if !role.HasNightAction() || action.Kind != role.Ability {
			continue
		}

		entry := nightEntry{actor: p, role: role, action: action, order: i}
		if role.ActsOnDeath {
			triggers = append(triggers, entry)
			continue
		}
		if !p.Alive {
			continue
		}
		direct = append(direct, entry)
	}

	byTier := func(list []nightEntry) {
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].role.NightPriority != list[j].role.NightPriority {
				return list[i].role.NightPriority < list[j].role.NightPriority
			}
			return list[i].order < list[j].order
		})
	}
	byTier(direct)
	byTier(triggers)
	res.entries = direct

	for _, entry := range direct {
		if err := res.apply(entry); err != nil {
			return nil, err
		}
	}

	// 死亡触发：只处理当晚刚死亡的角色，本轮造成的死亡不再触发
	for _, entry := range triggers {
		if !entry.actor.Alive || !res.dead[entry.actor.ID] {
			continue
		}
		if err := res.apply(entry); err != nil {
			return nil, err
		}
	}

	return res.outcome, nil
}

// redirect 按已记录的换位依次映射目标
func (r *nightResolution) redirect(target string) string {
	for _, swap := range r.swaps {
		switch target {
		case swap[0]:
			target = swap[1]
		case swap[1]:
			target = swap[0]
		}
	}
	return target
}

func (r *nightResolution) apply(entry nightEntry) error {
	if r.blocked[entry.actor.ID] {
		r.outcome.Blocked = append(r.outcome.Blocked, entry.actor.ID)
		return nil
	}

	target := r.redirect(entry.action.TargetID)

	switch entry.role.Ability {
	case models.AbilityBlock:
		r.blocked[target] = true

	case models.AbilityRedirect:
		if entry.action.SecondTargetID != "" && entry.action.SecondTargetID != entry.action.TargetID {
			r.swaps = append(r.swaps, [2]string{entry.action.TargetID, entry.action.SecondTargetID})
		}

	case models.AbilityProtect:
		r.protected[target] = true

	case models.AbilityKill:
		if entry.role.CollectiveKill {
			r.collectiveKill(entry)
			return nil
		}
		r.kill(target, entry.role.KillCause)

	case models.AbilityInvestigate:
		// 查验读取结算前的真实阵营
		if p, ok := r.players[target]; ok {
			r.outcome.Investigations = append(r.outcome.Investigations, models.Investigation{
				ActorID:  entry.actor.ID,
				TargetID: target,
				Team:     p.Team,
			})
		}

	case models.AbilityReveal:
		if p, ok := r.players[target]; ok {
			r.outcome.Reveals = append(r.outcome.Reveals, models.Reveal{TargetID: target, Role: p.Role})
		}

	case models.AbilityNone:

	default:
		return fmt.Errorf("未处理的技能类型 %q", entry.role.Ability)
	}
	return nil
}

// collectiveKill 同阵营成员的击杀合并为一次：未被封锁成员中得票最多的目标，平票取加入顺序最早的投票
func (r *nightResolution) collectiveKill(first nightEntry) {
	team := first.role.Team
	if r.teamDone[team] {
		return
	}
	r.teamDone[team] = true

	votes := make(map[string]int)
	var order []string
	causes := make(map[string]models.KillCause)
	for _, e := range r.entries {
		if !e.role.CollectiveKill || e.role.Team != team || r.blocked[e.actor.ID] {
			continue
		}
		target := r.redirect(e.action.TargetID)
		if _, seen := votes[target]; !seen {
			order = append(order, target)
			causes[target] = e.role.KillCause
		}
		votes[target]++
	}

	chosen, best := "", 0
	for _, target := range order {
		if votes[target] > best {
			chosen, best = target, votes[target]
		}
	}
	if chosen != "" {
		r.kill(chosen, causes[chosen])
	}
}

// kill 同一目标的多次击杀只记录第一次的原因；被保护者存活
func (r *nightResolution) kill(target string, cause models.KillCause) {
	p, ok := r.players[target]
	if !ok || !p.Alive || r.dead[target] {
		return
	}
	if r.protected[target] {
		for _, id := range r.outcome.Protected {
			if id == target {
				return
			}
		}
		r.outcome.Protected = append(r.outcome.Protected, target)
		return
	}
	r.dead[target] = true
	r.outcome.Deaths = append(r.outcome.Deaths, models.Death{PlayerID: target, Cause: cause})
}
