package services

import (
	"fmt"

	"github.com/qianlnk/mafia/config"
	"github.com/qianlnk/mafia/models"
)

// DefaultRoles 内置角色表
// 夜晚优先级越小越先结算：封锁 < 换位 < 保护 < 击杀 < 查验 < 死亡触发
func DefaultRoles() []models.Role {
	return []models.Role{
		{ID: models.Citizen, Team: models.TeamCitizen, Ability: models.AbilityNone, WinRule: models.WinRuleNone,
			Description: "普通市民，白天通过讨论和投票找出黑手党"},
		{ID: models.Mafia, Team: models.TeamMafia, NightPriority: 20, Ability: models.AbilityKill,
			KillCause: models.CauseMafia, CollectiveKill: true, WinRule: models.WinRuleNone,
			Description: "每晚与同伴共同选择一名玩家杀害"},
		{ID: models.Doctor, Team: models.TeamCitizen, NightPriority: 10, Ability: models.AbilityProtect, WinRule: models.WinRuleNone,
			Description: "每晚保护一名玩家免于死亡"},
		{ID: models.Detective, Team: models.TeamCitizen, NightPriority: 30, Ability: models.AbilityInvestigate, WinRule: models.WinRuleNone,
			Description: "每晚查验一名玩家的阵营"},
		{ID: models.Reporter, Team: models.TeamCitizen, NightPriority: 30, Ability: models.AbilityReveal, WinRule: models.WinRuleNone,
			Description: "每晚选择一名玩家，第二天公开其身份"},
		{ID: models.Escort, Team: models.TeamCitizen, NightPriority: 0, Ability: models.AbilityBlock, WinRule: models.WinRuleNone,
			Description: "每晚封锁一名玩家，使其当晚技能失效"},
		{ID: models.BusDriver, Team: models.TeamCitizen, NightPriority: 5, Ability: models.AbilityRedirect, WinRule: models.WinRuleNone,
			Description: "每晚交换两名玩家，针对其中一人的技能会落到另一人身上"},
		{ID: models.Hunter, Team: models.TeamCitizen, NightPriority: 90, Ability: models.AbilityKill, ActsOnDeath: true,
			KillCause: models.CauseRetaliation, WinRule: models.WinRuleNone,
			Description: "预先指定一名玩家，若当晚死亡则带走该玩家"},
		{ID: models.SerialKiller, Team: models.TeamNeutral, NightPriority: 20, Ability: models.AbilityKill,
			KillCause: models.CauseNeutral, WinRule: models.WinRuleLastStanding,
			Description: "每晚独自杀害一名玩家，活到最后即获胜"},
		{ID: models.Jester, Team: models.TeamNeutral, Ability: models.AbilityNone, WinRule: models.WinRuleExecuted,
			Description: "被白天处决即获胜"},
		{ID: models.Survivor, Team: models.TeamNeutral, Ability: models.AbilityNone, WinRule: models.WinRuleSurvive,
			Description: "游戏结束时仍然存活即与胜利方一同获胜"},
	}
}

// deckExtras 默认牌组中随人数加入的角色
var deckExtras = []struct {
	minPlayers int
	role       models.RoleID
}{
	{6, models.Doctor},
	{6, models.Detective},
	{8, models.Escort},
	{10, models.Jester},
	{12, models.Reporter},
	{14, models.BusDriver},
	{14, models.Hunter},
	{16, models.SerialKiller},
	{16, models.Survivor},
}

// RoleRegistry 只读角色表，多个房间共享，无需加锁
type RoleRegistry struct {
	roles map[models.RoleID]models.Role
	order []models.RoleID
}

// NewRoleRegistry 校验并加载角色定义
func NewRoleRegistry(defs []models.Role) (*RoleRegistry, error) {
	reg := &RoleRegistry{roles: make(map[models.RoleID]models.Role, len(defs))}

	for _, def := range defs {
		field := "roles." + string(def.ID)
		if def.ID == "" {
			return nil, &config.ConfigurationError{Field: "roles", Reason: "角色缺少 id"}
		}
		if _, dup := reg.roles[def.ID]; dup {
			return nil, &config.ConfigurationError{Field: field, Reason: "角色重复"}
		}
		if def.WinRule == "" {
			def.WinRule = models.WinRuleNone
		}
		switch {
		case !def.Team.Valid():
			return nil, &config.ConfigurationError{Field: field, Reason: fmt.Sprintf("未知阵营 %q", def.Team)}
		case !def.Ability.Valid():
			return nil, &config.ConfigurationError{Field: field, Reason: fmt.Sprintf("未知技能 %q", def.Ability)}
		case !def.WinRule.Valid():
			return nil, &config.ConfigurationError{Field: field, Reason: fmt.Sprintf("未知胜利条件 %q", def.WinRule)}
		case def.NightPriority < 0:
			return nil, &config.ConfigurationError{Field: field, Reason: "夜晚优先级不能为负数"}
		case def.Ability == models.AbilityKill && !def.KillCause.Valid():
			return nil, &config.ConfigurationError{Field: field, Reason: "击杀角色缺少死亡原因"}
		case def.ActsOnDeath && def.Ability == models.AbilityNone:
			return nil, &config.ConfigurationError{Field: field, Reason: "死亡触发角色必须有技能"}
		}

		reg.roles[def.ID] = def
		reg.order = append(reg.order, def.ID)
	}

	if _, ok := reg.roles[models.Citizen]; !ok {
		return nil, &config.ConfigurationError{Field: "roles", Reason: "缺少市民角色"}
	}
	return reg, nil
}

// Get 查询角色定义
func (r *RoleRegistry) Get(id models.RoleID) (models.Role, bool) {
	role, ok := r.roles[id]
	return role, ok
}

// All 按加载顺序返回所有角色
func (r *RoleRegistry) All() []models.Role {
	roles := make([]models.Role, 0, len(r.order))
	for _, id := range r.order {
		roles = append(roles, r.roles[id])
	}
	return roles
}

// Deck 生成 n 名玩家使用的角色牌组（未洗牌）
// configured 非空时按配置取前 n 张，不足部分补市民
func (r *RoleRegistry) Deck(n int, configured []models.RoleID) ([]models.RoleID, error) {
	deck := make([]models.RoleID, 0, n)

	if len(configured) > 0 {
		for _, id := range configured {
			if len(deck) == n {
				break
			}
			if _, ok := r.roles[id]; !ok {
				return nil, &config.ConfigurationError{Field: "game.deck", Reason: fmt.Sprintf("未知角色 %q", id)}
			}
			deck = append(deck, id)
		}
	} else {
		mafiaCount := max(1, n/4)
		for i := 0; i < mafiaCount; i++ {
			deck = append(deck, models.Mafia)
		}
		for _, extra := range deckExtras {
			if n < extra.minPlayers || len(deck) == n {
				continue
			}
			if _, ok := r.roles[extra.role]; ok {
				deck = append(deck, extra.role)
			}
		}
	}

	for len(deck) < n {
		deck = append(deck, models.Citizen)
	}

	hasMafia := false
	for _, id := range deck {
		if r.roles[id].Team == models.TeamMafia {
			hasMafia = true
			break
		}
	}
	if !hasMafia {
		return nil, &config.ConfigurationError{Field: "game.deck", Reason: "牌组中没有黑手党阵营角色"}
	}
	return deck, nil
}
