package services

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/qianlnk/mafia/models"
)

// Personality 性格特征
type Personality string

const (
	PersonalityAggressive Personality = "aggressive" // 激进
	PersonalityCautious   Personality = "cautious"   // 谨慎
	PersonalityStrategic  Personality = "strategic"  // 策略
	PersonalityRandom     Personality = "random"     // 随机
)

var personalities = []Personality{
	PersonalityAggressive,
	PersonalityCautious,
	PersonalityStrategic,
	PersonalityRandom,
}

// AIPlayer 服务端托管的玩家，只根据自己可见的状态行动
type AIPlayer struct {
	ID          string
	Name        string
	Personality Personality

	mu       sync.Mutex
	rand     *rand.Rand
	lastTurn string
	known    map[string]models.Team // 查验得知的阵营
	revealed map[string]models.RoleID
}

// NewAIPlayer 创建AI玩家实例，性格由 rng 随机决定
func NewAIPlayer(id, name string, rng *rand.Rand) *AIPlayer {
	return &AIPlayer{
		ID:          id,
		Name:        name,
		Personality: personalities[rng.Intn(len(personalities))],
		rand:        rng,
		known:       make(map[string]models.Team),
		revealed:    make(map[string]models.RoleID),
	}
}

// reset 新的一局清空记忆
func (ai *AIPlayer) reset() {
	ai.mu.Lock()
	defer ai.mu.Unlock()
	ai.lastTurn = ""
	ai.known = make(map[string]models.Team)
	ai.revealed = make(map[string]models.RoleID)
}

func turnKey(s *models.RoomState) string {
	return fmt.Sprintf("%s/%d/%d", s.Phase, s.DayNumber, s.Round)
}

// DecideAction 决定下一步行动。view 必须是按该玩家脱敏后的状态；每个阶段最多行动一次
func (ai *AIPlayer) DecideAction(view *models.RoomState, available []models.ActionKind, roles *RoleRegistry) (models.Intent, bool) {
	ai.mu.Lock()
	defer ai.mu.Unlock()

	ai.remember(view)

	key := turnKey(view)
	if key == ai.lastTurn {
		return models.Intent{}, false
	}

	allowed := make(map[models.ActionKind]bool, len(available))
	for _, kind := range available {
		allowed[kind] = true
	}

	intent, ok := ai.decide(view, allowed, roles)
	if ok {
		ai.lastTurn = key
		intent.PlayerID = ai.ID
	}
	return intent, ok
}

func (ai *AIPlayer) decide(view *models.RoomState, allowed map[models.ActionKind]bool, roles *RoleRegistry) (models.Intent, bool) {
	self := view.FindPlayer(ai.ID)
	if self == nil {
		return models.Intent{}, false
	}

	switch view.Phase {
	case models.PhaseEnded:
		if allowed[models.ActionRematch] {
			return models.Intent{Kind: models.ActionRematch}, true
		}
	case models.PhaseDay:
		if allowed[models.ActionDiscuss] {
			return models.Intent{Kind: models.ActionDiscuss, Message: ai.generateDiscussion(view, self)}, true
		}
	case models.PhaseVoting:
		if allowed[models.ActionNominate] {
			if target := ai.selectNominee(view, self); target != "" {
				return models.Intent{Kind: models.ActionNominate, TargetID: target}, true
			}
		}
	case models.PhaseExecution:
		if allowed[models.ActionExecutionVote] {
			guilty := ai.decideVerdict(view, self)
			return models.Intent{Kind: models.ActionExecutionVote, Guilty: &guilty}, true
		}
	case models.PhaseNight:
		if allowed[models.ActionNight] {
			role, ok := roles.Get(self.Role)
			if !ok || !role.HasNightAction() {
				return models.Intent{}, false
			}
			return ai.decideNightAction(view, self, role, roles)
		}
	}
	return models.Intent{}, false
}

// remember 记录自己的查验结果和公开的身份
func (ai *AIPlayer) remember(view *models.RoomState) {
	if view.LastNight == nil {
		return
	}
	for _, inv := range view.LastNight.Investigations {
		if inv.ActorID == ai.ID {
			ai.known[inv.TargetID] = inv.Team
		}
	}
	for _, r := range view.LastNight.Reveals {
		ai.revealed[r.TargetID] = r.Role
	}
}

// teammate 黑手党能看到同伴的阵营，其他人看不到
func (ai *AIPlayer) teammate(self, p *models.Player) bool {
	return self.Team == models.TeamMafia && p.Team == models.TeamMafia
}

// others 除自己以外的存活玩家，可选排除同伴
func (ai *AIPlayer) others(view *models.RoomState, self *models.Player, excludeTeammates bool) []string {
	ids := make([]string, 0, len(view.Players))
	for i := range view.Players {
		p := &view.Players[i]
		if !p.Alive || p.ID == self.ID {
			continue
		}
		if excludeTeammates && ai.teammate(self, p) {
			continue
		}
		ids = append(ids, p.ID)
	}
	return ids
}

// suspects 查验为黑手党且仍存活的玩家
func (ai *AIPlayer) suspects(view *models.RoomState) []string {
	var ids []string
	for _, p := range view.Players {
		if p.Alive && ai.known[p.ID] == models.TeamMafia {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

func (ai *AIPlayer) pick(ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	return ids[ai.rand.Intn(len(ids))]
}

// selectNominee 选择提名目标
func (ai *AIPlayer) selectNominee(view *models.RoomState, self *models.Player) string {
	if self.Team != models.TeamMafia {
		if target := ai.pick(ai.suspects(view)); target != "" {
			return target
		}
	}
	candidates := ai.others(view, self, true)

	switch ai.Personality {
	case PersonalityCautious:
		// 跟随当前得票最多的提名
		if leader, ok := TallyNominations(view.Nominations); ok {
			for _, id := range candidates {
				if id == leader {
					return leader
				}
			}
		}
	case PersonalityStrategic:
		// 避开已确认的好人
		var unknown []string
		for _, id := range candidates {
			if ai.known[id] != models.TeamCitizen {
				unknown = append(unknown, id)
			}
		}
		if len(unknown) > 0 {
			candidates = unknown
		}
	}
	return ai.pick(candidates)
}

// decideVerdict 决定处决表决
func (ai *AIPlayer) decideVerdict(view *models.RoomState, self *models.Player) bool {
	nominee := view.FindPlayer(view.NomineeID)
	if nominee == nil {
		return false
	}
	if ai.teammate(self, nominee) {
		return false
	}
	if self.Team == models.TeamMafia {
		return true
	}
	switch ai.known[nominee.ID] {
	case models.TeamMafia:
		return true
	case models.TeamCitizen:
		return false
	}

	switch ai.Personality {
	case PersonalityAggressive:
		return true
	case PersonalityCautious:
		return ai.rand.Float64() < 0.4
	case PersonalityStrategic:
		return len(view.Nominations.VotersOf(nominee.ID)) > 1
	default:
		return ai.rand.Float64() < 0.5
	}
}

// revealedPowerRoles 被公开身份且仍存活的好人神职
func (ai *AIPlayer) revealedPowerRoles(view *models.RoomState, roles *RoleRegistry) []string {
	var ids []string
	for _, p := range view.Players {
		roleID, ok := ai.revealed[p.ID]
		if !ok || !p.Alive {
			continue
		}
		if role, ok := roles.Get(roleID); ok && role.HasNightAction() && role.Team == models.TeamCitizen {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

// decideNightAction 按技能选择夜晚目标
func (ai *AIPlayer) decideNightAction(view *models.RoomState, self *models.Player, role models.Role, roles *RoleRegistry) (models.Intent, bool) {
	intent := models.Intent{Kind: models.ActionNight}
	others := ai.others(view, self, role.CollectiveKill || self.Team == models.TeamMafia)

	switch role.Ability {
	case models.AbilityKill:
		if !role.CollectiveKill {
			if target := ai.pick(ai.suspects(view)); target != "" {
				intent.TargetID = target
				break
			}
		}
		if ai.Personality == PersonalityAggressive && self.Team == models.TeamMafia {
			// 优先击杀已暴露的神职
			if target := ai.pick(ai.revealedPowerRoles(view, roles)); target != "" {
				intent.TargetID = target
				break
			}
		}
		intent.TargetID = ai.pick(others)

	case models.AbilityProtect:
		switch ai.Personality {
		case PersonalityCautious:
			intent.TargetID = self.ID
		default:
			intent.TargetID = ai.pick(append(others, self.ID))
		}

	case models.AbilityInvestigate, models.AbilityReveal:
		var unknown []string
		for _, id := range others {
			if _, ok := ai.known[id]; !ok {
				unknown = append(unknown, id)
			}
		}
		if len(unknown) == 0 {
			unknown = others
		}
		intent.TargetID = ai.pick(unknown)

	case models.AbilityBlock:
		if target := ai.pick(ai.suspects(view)); target != "" {
			intent.TargetID = target
			break
		}
		intent.TargetID = ai.pick(others)

	case models.AbilityRedirect:
		if len(others) < 2 {
			return models.Intent{}, false
		}
		perm := ai.rand.Perm(len(others))
		intent.TargetID = others[perm[0]]
		intent.SecondTargetID = others[perm[1]]

	default:
		return models.Intent{}, false
	}

	if intent.TargetID == "" {
		return models.Intent{}, false
	}
	return intent, true
}

// generateDiscussion 根据阵营和性格生成发言
func (ai *AIPlayer) generateDiscussion(view *models.RoomState, self *models.Player) string {
	if target := ai.pick(ai.suspects(view)); target != "" && self.Team != models.TeamMafia {
		if p := view.FindPlayer(target); p != nil {
			return fmt.Sprintf("我有可靠消息，%s 是黑手党", p.Name)
		}
	}

	var lines []string
	switch {
	case self.Team == models.TeamMafia:
		lines = map[Personality][]string{
			PersonalityAggressive: {"我觉得有人在冒充侦探，我们应该投他", "昨晚的死者太可惜了，凶手一定在沉默的人里"},
			PersonalityCautious:   {"大家要冷静分析，不要轻易相信任何人的发言", "没有证据之前不要乱投票"},
			PersonalityStrategic:  {"我们应该先听听侦探的发言，再做判断", "先看看谁的提名最可疑"},
		}[ai.Personality]
	case self.Team == models.TeamNeutral:
		lines = []string{"我只是个普通市民，大家别盯着我", "这局形势不太明朗，大家要谨慎投票"}
	default:
		lines = map[Personality][]string{
			PersonalityAggressive: {"我觉得有人行为很可疑，应该仔细观察", "今天必须处决一个人"},
			PersonalityCautious:   {"我们要相信侦探，但也要防止有人冒充", "大家要注意安全，黑手党可能会有突然袭击"},
			PersonalityStrategic:  {"让我们分析一下每个人的发言，找出线索", "我觉得我们应该制定一个保护策略"},
		}[ai.Personality]
	}
	if len(lines) == 0 {
		lines = []string{"昨晚的情况大家怎么看？", "大家有什么想法吗？", "我们要团结一致找出黑手党"}
	}
	if view.DayNumber == 1 && ai.rand.Intn(2) == 0 {
		return "第一天，大家先介绍一下自己吧"
	}
	return lines[ai.rand.Intn(len(lines))]
}
