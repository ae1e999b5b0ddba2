package models

// Team 阵营
type Team string

const (
	TeamMafia   Team = "mafia"   // 黑手党
	TeamCitizen Team = "citizen" // 市民
	TeamNeutral Team = "neutral" // 中立
)

// Valid 是否为已知阵营
func (t Team) Valid() bool {
	switch t {
	case TeamMafia, TeamCitizen, TeamNeutral:
		return true
	}
	return false
}

// AbilityKind 夜晚技能类型
type AbilityKind string

const (
	AbilityKill        AbilityKind = "kill"        // 击杀
	AbilityProtect     AbilityKind = "protect"     // 保护
	AbilityInvestigate AbilityKind = "investigate" // 查验
	AbilityBlock       AbilityKind = "block"       // 封锁
	AbilityRedirect    AbilityKind = "redirect"    // 换位
	AbilityReveal      AbilityKind = "reveal"      // 公开身份
	AbilityNone        AbilityKind = "none"        // 无技能
)

// Valid 是否为已知技能类型
func (k AbilityKind) Valid() bool {
	switch k {
	case AbilityKill, AbilityProtect, AbilityInvestigate, AbilityBlock,
		AbilityRedirect, AbilityReveal, AbilityNone:
		return true
	}
	return false
}

// KillCause 死亡原因
type KillCause string

const (
	CauseMafia       KillCause = "mafia"       // 被黑手党杀害
	CauseNeutral     KillCause = "neutral"     // 被中立杀手杀害
	CauseExecution   KillCause = "execution"   // 白天被处决
	CauseRetaliation KillCause = "retaliation" // 死亡时的反击
)

// Valid 是否为已知死亡原因
func (c KillCause) Valid() bool {
	switch c {
	case CauseMafia, CauseNeutral, CauseExecution, CauseRetaliation:
		return true
	}
	return false
}

// WinRule 中立角色的独立胜利条件
type WinRule string

const (
	WinRuleNone         WinRule = "none"          // 跟随阵营
	WinRuleExecuted     WinRule = "executed"      // 被处决即获胜
	WinRuleLastStanding WinRule = "last_standing" // 最后存活
	WinRuleSurvive      WinRule = "survive"       // 游戏结束时存活
)

// Valid 是否为已知胜利条件
func (r WinRule) Valid() bool {
	switch r {
	case WinRuleNone, WinRuleExecuted, WinRuleLastStanding, WinRuleSurvive:
		return true
	}
	return false
}

// RoleID 角色标识
type RoleID string

const (
	Citizen      RoleID = "citizen"      // 市民
	Mafia        RoleID = "mafia"        // 黑手党
	Doctor       RoleID = "doctor"       // 医生
	Detective    RoleID = "detective"    // 侦探
	Reporter     RoleID = "reporter"     // 记者
	Escort       RoleID = "escort"       // 陪同
	BusDriver    RoleID = "busdriver"    // 司机
	Hunter       RoleID = "hunter"       // 猎人
	SerialKiller RoleID = "serialkiller" // 连环杀手
	Jester       RoleID = "jester"       // 小丑
	Survivor     RoleID = "survivor"     // 幸存者
)

// Role 角色定义，加载后不可修改
type Role struct {
	ID            RoleID      `json:"id" mapstructure:"id"`
	Team          Team        `json:"team" mapstructure:"team"`
	NightPriority int         `json:"night_priority" mapstructure:"night_priority"`
	Ability       AbilityKind `json:"ability" mapstructure:"ability"`
	ActsOnDeath   bool        `json:"acts_on_death" mapstructure:"acts_on_death"`
	KillCause     KillCause   `json:"kill_cause,omitempty" mapstructure:"kill_cause"`
	// CollectiveKill 同阵营成员共同决定一个击杀目标
	CollectiveKill bool    `json:"collective_kill" mapstructure:"collective_kill"`
	WinRule        WinRule `json:"win_rule" mapstructure:"win_rule"`
	Description    string  `json:"description" mapstructure:"description"`
}

// HasNightAction 角色是否有夜晚行动
func (r Role) HasNightAction() bool {
	return r.Ability != AbilityNone
}

// ConnectionState 连接状态
type ConnectionState string

const (
	Connected    ConnectionState = "connected"    // 在线
	Disconnected ConnectionState = "disconnected" // 掉线，等待重连
	Left         ConnectionState = "left"         // 主动离开
)

// Valid 是否为已知连接状态
func (s ConnectionState) Valid() bool {
	switch s {
	case Connected, Disconnected, Left:
		return true
	}
	return false
}

// Player 玩家信息
type Player struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Role       RoleID          `json:"role,omitempty"`
	Team       Team            `json:"team,omitempty"`
	Alive      bool            `json:"alive"`
	DeathRound *int            `json:"death_round,omitempty"`
	KilledBy   *KillCause      `json:"killed_by,omitempty"`
	Connection ConnectionState `json:"connection"`
}

// Room 房间信息（大厅视图）
type Room struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ModeratorID string `json:"moderator_id"`
	Players     int    `json:"players"`
	MaxPlayers  int    `json:"max_players"`
	MinPlayers  int    `json:"min_players"`
	Phase       Phase  `json:"phase"`
	GameStarted bool   `json:"game_started"`
	CreatedAt   int64  `json:"created_at"`
}
