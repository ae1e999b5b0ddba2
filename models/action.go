package models

// Phase 游戏阶段
type Phase string

const (
	PhaseWaiting     Phase = "waiting"      // 等待开始
	PhaseStarting    Phase = "starting"     // 发放身份
	PhaseDay         Phase = "day"          // 白天讨论
	PhaseVoting      Phase = "voting"       // 提名投票
	PhaseExecution   Phase = "execution"    // 处决表决
	PhaseNight       Phase = "night"        // 夜晚行动
	PhaseNightResult Phase = "night_result" // 夜晚结算公布
	PhaseEnded       Phase = "ended"        // 游戏结束
)

// AllPhases 按状态机顺序排列的所有阶段
var AllPhases = []Phase{
	PhaseWaiting, PhaseStarting, PhaseDay, PhaseVoting,
	PhaseExecution, PhaseNight, PhaseNightResult, PhaseEnded,
}

// Valid 是否为已知阶段
func (p Phase) Valid() bool {
	switch p {
	case PhaseWaiting, PhaseStarting, PhaseDay, PhaseVoting,
		PhaseExecution, PhaseNight, PhaseNightResult, PhaseEnded:
		return true
	}
	return false
}

// Untimed 不按计时推进的阶段
func (p Phase) Untimed() bool {
	return p == PhaseWaiting || p == PhaseEnded
}

// ActionKind 玩家/主持人动作类型
type ActionKind string

const (
	ActionStart         ActionKind = "start"          // 主持人开始游戏
	ActionDiscuss       ActionKind = "discuss"        // 白天发言
	ActionNominate      ActionKind = "nominate"       // 提名嫌疑人
	ActionWithdraw      ActionKind = "withdraw"       // 撤回提名
	ActionExecutionVote ActionKind = "execution_vote" // 处决表决
	ActionNight         ActionKind = "night_action"   // 夜晚技能
	ActionSkip          ActionKind = "skip"           // 主持人跳过当前阶段
	ActionRematch       ActionKind = "rematch"        // 再来一局
	ActionLeave         ActionKind = "leave"          // 离开
)

// Valid 是否为已知动作类型
func (k ActionKind) Valid() bool {
	switch k {
	case ActionStart, ActionDiscuss, ActionNominate, ActionWithdraw, ActionExecutionVote,
		ActionNight, ActionSkip, ActionRematch, ActionLeave:
		return true
	}
	return false
}

// Intent 传输层送来的玩家意图
type Intent struct {
	PlayerID       string     `json:"player_id"`
	Kind           ActionKind `json:"kind"`
	TargetID       string     `json:"target_id,omitempty"`
	SecondTargetID string     `json:"second_target_id,omitempty"` // 司机换位的第二个目标
	Guilty         *bool      `json:"guilty,omitempty"`           // 处决表决
	Message        string     `json:"message,omitempty"`          // 发言内容
}

// NightAction 已提交的夜晚行动
type NightAction struct {
	Kind           AbilityKind `json:"kind"`
	TargetID       string      `json:"target_id"`
	SecondTargetID string      `json:"second_target_id,omitempty"`
}
