package models

// EventType 推送事件类型
type EventType string

const (
	EventState         EventType = "game_state"    // 状态快照
	EventDiscussion    EventType = "discussion"    // 白天发言
	EventInvestigation EventType = "investigation" // 查验结果（私发）
	EventRoleAssigned  EventType = "role_assigned" // 身份分配（私发）
	EventHalted        EventType = "halted"        // 房间因内部错误停止
	EventRematch       EventType = "rematch"       // 新一局已创建
)

// NarrationKey 旁白模板
type NarrationKey string

const (
	NarrationGameStart       NarrationKey = "gameStart"
	NarrationDayStart        NarrationKey = "dayStart"
	NarrationVotingStart     NarrationKey = "votingStart"
	NarrationNominated       NarrationKey = "nominated"
	NarrationExecutionStart  NarrationKey = "executionStart"
	NarrationExecutionResult NarrationKey = "executionResult"
	NarrationNightStart      NarrationKey = "nightStart"
	NarrationNightResult     NarrationKey = "nightResult"
	NarrationGameEnd         NarrationKey = "gameEnd"
)

// Narration 旁白事件，由传输层负责渲染或朗读
type Narration struct {
	Key    NarrationKey   `json:"key"`
	Params map[string]any `json:"params,omitempty"`
}

// Event 发往传输层的事件
// Recipient 为空时广播给整个房间，否则只发给该玩家
type Event struct {
	Type      EventType      `json:"type"`
	RoomID    string         `json:"room_id"`
	Recipient string         `json:"recipient,omitempty"`
	State     *RoomState     `json:"state,omitempty"`
	Narration *Narration     `json:"narration,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}
