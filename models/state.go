package models

import (
	"encoding/json"
	"slices"
)

// Nominations 提名记录：被提名者 -> 投票者集合
// 被提名者按首次获得票数的顺序排列，用于平票时的确定性裁决
type Nominations struct {
	order  []string
	voters map[string][]string
	cast   map[string]string // voter -> nominee
}

// NewNominations 创建空的提名记录
func NewNominations() *Nominations {
	return &Nominations{
		voters: make(map[string][]string),
		cast:   make(map[string]string),
	}
}

func (n *Nominations) init() {
	if n.voters == nil {
		n.voters = make(map[string][]string)
	}
	if n.cast == nil {
		n.cast = make(map[string]string)
	}
}

// Nominate 记录提名；同一投票者重复提名会转移其票
func (n *Nominations) Nominate(voterID, nomineeID string) {
	n.init()
	if prev, ok := n.cast[voterID]; ok {
		if prev == nomineeID {
			return
		}
		n.Withdraw(voterID)
	}
	if _, ok := n.voters[nomineeID]; !ok {
		n.order = append(n.order, nomineeID)
	}
	n.voters[nomineeID] = append(n.voters[nomineeID], voterID)
	n.cast[voterID] = nomineeID
}

// Withdraw 撤回投票者的提名，返回是否存在提名
func (n *Nominations) Withdraw(voterID string) bool {
	nominee, ok := n.cast[voterID]
	if !ok {
		return false
	}
	delete(n.cast, voterID)

	voters := slices.DeleteFunc(n.voters[nominee], func(v string) bool { return v == voterID })
	if len(voters) > 0 {
		n.voters[nominee] = voters
		return true
	}

	// 票数归零的被提名者失去排序位置
	delete(n.voters, nominee)
	n.order = slices.DeleteFunc(n.order, func(id string) bool { return id == nominee })
	return true
}

// Order 被提名者的首次提名顺序
func (n *Nominations) Order() []string {
	return slices.Clone(n.order)
}

// VotersOf 某个被提名者的投票者
func (n *Nominations) VotersOf(nomineeID string) []string {
	return slices.Clone(n.voters[nomineeID])
}

// NomineeOf 投票者当前提名的对象
func (n *Nominations) NomineeOf(voterID string) (string, bool) {
	nominee, ok := n.cast[voterID]
	return nominee, ok
}

// HasAny 是否存在至少一个提名
func (n *Nominations) HasAny() bool {
	return len(n.order) > 0
}

// BallotCount 已投出提名的人数
func (n *Nominations) BallotCount() int {
	return len(n.cast)
}

// Clone 深拷贝
func (n *Nominations) Clone() *Nominations {
	c := NewNominations()
	if n == nil {
		return c
	}
	c.order = slices.Clone(n.order)
	for k, v := range n.voters {
		c.voters[k] = slices.Clone(v)
	}
	for k, v := range n.cast {
		c.cast[k] = v
	}
	return c
}

type nominationEntry struct {
	NomineeID string   `json:"nominee_id"`
	Voters    []string `json:"voters"`
}

// MarshalJSON 按提名顺序输出
func (n *Nominations) MarshalJSON() ([]byte, error) {
	entries := make([]nominationEntry, 0, len(n.order))
	for _, id := range n.order {
		entries = append(entries, nominationEntry{NomineeID: id, Voters: n.voters[id]})
	}
	return json.Marshal(entries)
}

// UnmarshalJSON 按输出顺序恢复提名记录
func (n *Nominations) UnmarshalJSON(data []byte) error {
	var entries []nominationEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	*n = *NewNominations()
	for _, e := range entries {
		for _, v := range e.Voters {
			n.Nominate(v, e.NomineeID)
		}
	}
	return nil
}

// Death 一次死亡记录
type Death struct {
	PlayerID string    `json:"player_id"`
	Cause    KillCause `json:"cause"`
}

// Investigation 查验结果，只发给查验者
type Investigation struct {
	ActorID  string `json:"actor_id"`
	TargetID string `json:"target_id"`
	Team     Team   `json:"team"`
}

// Reveal 公开的身份
type Reveal struct {
	TargetID string `json:"target_id"`
	Role     RoleID `json:"role"`
}

// NightOutcome 夜晚结算结果
type NightOutcome struct {
	Deaths         []Death         `json:"deaths"`
	Investigations []Investigation `json:"investigations,omitempty"`
	Blocked        []string        `json:"blocked,omitempty"`
	Protected      []string        `json:"protected,omitempty"`
	Reveals        []Reveal        `json:"reveals,omitempty"`
}

// Clone 深拷贝
func (o *NightOutcome) Clone() *NightOutcome {
	if o == nil {
		return nil
	}
	return &NightOutcome{
		Deaths:         slices.Clone(o.Deaths),
		Investigations: slices.Clone(o.Investigations),
		Blocked:        slices.Clone(o.Blocked),
		Protected:      slices.Clone(o.Protected),
		Reveals:        slices.Clone(o.Reveals),
	}
}

// WinCondition 胜负结果，支持多个胜利方同时成立
type WinCondition struct {
	WinningTeams   []Team   `json:"winning_teams"`
	NeutralWinners []string `json:"neutral_winners,omitempty"`
}

// HasWinner 是否已有胜利方
func (w *WinCondition) HasWinner() bool {
	return w != nil && (len(w.WinningTeams) > 0 || len(w.NeutralWinners) > 0)
}

// Clone 深拷贝
func (w *WinCondition) Clone() *WinCondition {
	if w == nil {
		return nil
	}
	return &WinCondition{
		WinningTeams:   slices.Clone(w.WinningTeams),
		NeutralWinners: slices.Clone(w.NeutralWinners),
	}
}

// RoomState 一局游戏的完整状态，只由所属的 GameController 修改
type RoomState struct {
	RoomID         string                 `json:"room_id"`
	ModeratorID    string                 `json:"moderator_id"`
	Phase          Phase                  `json:"phase"`
	Round          int                    `json:"round"`
	DayNumber      int                    `json:"day_number"`
	TimeLeft       int                    `json:"time_left"`
	Players        []Player               `json:"players"`
	Nominations    *Nominations           `json:"nominations"`
	NomineeID      string                 `json:"nominee_id,omitempty"`
	ExecutionVotes map[string]bool        `json:"execution_votes"`
	NightActions   map[string]NightAction `json:"night_actions"`
	LastNight      *NightOutcome          `json:"last_night,omitempty"`
	WinCondition   *WinCondition          `json:"win_condition,omitempty"`
	SkipRequested  bool                   `json:"skip_requested"`
	IsStarted      bool                   `json:"is_started"`
	Rematch        []string               `json:"rematch,omitempty"`
}

// NewRoomState 创建等待阶段的房间状态
func NewRoomState(roomID, moderatorID string) *RoomState {
	return &RoomState{
		RoomID:         roomID,
		ModeratorID:    moderatorID,
		Phase:          PhaseWaiting,
		Players:        make([]Player, 0),
		Nominations:    NewNominations(),
		ExecutionVotes: make(map[string]bool),
		NightActions:   make(map[string]NightAction),
	}
}

// FindPlayer 查找玩家，返回可修改的指针
func (s *RoomState) FindPlayer(playerID string) *Player {
	for i := range s.Players {
		if s.Players[i].ID == playerID {
			return &s.Players[i]
		}
	}
	return nil
}

// JoinIndex 玩家的加入顺序，不存在时返回 -1
func (s *RoomState) JoinIndex(playerID string) int {
	return slices.IndexFunc(s.Players, func(p Player) bool { return p.ID == playerID })
}

// AlivePlayers 存活玩家，保持加入顺序
func (s *RoomState) AlivePlayers() []Player {
	alive := make([]Player, 0, len(s.Players))
	for _, p := range s.Players {
		if p.Alive {
			alive = append(alive, p)
		}
	}
	return alive
}

// Clone 深拷贝，用于广播快照
func (s *RoomState) Clone() *RoomState {
	c := *s
	c.Players = make([]Player, len(s.Players))
	for i, p := range s.Players {
		if p.DeathRound != nil {
			r := *p.DeathRound
			p.DeathRound = &r
		}
		if p.KilledBy != nil {
			k := *p.KilledBy
			p.KilledBy = &k
		}
		c.Players[i] = p
	}
	c.Nominations = s.Nominations.Clone()
	c.ExecutionVotes = make(map[string]bool, len(s.ExecutionVotes))
	for k, v := range s.ExecutionVotes {
		c.ExecutionVotes[k] = v
	}
	c.NightActions = make(map[string]NightAction, len(s.NightActions))
	for k, v := range s.NightActions {
		c.NightActions[k] = v
	}
	c.LastNight = s.LastNight.Clone()
	c.WinCondition = s.WinCondition.Clone()
	c.Rematch = slices.Clone(s.Rematch)
	return &c
}

// RedactFor 返回某个观察者可见的快照
// 游戏结束前隐藏他人身份（死者与黑手党同伴除外）、他人夜晚行动和查验结果
func (s *RoomState) RedactFor(viewerID string) *RoomState {
	c := s.Clone()
	if c.Phase == PhaseEnded {
		return c
	}

	var viewer *Player
	if p := c.FindPlayer(viewerID); p != nil {
		v := *p
		viewer = &v
	}

	for i := range c.Players {
		p := &c.Players[i]
		if p.ID == viewerID || !p.Alive {
			continue
		}
		if viewer != nil && viewer.Team == TeamMafia && p.Team == TeamMafia {
			continue
		}
		p.Role = ""
		p.Team = ""
	}

	actions := make(map[string]NightAction)
	if a, ok := c.NightActions[viewerID]; ok {
		actions[viewerID] = a
	}
	c.NightActions = actions

	if c.LastNight != nil {
		var mine []Investigation
		for _, inv := range c.LastNight.Investigations {
			if inv.ActorID == viewerID {
				mine = append(mine, inv)
			}
		}
		c.LastNight.Investigations = mine
		c.LastNight.Protected = nil
		c.LastNight.Blocked = slices.DeleteFunc(c.LastNight.Blocked, func(id string) bool { return id != viewerID })
	}
	return c
}
