package services

import (
	"fmt"
	"math/rand"

	"github.com/qianlnk/mafia/config"
	"github.com/qianlnk/mafia/models"
)

// RuleContext 规则求值时可见的数据
type RuleContext struct {
	State      *models.RoomState
	Roles      *RoleRegistry
	MinPlayers int
	Deck       []models.RoleID
	Rand       *rand.Rand
	// Expired 当前阶段有时长且倒计时已归零
	Expired bool
}

// over 阶段时间到或主持人要求跳过
func (c *RuleContext) over() bool {
	return c.Expired || c.State.SkipRequested
}

// Predicate 转换条件，必须是状态上的纯函数
type Predicate func(ctx *RuleContext) bool

// ApplyFunc 转换时的状态修改，与阶段切换在同一个原子步骤内执行
type ApplyFunc func(ctx *RuleContext) error

// Transition 一条有序转换规则
type Transition struct {
	Name   string
	When   Predicate
	Target models.Phase
	Apply  ApplyFunc
}

// PhaseDefinition 阶段定义
type PhaseDefinition struct {
	Phase        models.Phase
	Duration     int // 秒，0 表示不按时间推进
	LegalActions map[models.ActionKind]bool
	DefaultNext  models.Phase // 为空表示没有默认后继
	// OnEnter 进入阶段时重置缓冲区和计数器
	OnEnter func(s *models.RoomState)
}

// Allows 动作在该阶段是否合法
func (d PhaseDefinition) Allows(kind models.ActionKind) bool {
	return d.LegalActions[kind]
}

// PhaseTable 只读阶段表，多个房间共享
type PhaseTable struct {
	defs        map[models.Phase]PhaseDefinition
	transitions map[models.Phase][]Transition
}

// Definition 查询阶段定义
func (t *PhaseTable) Definition(phase models.Phase) (PhaseDefinition, bool) {
	def, ok := t.defs[phase]
	return def, ok
}

// TransitionsFrom 按声明顺序返回某阶段的转换规则
func (t *PhaseTable) TransitionsFrom(phase models.Phase) []Transition {
	return t.transitions[phase]
}

func actions(kinds ...models.ActionKind) map[models.ActionKind]bool {
	set := make(map[models.ActionKind]bool, len(kinds))
	for _, k := range kinds {
		set[k] = true
	}
	return set
}

// NewPhaseTable 按游戏配置构建标准阶段表
func NewPhaseTable(cfg config.GameConfig) (*PhaseTable, error) {
	seconds := cfg.PhaseSeconds

	defs := []PhaseDefinition{
		{Phase: models.PhaseWaiting, Duration: seconds(models.PhaseWaiting),
			LegalActions: actions(models.ActionStart, models.ActionLeave)},
		{Phase: models.PhaseStarting, Duration: seconds(models.PhaseStarting),
			LegalActions: actions(models.ActionSkip, models.ActionLeave),
			DefaultNext:  models.PhaseDay},
		{Phase: models.PhaseDay, Duration: seconds(models.PhaseDay),
			LegalActions: actions(models.ActionDiscuss, models.ActionSkip, models.ActionLeave),
			DefaultNext:  models.PhaseVoting, OnEnter: enterDay},
		{Phase: models.PhaseVoting, Duration: seconds(models.PhaseVoting),
			LegalActions: actions(models.ActionNominate, models.ActionWithdraw, models.ActionDiscuss, models.ActionSkip, models.ActionLeave),
			DefaultNext:  models.PhaseNight, OnEnter: enterVoting},
		{Phase: models.PhaseExecution, Duration: seconds(models.PhaseExecution),
			LegalActions: actions(models.ActionExecutionVote, models.ActionDiscuss, models.ActionSkip, models.ActionLeave),
			DefaultNext:  models.PhaseNight, OnEnter: enterExecution},
		{Phase: models.PhaseNight, Duration: seconds(models.PhaseNight),
			LegalActions: actions(models.ActionNight, models.ActionSkip, models.ActionLeave),
			DefaultNext:  models.PhaseNightResult, OnEnter: enterNight},
		{Phase: models.PhaseNightResult, Duration: seconds(models.PhaseNightResult),
			LegalActions: actions(models.ActionSkip, models.ActionLeave),
			DefaultNext:  models.PhaseDay},
		{Phase: models.PhaseEnded, Duration: seconds(models.PhaseEnded),
			LegalActions: actions(models.ActionRematch, models.ActionLeave)},
	}

	transitions := map[models.Phase][]Transition{
		models.PhaseWaiting: {
			{Name: "game_started", When: readyToStart, Target: models.PhaseStarting, Apply: assignRoles},
		},
		models.PhaseStarting: {
			{Name: "roles_seen", When: (*RuleContext).over, Target: models.PhaseDay},
		},
		models.PhaseDay: {
			{Name: "discussion_skipped", When: (*RuleContext).over, Target: models.PhaseVoting},
		},
		models.PhaseVoting: {
			// 先判断“有提名”，再回退到“无提名直接入夜”
			{Name: "nominee_chosen", When: all(votingDone, hasNomination), Target: models.PhaseExecution, Apply: fixNominee},
			{Name: "no_nomination", When: votingDone, Target: models.PhaseNight},
		},
		models.PhaseExecution: {
			{Name: "verdict_ends_game", When: all(executionDone, verdictEndsGame), Target: models.PhaseEnded, Apply: applyVerdict},
			{Name: "verdict", When: executionDone, Target: models.PhaseNight, Apply: applyVerdict},
		},
		models.PhaseNight: {
			{Name: "dawn", When: nightDone, Target: models.PhaseNightResult, Apply: resolveNight},
		},
		models.PhaseNightResult: {
			{Name: "game_over", When: all((*RuleContext).over, hasWinner), Target: models.PhaseEnded},
			{Name: "next_day", When: (*RuleContext).over, Target: models.PhaseDay},
		},
	}

	return buildPhaseTable(defs, transitions)
}

// buildPhaseTable 校验阶段表，格式错误时返回 ConfigurationError
func buildPhaseTable(defs []PhaseDefinition, transitions map[models.Phase][]Transition) (*PhaseTable, error) {
	t := &PhaseTable{
		defs:        make(map[models.Phase]PhaseDefinition, len(defs)),
		transitions: transitions,
	}

	for _, def := range defs {
		field := "phases." + string(def.Phase)
		if !def.Phase.Valid() {
			return nil, &config.ConfigurationError{Field: field, Reason: "未知阶段"}
		}
		if _, dup := t.defs[def.Phase]; dup {
			return nil, &config.ConfigurationError{Field: field, Reason: "阶段重复定义"}
		}
		if def.Duration < 0 {
			return nil, &config.ConfigurationError{Field: field, Reason: "时长不能为负数"}
		}
		if def.DefaultNext != "" && !def.DefaultNext.Valid() {
			return nil, &config.ConfigurationError{Field: field, Reason: fmt.Sprintf("未知默认后继 %q", def.DefaultNext)}
		}
		for kind := range def.LegalActions {
			if !kind.Valid() {
				return nil, &config.ConfigurationError{Field: field, Reason: fmt.Sprintf("未知动作 %q", kind)}
			}
		}
		t.defs[def.Phase] = def
	}

	for _, phase := range models.AllPhases {
		if _, ok := t.defs[phase]; !ok {
			return nil, &config.ConfigurationError{Field: "phases." + string(phase), Reason: "缺少阶段定义"}
		}
	}

	for _, phase := range models.AllPhases {
		d := t.defs[phase].Duration
		if phase.Untimed() && d != 0 {
			return nil, &config.ConfigurationError{Field: "phases." + string(phase), Reason: "该阶段不能按时间推进"}
		}
		if !phase.Untimed() && d == 0 {
			return nil, &config.ConfigurationError{Field: "phases." + string(phase), Reason: "计时阶段时长必须为正数"}
		}
	}

	ended := t.defs[models.PhaseEnded]
	if ended.DefaultNext != "" || len(transitions[models.PhaseEnded]) > 0 {
		return nil, &config.ConfigurationError{Field: "phases.ended", Reason: "终止阶段不能有后继"}
	}

	for from, list := range transitions {
		if _, ok := t.defs[from]; !ok {
			return nil, &config.ConfigurationError{Field: "transitions." + string(from), Reason: "未知源阶段"}
		}
		for _, tr := range list {
			field := "transitions." + string(from) + "." + tr.Name
			if tr.When == nil {
				return nil, &config.ConfigurationError{Field: field, Reason: "缺少条件"}
			}
			if !tr.Target.Valid() {
				return nil, &config.ConfigurationError{Field: field, Reason: fmt.Sprintf("未知目标阶段 %q", tr.Target)}
			}
			if tr.Target == models.PhaseWaiting || (tr.Target == models.PhaseStarting && from != models.PhaseWaiting) {
				return nil, &config.ConfigurationError{Field: field, Reason: "不能回到等待或开始阶段"}
			}
		}
	}
	for _, def := range t.defs {
		if def.DefaultNext == models.PhaseWaiting || (def.DefaultNext == models.PhaseStarting && def.Phase != models.PhaseWaiting) {
			return nil, &config.ConfigurationError{Field: "phases." + string(def.Phase), Reason: "不能回到等待或开始阶段"}
		}
	}

	return t, nil
}

func all(preds ...Predicate) Predicate {
	return func(ctx *RuleContext) bool {
		for _, p := range preds {
			if !p(ctx) {
				return false
			}
		}
		return true
	}
}
