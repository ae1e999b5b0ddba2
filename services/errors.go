package services

import (
	"errors"
	"fmt"

	"github.com/qianlnk/mafia/models"
)

var (
	ErrRoomNotFound     = errors.New("房间不存在")
	ErrRoomFull         = errors.New("房间已满")
	ErrGameInProgress   = errors.New("游戏正在进行中")
	ErrDuplicatePlayer  = errors.New("玩家已在房间中")
	ErrRoomHalted       = errors.New("房间已因内部错误停止")
	ErrGameOver         = errors.New("游戏已结束")
	ErrIllegalPhase     = errors.New("当前阶段无法执行该动作")
	ErrUnknownAction    = errors.New("未知的动作类型")
	ErrUnknownPlayer    = errors.New("玩家不存在")
	ErrDeadPlayer       = errors.New("玩家已死亡")
	ErrUnknownTarget    = errors.New("目标玩家不存在")
	ErrDeadTarget       = errors.New("目标玩家已死亡")
	ErrInvalidTarget    = errors.New("无效的目标玩家")
	ErrNoAbility        = errors.New("该角色没有夜晚技能")
	ErrNotModerator     = errors.New("只有主持人可以执行该动作")
	ErrNotEnoughPlayers = errors.New("玩家人数不足")
	ErrMissingVote      = errors.New("缺少表决结果")
)

// ActionError 被拒绝的动作，状态不会改变
type ActionError struct {
	PlayerID string
	Kind     models.ActionKind
	Phase    models.Phase
	Err      error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("动作 %s 被拒绝 (玩家 %s, 阶段 %s): %v", e.Kind, e.PlayerID, e.Phase, e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

// InvariantViolation 状态出现了不可能的数据，房间会被停止
type InvariantViolation struct {
	RoomID string
	Phase  models.Phase
	Detail string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("房间 %s 在阶段 %s 违反不变量: %s", e.RoomID, e.Phase, e.Detail)
}
