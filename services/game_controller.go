package services

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/qianlnk/mafia/config"
	"github.com/qianlnk/mafia/logger"
	"github.com/qianlnk/mafia/models"
)

// Broadcaster 传输层，负责把事件送达房间内的玩家
type Broadcaster interface {
	Publish(event models.Event)
}

// ControllerOptions 创建控制器所需的共享依赖
type ControllerOptions struct {
	Roles       *RoleRegistry
	Table       *PhaseTable
	Game        config.GameConfig
	Broadcaster Broadcaster
	Logger      zerolog.Logger
	Rand        *rand.Rand
	// OnGameEnd 进入结束阶段时异步调用
	OnGameEnd func(final *models.RoomState)
}

// GameController 单个房间的流程控制器，独占该房间的状态
// SubmitAction / Tick / Join 由同一把锁串行化
type GameController struct {
	mu          sync.Mutex
	roomID      string
	moderatorID string
	state       *models.RoomState
	roles       *RoleRegistry
	table       *PhaseTable
	minPlayers  int
	maxPlayers  int
	deck        []models.RoleID
	rand        *rand.Rand
	halted      *InvariantViolation
	onGameEnd   func(final *models.RoomState)
	log         zerolog.Logger

	broadcaster Broadcaster
	outbox      chan models.Event
	done        chan struct{}
	closeOnce   sync.Once
}

// NewGameController 创建处于等待阶段的控制器
func NewGameController(roomID, moderatorID string, opts ControllerOptions) *GameController {
	rng := opts.Rand
	if rng == nil {
		seed := opts.Game.RNGSeed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		rng = rand.New(rand.NewSource(seed))
	}
	outboxSize := opts.Game.OutboxSize
	if outboxSize <= 0 {
		outboxSize = 256
	}

	gc := &GameController{
		roomID:      roomID,
		moderatorID: moderatorID,
		state:       models.NewRoomState(roomID, moderatorID),
		roles:       opts.Roles,
		table:       opts.Table,
		minPlayers:  opts.Game.MinPlayers,
		maxPlayers:  opts.Game.MaxPlayers,
		deck:        opts.Game.DeckRoles(),
		rand:        rng,
		onGameEnd:   opts.OnGameEnd,
		log:         logger.Component(opts.Logger, "controller").With().Str("room", roomID).Logger(),
		broadcaster: opts.Broadcaster,
		outbox:      make(chan models.Event, outboxSize),
		done:        make(chan struct{}),
	}
	if def, ok := gc.table.Definition(models.PhaseWaiting); ok {
		gc.state.TimeLeft = def.Duration
	}

	go gc.dispatch()
	return gc
}

// RoomID 房间ID
func (gc *GameController) RoomID() string {
	return gc.roomID
}

// Close 停止事件分发
func (gc *GameController) Close() {
	gc.closeOnce.Do(func() { close(gc.done) })
}

// dispatch 把事件交给传输层；传输层慢不会阻塞状态推进
func (gc *GameController) dispatch() {
	for {
		select {
		case <-gc.done:
			return
		case event := <-gc.outbox:
			if gc.broadcaster != nil {
				gc.broadcaster.Publish(event)
			}
		}
	}
}

func (gc *GameController) emit(event models.Event) {
	select {
	case gc.outbox <- event:
	default:
		gc.log.Warn().Str("event", string(event.Type)).Msg("事件队列已满，丢弃事件")
	}
}

func (gc *GameController) emitState(narration *models.Narration) {
	gc.emit(models.Event{
		Type:      models.EventState,
		RoomID:    gc.state.RoomID,
		State:     gc.state.Clone(),
		Narration: narration,
	})
}

// Join 等待阶段加入玩家
func (gc *GameController) Join(playerID, name string) error {
	gc.mu.Lock()
	defer gc.mu.Unlock()

	if gc.halted != nil {
		return ErrRoomHalted
	}
	if err := joinPlayer(gc.state, playerID, name, gc.maxPlayers); err != nil {
		return err
	}
	gc.log.Info().Str("player", playerID).Int("players", len(gc.state.Players)).Msg("玩家加入房间")
	gc.emitState(nil)
	return nil
}

// SetConnection 更新玩家连接状态，供传输层的重连逻辑使用
func (gc *GameController) SetConnection(playerID string, state models.ConnectionState) error {
	gc.mu.Lock()
	defer gc.mu.Unlock()

	p := gc.state.FindPlayer(playerID)
	if p == nil {
		return ErrUnknownPlayer
	}
	if !state.Valid() {
		return fmt.Errorf("未知连接状态 %q", state)
	}
	if p.Connection == models.Left && state != models.Connected {
		return nil
	}
	p.Connection = state
	gc.emitState(nil)
	return nil
}

// SubmitAction 校验并执行一个动作；被拒绝的动作不会改变状态
func (gc *GameController) SubmitAction(intent models.Intent) error {
	gc.mu.Lock()
	defer gc.mu.Unlock()

	s := gc.state
	reject := func(err error) error {
		gc.log.Debug().Str("player", intent.PlayerID).Str("kind", string(intent.Kind)).Err(err).Msg("动作被拒绝")
		return &ActionError{PlayerID: intent.PlayerID, Kind: intent.Kind, Phase: s.Phase, Err: err}
	}

	if gc.halted != nil {
		return reject(ErrRoomHalted)
	}
	if !intent.Kind.Valid() {
		return reject(ErrUnknownAction)
	}
	if s.WinCondition.HasWinner() && intent.Kind != models.ActionRematch && intent.Kind != models.ActionLeave {
		return reject(ErrGameOver)
	}
	def, ok := gc.table.Definition(s.Phase)
	if !ok {
		gc.halt(fmt.Sprintf("阶段 %q 没有定义", s.Phase))
		return reject(ErrRoomHalted)
	}
	if !def.Allows(intent.Kind) {
		return reject(ErrIllegalPhase)
	}
	if err := gc.validateIntent(intent); err != nil {
		return reject(err)
	}

	prev := s.Clone()
	narration, extra := gc.recordIntent(intent)
	if err := checkInvariants(prev, s, gc.roles); err != nil {
		gc.state = prev
		gc.halt(err.Error())
		return reject(ErrRoomHalted)
	}

	gc.log.Debug().Str("player", intent.PlayerID).Str("kind", string(intent.Kind)).Msg("动作已接受")
	for _, e := range extra {
		gc.emit(e)
	}
	gc.emitState(narration)

	gc.step()
	return nil
}

// Tick 推进逻辑时钟，elapsed 小于等于 0 时不做任何事
func (gc *GameController) Tick(elapsed int) {
	if elapsed <= 0 {
		return
	}

	gc.mu.Lock()
	defer gc.mu.Unlock()

	if gc.halted != nil {
		return
	}
	s := gc.state
	def, ok := gc.table.Definition(s.Phase)
	if !ok {
		gc.halt(fmt.Sprintf("阶段 %q 没有定义", s.Phase))
		return
	}

	counted := false
	if def.Duration > 0 && s.TimeLeft > 0 {
		s.TimeLeft = max(0, s.TimeLeft-elapsed)
		counted = true
	}

	if !gc.step() && counted {
		gc.emitState(nil)
	}
}

// Snapshot 完整状态的只读副本
func (gc *GameController) Snapshot() *models.RoomState {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	return gc.state.Clone()
}

// SnapshotFor 某个玩家可见的状态
func (gc *GameController) SnapshotFor(playerID string) *models.RoomState {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	return gc.state.RedactFor(playerID)
}

// Halted 房间停止的原因，正常时返回 nil
func (gc *GameController) Halted() error {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	if gc.halted == nil {
		return nil
	}
	return gc.halted
}

// RematchAgreed 是否已同意再来一局
func (gc *GameController) RematchAgreed() bool {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	return rematchAgreed(gc.state)
}

// EveryoneLeft 游戏结束后所有玩家是否都已离开
func (gc *GameController) EveryoneLeft() bool {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	return gc.state.Phase == models.PhaseEnded && everyoneLeft(gc.state)
}

// Roster 当前名单，用于再来一局
func (gc *GameController) Roster() []models.Player {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	roster := make([]models.Player, 0, len(gc.state.Players))
	for _, p := range gc.state.Players {
		if p.Connection != models.Left {
			roster = append(roster, models.Player{ID: p.ID, Name: p.Name})
		}
	}
	return roster
}

// ModeratorID 主持人ID
func (gc *GameController) ModeratorID() string {
	return gc.moderatorID
}

// ruleContext 当前状态的规则上下文
func (gc *GameController) ruleContext(state *models.RoomState, def PhaseDefinition) *RuleContext {
	return &RuleContext{
		State:      state,
		Roles:      gc.roles,
		MinPlayers: gc.minPlayers,
		Deck:       gc.deck,
		Rand:       gc.rand,
		Expired:    def.Duration > 0 && state.TimeLeft <= 0,
	}
}

// step 按声明顺序求值转换规则，最多执行一次转换，返回是否发生了转换
func (gc *GameController) step() bool {
	s := gc.state
	def, _ := gc.table.Definition(s.Phase)
	ctx := gc.ruleContext(s, def)

	var chosen *Transition
	for _, tr := range gc.table.TransitionsFrom(s.Phase) {
		matched, err := evalPredicate(tr.When, ctx)
		if err != nil {
			gc.halt(fmt.Sprintf("规则 %s 求值失败: %v", tr.Name, err))
			return false
		}
		if matched {
			chosen = &tr
			break
		}
	}

	if chosen == nil {
		if !ctx.Expired || def.DefaultNext == "" {
			return false
		}
		chosen = &Transition{Name: "timeout", Target: def.DefaultNext}
	}

	return gc.transition(*chosen)
}

// transition 在副本上执行转换，成功后整体替换状态
func (gc *GameController) transition(tr Transition) bool {
	prev := gc.state
	work := prev.Clone()
	def, _ := gc.table.Definition(prev.Phase)
	ctx := gc.ruleContext(work, def)

	if tr.Apply != nil {
		if err := runApply(tr.Apply, ctx); err != nil {
			gc.halt(fmt.Sprintf("规则 %s 执行失败: %v", tr.Name, err))
			return false
		}
	}

	next, ok := gc.table.Definition(tr.Target)
	if !ok {
		gc.halt(fmt.Sprintf("目标阶段 %q 没有定义", tr.Target))
		return false
	}
	work.Phase = tr.Target
	work.TimeLeft = next.Duration
	work.SkipRequested = false
	if next.OnEnter != nil {
		next.OnEnter(work)
	}

	if err := checkInvariants(prev, work, gc.roles); err != nil {
		gc.halt(err.Error())
		return false
	}

	gc.state = work
	gc.log.Info().
		Str("from", string(prev.Phase)).
		Str("to", string(work.Phase)).
		Str("rule", tr.Name).
		Int("round", work.Round).
		Int("day", work.DayNumber).
		Msg("阶段转换")

	gc.announce(prev, work)
	return true
}

// halt 记录不变量破坏并停止房间推进
func (gc *GameController) halt(detail string) {
	gc.halted = &InvariantViolation{RoomID: gc.state.RoomID, Phase: gc.state.Phase, Detail: detail}
	gc.log.Error().Str("phase", string(gc.state.Phase)).Msg(gc.halted.Error())
	gc.emit(models.Event{
		Type:    models.EventHalted,
		RoomID:  gc.state.RoomID,
		Payload: map[string]any{"detail": detail},
	})
}

func evalPredicate(p Predicate, ctx *RuleContext) (matched bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p(ctx), nil
}

func runApply(a ApplyFunc, ctx *RuleContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return a(ctx)
}
