package services

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/qianlnk/mafia/config"
	"github.com/qianlnk/mafia/logger"
	"github.com/qianlnk/mafia/models"
)

// ResultArchive 对局结束后的结果存档
type ResultArchive interface {
	SaveResult(ctx context.Context, final *models.RoomState) error
}

// managedRoom 房间元信息与其控制器
type managedRoom struct {
	name       string
	createdAt  int64
	controller *GameController
	bots       []*AIPlayer
}

// RoomManager 房间管理器：显式持有房间ID到控制器的映射
type RoomManager struct {
	rooms       map[string]*managedRoom
	roles       *RoleRegistry
	table       *PhaseTable
	game        config.GameConfig
	broadcaster Broadcaster
	archive     ResultArchive
	log         zerolog.Logger
	mutex       sync.RWMutex
}

// NewRoomManager 创建房间管理器，启动时校验牌组配置
func NewRoomManager(game config.GameConfig, roles *RoleRegistry, table *PhaseTable, broadcaster Broadcaster, archive ResultArchive, base zerolog.Logger) (*RoomManager, error) {
	for n := game.MinPlayers; n <= game.MaxPlayers; n++ {
		if _, err := roles.Deck(n, game.DeckRoles()); err != nil {
			return nil, err
		}
	}

	return &RoomManager{
		rooms:       make(map[string]*managedRoom),
		roles:       roles,
		table:       table,
		game:        game,
		broadcaster: broadcaster,
		archive:     archive,
		log:         logger.Component(base, "room_manager"),
	}, nil
}

// generateID 生成唯一ID
func generateID() string {
	return uuid.NewString()
}

func (rm *RoomManager) newController(roomID, moderatorID string) *GameController {
	return NewGameController(roomID, moderatorID, ControllerOptions{
		Roles:       rm.roles,
		Table:       rm.table,
		Game:        rm.game,
		Broadcaster: rm.broadcaster,
		Logger:      rm.log,
		OnGameEnd:   rm.archiveResult,
	})
}

func (rm *RoomManager) archiveResult(final *models.RoomState) {
	if rm.archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rm.archive.SaveResult(ctx, final); err != nil {
		rm.log.Error().Err(err).Str("room", final.RoomID).Msg("保存对局结果失败")
	}
}

// CreateRoom 创建新房间，moderatorID 为空时生成一个主持人ID
func (rm *RoomManager) CreateRoom(name, moderatorID string) *models.Room {
	if moderatorID == "" {
		moderatorID = generateID()
	}
	roomID := generateID()

	room := &managedRoom{
		name:       name,
		createdAt:  time.Now().Unix(),
		controller: rm.newController(roomID, moderatorID),
	}

	rm.mutex.Lock()
	rm.rooms[roomID] = room
	rm.mutex.Unlock()

	rm.log.Info().Str("room", roomID).Str("name", name).Msg("房间已创建")
	return rm.describe(roomID, room)
}

func (rm *RoomManager) describe(roomID string, room *managedRoom) *models.Room {
	snap := rm.controllerOf(room).Snapshot()
	return &models.Room{
		ID:          roomID,
		Name:        room.name,
		ModeratorID: snap.ModeratorID,
		Players:     len(snap.Players),
		MaxPlayers:  rm.game.MaxPlayers,
		MinPlayers:  rm.game.MinPlayers,
		Phase:       snap.Phase,
		GameStarted: snap.IsStarted,
		CreatedAt:   room.createdAt,
	}
}

func (rm *RoomManager) get(roomID string) (*managedRoom, bool) {
	rm.mutex.RLock()
	defer rm.mutex.RUnlock()
	room, ok := rm.rooms[roomID]
	return room, ok
}

// controllerOf 再来一局会替换控制器，读取时需要持锁
func (rm *RoomManager) controllerOf(room *managedRoom) *GameController {
	rm.mutex.RLock()
	defer rm.mutex.RUnlock()
	return room.controller
}

// GetRoom 获取房间信息
func (rm *RoomManager) GetRoom(roomID string) (*models.Room, error) {
	room, ok := rm.get(roomID)
	if !ok {
		return nil, ErrRoomNotFound
	}
	return rm.describe(roomID, room), nil
}

// ListRooms 按创建时间列出所有房间
func (rm *RoomManager) ListRooms() []*models.Room {
	rm.mutex.RLock()
	ids := make([]string, 0, len(rm.rooms))
	rooms := make(map[string]*managedRoom, len(rm.rooms))
	for id, room := range rm.rooms {
		ids = append(ids, id)
		rooms[id] = room
	}
	rm.mutex.RUnlock()

	list := make([]*models.Room, 0, len(ids))
	for _, id := range ids {
		list = append(list, rm.describe(id, rooms[id]))
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt != list[j].CreatedAt {
			return list[i].CreatedAt < list[j].CreatedAt
		}
		return list[i].ID < list[j].ID
	})
	return list
}

// GetGameController 获取游戏控制器
func (rm *RoomManager) GetGameController(roomID string) (*GameController, bool) {
	room, ok := rm.get(roomID)
	if !ok {
		return nil, false
	}
	return rm.controllerOf(room), true
}

// JoinRoom 加入房间，playerID 为空时生成新ID，返回玩家ID
func (rm *RoomManager) JoinRoom(roomID, playerID, name string) (string, error) {
	room, ok := rm.get(roomID)
	if !ok {
		return "", ErrRoomNotFound
	}
	if playerID == "" {
		playerID = generateID()
	}
	if err := rm.controllerOf(room).Join(playerID, name); err != nil {
		return "", err
	}
	return playerID, nil
}

// GetPlayer 以 viewerID 的视角获取房间中的玩家信息
func (rm *RoomManager) GetPlayer(roomID, playerID, viewerID string) (*models.Player, error) {
	room, ok := rm.get(roomID)
	if !ok {
		return nil, ErrRoomNotFound
	}
	snap := rm.controllerOf(room).SnapshotFor(viewerID)
	p := snap.FindPlayer(playerID)
	if p == nil {
		return nil, ErrUnknownPlayer
	}
	return p, nil
}

// Submit 把玩家意图交给房间控制器，并处理再来一局与房间销毁
func (rm *RoomManager) Submit(roomID string, intent models.Intent) error {
	room, ok := rm.get(roomID)
	if !ok {
		return ErrRoomNotFound
	}
	gc := rm.controllerOf(room)
	if err := gc.SubmitAction(intent); err != nil {
		return err
	}

	switch intent.Kind {
	case models.ActionRematch:
		if gc.RematchAgreed() {
			rm.rematch(roomID, room, gc)
		}
	case models.ActionLeave:
		if gc.EveryoneLeft() {
			rm.DestroyRoom(roomID)
		}
	}
	return nil
}

// rematch 用同一名单创建全新的房间状态
func (rm *RoomManager) rematch(roomID string, room *managedRoom, old *GameController) {
	next := rm.newController(roomID, old.ModeratorID())
	for _, p := range old.Roster() {
		if err := next.Join(p.ID, p.Name); err != nil {
			rm.log.Warn().Err(err).Str("room", roomID).Str("player", p.ID).Msg("再来一局时加入玩家失败")
		}
	}

	rm.mutex.Lock()
	if current, ok := rm.rooms[roomID]; ok && current.controller == old {
		current.controller = next
	} else {
		rm.mutex.Unlock()
		next.Close()
		return
	}
	rm.mutex.Unlock()
	old.Close()

	rm.mutex.RLock()
	for _, bot := range room.bots {
		bot.reset()
	}
	rm.mutex.RUnlock()

	rm.log.Info().Str("room", roomID).Msg("再来一局")
	if rm.broadcaster != nil {
		rm.broadcaster.Publish(models.Event{Type: models.EventRematch, RoomID: roomID, State: next.Snapshot()})
	}
}

// AddBots 在等待阶段向房间加入 n 个托管玩家，返回它们的ID
func (rm *RoomManager) AddBots(roomID string, n int) ([]string, error) {
	room, ok := rm.get(roomID)
	if !ok {
		return nil, ErrRoomNotFound
	}

	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		rm.mutex.RLock()
		seq := len(room.bots) + 1
		rm.mutex.RUnlock()

		seed := time.Now().UnixNano()
		if rm.game.RNGSeed != 0 {
			seed = rm.game.RNGSeed + int64(seq)
		}
		bot := NewAIPlayer(generateID(), fmt.Sprintf("机器人%d", seq), rand.New(rand.NewSource(seed)))
		if err := rm.controllerOf(room).Join(bot.ID, bot.Name); err != nil {
			return ids, err
		}

		rm.mutex.Lock()
		room.bots = append(room.bots, bot)
		rm.mutex.Unlock()
		ids = append(ids, bot.ID)
	}
	rm.log.Info().Str("room", roomID).Int("bots", len(ids)).Msg("已加入托管玩家")
	return ids, nil
}

// driveBots 让房间内的托管玩家各自行动一次
func (rm *RoomManager) driveBots(roomID string) {
	room, ok := rm.get(roomID)
	if !ok {
		return
	}
	rm.mutex.RLock()
	bots := append([]*AIPlayer(nil), room.bots...)
	gc := room.controller
	rm.mutex.RUnlock()

	for _, bot := range bots {
		view := gc.SnapshotFor(bot.ID)
		intent, ok := bot.DecideAction(view, gc.AvailableActions(bot.ID), rm.roles)
		if !ok {
			continue
		}
		if err := rm.Submit(roomID, intent); err != nil {
			rm.log.Debug().Err(err).Str("room", roomID).Str("bot", bot.ID).Msg("托管玩家动作被拒绝")
		}
		// 动作可能触发再来一局或销毁房间
		if room, ok = rm.get(roomID); !ok {
			return
		}
		rm.mutex.RLock()
		gc = room.controller
		rm.mutex.RUnlock()
	}
}

// DestroyRoom 销毁房间
func (rm *RoomManager) DestroyRoom(roomID string) {
	rm.mutex.Lock()
	room, ok := rm.rooms[roomID]
	delete(rm.rooms, roomID)
	rm.mutex.Unlock()

	if ok {
		rm.controllerOf(room).Close()
		rm.log.Info().Str("room", roomID).Msg("房间已销毁")
	}
}

// TickAll 推进所有房间的逻辑时钟，房间之间互不影响
func (rm *RoomManager) TickAll(elapsed int) {
	rm.mutex.RLock()
	controllers := make([]*GameController, 0, len(rm.rooms))
	for _, room := range rm.rooms {
		controllers = append(controllers, room.controller)
	}
	rm.mutex.RUnlock()

	var wg sync.WaitGroup
	for _, gc := range controllers {
		wg.Add(1)
		go func(gc *GameController) {
			defer wg.Done()
			gc.Tick(elapsed)
			rm.driveBots(gc.RoomID())
		}(gc)
	}
	wg.Wait()
}

// Run 每秒推进一次时钟，直到 ctx 结束
func (rm *RoomManager) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			elapsed := int(now.Sub(last) / time.Second)
			if elapsed <= 0 {
				continue
			}
			last = last.Add(time.Duration(elapsed) * time.Second)
			rm.TickAll(elapsed)
		}
	}
}

// Close 销毁所有房间
func (rm *RoomManager) Close() {
	rm.mutex.Lock()
	rooms := rm.rooms
	rm.rooms = make(map[string]*managedRoom)
	rm.mutex.Unlock()

	for _, room := range rooms {
		room.controller.Close()
	}
}
