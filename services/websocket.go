package services

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/qianlnk/mafia/logger"
	"github.com/qianlnk/mafia/models"
)

const (
	writeWait      = 5 * time.Second
	pongWait       = 45 * time.Second
	pingPeriod     = 15 * time.Second
	maxMessageSize = 64 * 1024
	sendQueueSize  = 64
)

// Message WebSocket消息结构
type Message struct {
	Type    string          `json:"type"`
	RoomID  string          `json:"room_id,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
}

// client 一个 WebSocket 连接
type client struct {
	viewerID string
	roomID   string
	conn     *websocket.Conn
	send     chan []byte
	limiter  *rate.Limiter
	done     chan struct{}
	once     sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// WebSocketManager WebSocket连接管理器，实现 Broadcaster
type WebSocketManager struct {
	clients     map[string]*client         // viewerID -> client
	rooms       map[string]map[string]bool // roomID -> viewerIDs
	roomManager *RoomManager
	limit       rate.Limit
	burst       int
	log         zerolog.Logger
	mutex       sync.RWMutex
}

// NewWebSocketManager 创建WebSocket管理器实例
func NewWebSocketManager(actionsPerSecond float64, burst int, base zerolog.Logger) *WebSocketManager {
	return &WebSocketManager{
		clients: make(map[string]*client),
		rooms:   make(map[string]map[string]bool),
		limit:   rate.Limit(actionsPerSecond),
		burst:   burst,
		log:     logger.Component(base, "websocket"),
	}
}

// SetRoomManager 设置房间管理器实例
func (wm *WebSocketManager) SetRoomManager(rm *RoomManager) {
	wm.roomManager = rm
}

// RegisterConnection 注册新的WebSocket连接，同一观察者的旧连接会被关闭
func (wm *WebSocketManager) RegisterConnection(roomID, viewerID string, conn *websocket.Conn) {
	c := &client{
		viewerID: viewerID,
		roomID:   roomID,
		conn:     conn,
		send:     make(chan []byte, sendQueueSize),
		limiter:  rate.NewLimiter(wm.limit, wm.burst),
		done:     make(chan struct{}),
	}

	wm.mutex.Lock()
	if old, ok := wm.clients[viewerID]; ok {
		old.close()
		if members, ok := wm.rooms[old.roomID]; ok {
			delete(members, viewerID)
		}
	}
	wm.clients[viewerID] = c
	if _, ok := wm.rooms[roomID]; !ok {
		wm.rooms[roomID] = make(map[string]bool)
	}
	wm.rooms[roomID][viewerID] = true
	wm.mutex.Unlock()

	go wm.writePump(c)
	go wm.readPump(c)

	if gc, ok := wm.roomManager.GetGameController(roomID); ok {
		// 主持人不是玩家时这里会返回错误，忽略即可
		_ = gc.SetConnection(viewerID, models.Connected)
		wm.deliver(c, models.Event{Type: models.EventState, RoomID: roomID, State: gc.SnapshotFor(viewerID)})
	}
	wm.log.Info().Str("room", roomID).Str("viewer", viewerID).Msg("连接已注册")
}

// RemoveConnection 移除连接并标记玩家掉线，玩家仍保留在房间状态中
func (wm *WebSocketManager) RemoveConnection(c *client) {
	wm.mutex.Lock()
	current, ok := wm.clients[c.viewerID]
	if ok && current == c {
		delete(wm.clients, c.viewerID)
		if members, ok := wm.rooms[c.roomID]; ok {
			delete(members, c.viewerID)
			if len(members) == 0 {
				delete(wm.rooms, c.roomID)
			}
		}
	}
	wm.mutex.Unlock()
	c.close()

	if !ok || current != c {
		return
	}
	if gc, exists := wm.roomManager.GetGameController(c.roomID); exists {
		_ = gc.SetConnection(c.viewerID, models.Disconnected)
	}
	wm.log.Info().Str("room", c.roomID).Str("viewer", c.viewerID).Msg("连接已断开")
}

// Publish 投递事件；单个慢连接只会丢消息，不会阻塞其他连接或游戏进程
func (wm *WebSocketManager) Publish(event models.Event) {
	wm.mutex.RLock()
	var targets []*client
	if event.Recipient != "" {
		if c, ok := wm.clients[event.Recipient]; ok && c.roomID == event.RoomID {
			targets = append(targets, c)
		}
	} else {
		for viewerID := range wm.rooms[event.RoomID] {
			if c, ok := wm.clients[viewerID]; ok {
				targets = append(targets, c)
			}
		}
	}
	wm.mutex.RUnlock()

	for _, c := range targets {
		wm.deliver(c, event)
	}
}

// deliver 按观察者身份脱敏后放入发送队列
func (wm *WebSocketManager) deliver(c *client, event models.Event) {
	if event.State != nil {
		event.State = event.State.RedactFor(c.viewerID)
	}
	data, err := json.Marshal(event)
	if err != nil {
		wm.log.Error().Err(err).Msg("消息序列化失败")
		return
	}
	select {
	case c.send <- data:
	case <-c.done:
	default:
		wm.log.Warn().Str("viewer", c.viewerID).Msg("发送队列已满，丢弃消息")
	}
}

func (wm *WebSocketManager) sendError(c *client, err error) {
	data, _ := json.Marshal(map[string]any{"type": "error", "message": err.Error()})
	select {
	case c.send <- data:
	default:
	}
}

func (wm *WebSocketManager) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				wm.log.Debug().Err(err).Str("viewer", c.viewerID).Msg("写入失败")
				wm.RemoveConnection(c)
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				wm.log.Debug().Err(err).Str("viewer", c.viewerID).Msg("心跳失败")
				wm.RemoveConnection(c)
				return
			}
		}
	}
}

// readPump 处理接收到的WebSocket消息
func (wm *WebSocketManager) readPump(c *client) {
	defer wm.RemoveConnection(c)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, p, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wm.log.Debug().Err(err).Str("viewer", c.viewerID).Msg("读取消息失败")
			}
			return
		}

		if !c.limiter.Allow() {
			wm.sendError(c, errors.New("操作过于频繁"))
			continue
		}

		var msg Message
		if err := json.Unmarshal(p, &msg); err != nil {
			wm.sendError(c, errors.New("无法解析消息"))
			continue
		}

		switch msg.Type {
		case "game_action":
			var intent models.Intent
			if err := json.Unmarshal(msg.Content, &intent); err != nil {
				wm.sendError(c, errors.New("无效的动作内容"))
				continue
			}
			// 动作发起者以连接身份为准
			intent.PlayerID = c.viewerID
			if err := wm.roomManager.Submit(c.roomID, intent); err != nil {
				wm.sendError(c, err)
			}
		default:
			wm.sendError(c, errors.New("未知的消息类型: "+msg.Type))
		}
	}
}

// ConnectedViewers 房间内在线的观察者数量
func (wm *WebSocketManager) ConnectedViewers(roomID string) int {
	wm.mutex.RLock()
	defer wm.mutex.RUnlock()
	return len(wm.rooms[roomID])
}
