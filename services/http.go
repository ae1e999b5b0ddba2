package services

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strconv"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/qianlnk/mafia/logger"
	"github.com/qianlnk/mafia/models"
	"github.com/qianlnk/mafia/storage"
)

// ResultLister 查询历史对局
type ResultLister interface {
	ListResults(ctx context.Context, limit int) ([]storage.GameResult, error)
}

// Server HTTP 与 WebSocket 入口
type Server struct {
	rooms          *RoomManager
	sockets        *WebSocketManager
	results        ResultLister
	allowedOrigins []string
	upgrader       websocket.Upgrader
	log            zerolog.Logger
}

// NewServer 创建 HTTP 服务，results 可以为 nil
func NewServer(rooms *RoomManager, sockets *WebSocketManager, results ResultLister, allowedOrigins []string, base zerolog.Logger) *Server {
	s := &Server{
		rooms:          rooms,
		sockets:        sockets,
		results:        results,
		allowedOrigins: allowedOrigins,
		log:            logger.Component(base, "http"),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.originAllowed(origin)
		},
	}
	return s
}

func (s *Server) originAllowed(origin string) bool {
	return slices.Contains(s.allowedOrigins, "*") || slices.Contains(s.allowedOrigins, origin)
}

// Router 注册所有路由
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	corsConfig := cors.Config{
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Upgrade", "Connection", "Sec-WebSocket-Key", "Sec-WebSocket-Version"},
	}
	if slices.Contains(s.allowedOrigins, "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = s.allowedOrigins
		corsConfig.AllowCredentials = true
	}
	r.Use(cors.New(corsConfig))

	r.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "healthy") })
	r.GET("/ws", s.serveWS)

	// API路由组
	api := r.Group("/api")
	{
		api.POST("/rooms", s.createRoom)
		api.GET("/rooms", s.listRooms)
		api.GET("/rooms/:id", s.getRoomInfo)
		api.GET("/rooms/:id/state", s.getRoomState)
		api.POST("/rooms/:id/join", s.joinRoom)
		api.POST("/rooms/:id/actions", s.submitAction)
		api.POST("/rooms/:id/bots", s.addBots)
		api.GET("/rooms/:id/players/:playerId", s.getPlayerInfo)
		api.GET("/results", s.listResults)
	}
	return r
}

// statusFor 把业务错误映射为 HTTP 状态码
func statusFor(err error) int {
	var iv *InvariantViolation
	switch {
	case errors.Is(err, ErrRoomNotFound), errors.Is(err, ErrUnknownPlayer):
		return http.StatusNotFound
	case errors.Is(err, ErrRoomFull), errors.Is(err, ErrGameInProgress),
		errors.Is(err, ErrDuplicatePlayer), errors.Is(err, ErrRoomHalted), errors.Is(err, ErrGameOver):
		return http.StatusConflict
	case errors.Is(err, ErrNotModerator):
		return http.StatusForbidden
	case errors.As(err, &iv):
		return http.StatusInternalServerError
	}
	var ae *ActionError
	if errors.As(err, &ae) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", c.FullPath()).Msg("请求处理失败")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (s *Server) createRoom(c *gin.Context) {
	var req struct {
		Name        string `json:"name" binding:"required"`
		ModeratorID string `json:"moderator_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room := s.rooms.CreateRoom(req.Name, req.ModeratorID)
	c.JSON(http.StatusCreated, room)
}

func (s *Server) listRooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": s.rooms.ListRooms()})
}

func (s *Server) getRoomInfo(c *gin.Context) {
	room, err := s.rooms.GetRoom(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

// getRoomState 以 viewer 的视角返回房间状态
func (s *Server) getRoomState(c *gin.Context) {
	gc, ok := s.rooms.GetGameController(c.Param("id"))
	if !ok {
		s.fail(c, ErrRoomNotFound)
		return
	}
	viewer := c.Query("viewer")
	c.JSON(http.StatusOK, gin.H{
		"state":   gc.SnapshotFor(viewer),
		"actions": gc.AvailableActions(viewer),
	})
}

func (s *Server) joinRoom(c *gin.Context) {
	var req struct {
		PlayerID string `json:"player_id"`
		Name     string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	playerID, err := s.rooms.JoinRoom(c.Param("id"), req.PlayerID, req.Name)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"player_id": playerID})
}

func (s *Server) submitAction(c *gin.Context) {
	var intent models.Intent
	if err := c.ShouldBindJSON(&intent); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if intent.PlayerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "player_id is required"})
		return
	}

	if err := s.rooms.Submit(c.Param("id"), intent); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "动作执行成功"})
}

// addBots 主持人在等待阶段补充托管玩家
func (s *Server) addBots(c *gin.Context) {
	var req struct {
		ModeratorID string `json:"moderator_id" binding:"required"`
		Count       int    `json:"count" binding:"required,min=1,max=30"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	room, err := s.rooms.GetRoom(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if room.ModeratorID != req.ModeratorID {
		s.fail(c, ErrNotModerator)
		return
	}

	ids, err := s.rooms.AddBots(room.ID, req.Count)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "player_ids": ids})
		return
	}
	c.JSON(http.StatusOK, gin.H{"player_ids": ids})
}

// getPlayerInfo 获取房间中的玩家信息，未公开的身份按 viewer 脱敏
func (s *Server) getPlayerInfo(c *gin.Context) {
	player, err := s.rooms.GetPlayer(c.Param("id"), c.Param("playerId"), c.Query("viewer"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, player)
}

func (s *Server) listResults(c *gin.Context) {
	if s.results == nil {
		c.JSON(http.StatusOK, gin.H{"results": []storage.GameResult{}})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 || limit > 100 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 100"})
		return
	}

	results, err := s.results.ListResults(c.Request.Context(), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// serveWS 升级为 WebSocket 连接，room 与 player 参数必填
func (s *Server) serveWS(c *gin.Context) {
	roomID := c.Query("room")
	playerID := c.Query("player")
	if roomID == "" || playerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少必要的连接参数"})
		return
	}
	gc, ok := s.rooms.GetGameController(roomID)
	if !ok {
		s.fail(c, ErrRoomNotFound)
		return
	}
	if playerID != gc.ModeratorID() && gc.Snapshot().FindPlayer(playerID) == nil {
		s.fail(c, ErrUnknownPlayer)
		return
	}

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("升级WebSocket连接失败")
		return
	}
	s.sockets.RegisterConnection(roomID, playerID, ws)
}
