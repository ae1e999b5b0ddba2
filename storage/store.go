package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/qianlnk/mafia/models"
)

//go:embed schema.sql
var schema string

const timeFormat = time.RFC3339Nano

// PlayerFate 玩家在对局结束时的身份与结局
type PlayerFate struct {
	PlayerID   string            `json:"player_id"`
	Name       string            `json:"name"`
	Role       models.RoleID     `json:"role"`
	Team       models.Team       `json:"team"`
	Alive      bool              `json:"alive"`
	DeathRound *int              `json:"death_round,omitempty"`
	KilledBy   *models.KillCause `json:"killed_by,omitempty"`
}

// GameResult 一局游戏的最终摘要
type GameResult struct {
	ID             int64         `json:"id"`
	RoomID         string        `json:"room_id"`
	WinningTeams   []models.Team `json:"winning_teams"`
	NeutralWinners []string      `json:"neutral_winners"`
	DayNumber      int           `json:"day_number"`
	Round          int           `json:"round"`
	EndedAt        time.Time     `json:"ended_at"`
	Players        []PlayerFate  `json:"players"`
}

// Store 基于 SQLite 的对局结果存档
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open 打开 path 处的数据库并建表
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("storage path is required")
	}

	dsn := filepath.Clean(path) + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// SQLite 只允许一个写者
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	if err := s.InitSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// InitSchema 执行内嵌的建表语句，可重复执行
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// Close 关闭数据库
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveResult 保存已结束对局的摘要
func (s *Store) SaveResult(ctx context.Context, final *models.RoomState) error {
	if final == nil {
		return errors.New("final state is required")
	}
	if final.Phase != models.PhaseEnded {
		return fmt.Errorf("room %s has not ended (phase %s)", final.RoomID, final.Phase)
	}

	teams := []models.Team{}
	neutrals := []string{}
	if final.WinCondition != nil {
		teams = append(teams, final.WinCondition.WinningTeams...)
		neutrals = append(neutrals, final.WinCondition.NeutralWinners...)
	}
	teamsJSON, err := json.Marshal(teams)
	if err != nil {
		return fmt.Errorf("marshal winning teams: %w", err)
	}
	neutralsJSON, err := json.Marshal(neutrals)
	if err != nil {
		return fmt.Errorf("marshal neutral winners: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO game_results (room_id, winning_teams, neutral_winners, day_number, round, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		final.RoomID, string(teamsJSON), string(neutralsJSON), final.DayNumber, final.Round,
		s.now().UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("insert game result: %w", err)
	}
	resultID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("result id: %w", err)
	}

	for seat, p := range final.Players {
		var deathRound sql.NullInt64
		if p.DeathRound != nil {
			deathRound = sql.NullInt64{Int64: int64(*p.DeathRound), Valid: true}
		}
		var killedBy sql.NullString
		if p.KilledBy != nil {
			killedBy = sql.NullString{String: string(*p.KilledBy), Valid: true}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO game_result_players (result_id, seat, player_id, name, role, team, alive, death_round, killed_by)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			resultID, seat, p.ID, p.Name, string(p.Role), string(p.Team), p.Alive, deathRound, killedBy,
		); err != nil {
			return fmt.Errorf("insert player %s: %w", p.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit game result: %w", err)
	}
	return nil
}

// ListResults 按结束时间倒序列出最近的对局
func (s *Store) ListResults(ctx context.Context, limit int) ([]GameResult, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, room_id, winning_teams, neutral_winners, day_number, round, ended_at
		 FROM game_results ORDER BY ended_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query game results: %w", err)
	}
	defer rows.Close()

	results := []GameResult{}
	for rows.Next() {
		var (
			r                  GameResult
			teams, neutrals, t string
		)
		if err := rows.Scan(&r.ID, &r.RoomID, &teams, &neutrals, &r.DayNumber, &r.Round, &t); err != nil {
			return nil, fmt.Errorf("scan game result: %w", err)
		}
		if err := json.Unmarshal([]byte(teams), &r.WinningTeams); err != nil {
			return nil, fmt.Errorf("decode winning teams: %w", err)
		}
		if err := json.Unmarshal([]byte(neutrals), &r.NeutralWinners); err != nil {
			return nil, fmt.Errorf("decode neutral winners: %w", err)
		}
		if r.EndedAt, err = time.Parse(timeFormat, t); err != nil {
			return nil, fmt.Errorf("parse ended_at: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for i := range results {
		players, err := s.players(ctx, results[i].ID)
		if err != nil {
			return nil, err
		}
		results[i].Players = players
	}
	return results, nil
}

func (s *Store) players(ctx context.Context, resultID int64) ([]PlayerFate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT player_id, name, role, team, alive, death_round, killed_by
		 FROM game_result_players WHERE result_id = ? ORDER BY seat`, resultID)
	if err != nil {
		return nil, fmt.Errorf("query players: %w", err)
	}
	defer rows.Close()

	players := []PlayerFate{}
	for rows.Next() {
		var (
			p          PlayerFate
			role, team string
			deathRound sql.NullInt64
			killedBy   sql.NullString
		)
		if err := rows.Scan(&p.PlayerID, &p.Name, &role, &team, &p.Alive, &deathRound, &killedBy); err != nil {
			return nil, fmt.Errorf("scan player: %w", err)
		}
		p.Role = models.RoleID(role)
		p.Team = models.Team(team)
		if deathRound.Valid {
			r := int(deathRound.Int64)
			p.DeathRound = &r
		}
		if killedBy.Valid {
			c := models.KillCause(killedBy.String)
			p.KilledBy = &c
		}
		players = append(players, p)
	}
	return players, rows.Err()
}
