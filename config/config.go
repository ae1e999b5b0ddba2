package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/qianlnk/mafia/models"
)

// ConfigurationError 启动时发现的配置错误，属于致命错误
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("配置错误 %s: %s", e.Field, e.Reason)
}

// IsConfigurationError 判断是否为配置错误
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// Config 服务配置
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Game    GameConfig    `mapstructure:"game"`
	Storage StorageConfig `mapstructure:"storage"`
	Log     LogConfig     `mapstructure:"log"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// ActionsPerSecond 每个连接每秒允许的动作数
	ActionsPerSecond float64 `mapstructure:"actions_per_second"`
	ActionBurst      int     `mapstructure:"action_burst"`
}

// GameConfig 游戏规则配置
type GameConfig struct {
	MinPlayers int            `mapstructure:"min_players"`
	MaxPlayers int            `mapstructure:"max_players"`
	Phases     map[string]int `mapstructure:"phases"` // 阶段名 -> 秒数
	Deck       []string       `mapstructure:"deck"`
	RNGSeed    int64          `mapstructure:"rng_seed"`
	OutboxSize int            `mapstructure:"outbox_size"`
}

// StorageConfig 对局结果存档
type StorageConfig struct {
	Path string `mapstructure:"path"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// DefaultPhaseSeconds 各阶段默认时长，0 表示不按时间推进
var DefaultPhaseSeconds = map[models.Phase]int{
	models.PhaseWaiting:     0,
	models.PhaseStarting:    10,
	models.PhaseDay:         120,
	models.PhaseVoting:      60,
	models.PhaseExecution:   30,
	models.PhaseNight:       45,
	models.PhaseNightResult: 10,
	models.PhaseEnded:       0,
}

// Default 返回默认配置
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	// 默认值本身不会解析失败
	_ = v.Unmarshal(cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.actions_per_second", 2.0)
	v.SetDefault("server.action_burst", 5)

	v.SetDefault("game.min_players", 6)
	v.SetDefault("game.max_players", 30)
	v.SetDefault("game.rng_seed", 0)
	v.SetDefault("game.outbox_size", 256)
	for phase, seconds := range DefaultPhaseSeconds {
		v.SetDefault("game.phases."+string(phase), seconds)
	}

	v.SetDefault("storage.path", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

// Load 读取配置文件与 MAFIA_ 前缀的环境变量，path 为空时只使用默认值和环境变量
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("MAFIA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, &ConfigurationError{Field: "*", Reason: err.Error()}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	g := c.Game
	if g.MinPlayers < 3 {
		return &ConfigurationError{Field: "game.min_players", Reason: "至少需要3名玩家"}
	}
	if g.MaxPlayers < g.MinPlayers {
		return &ConfigurationError{Field: "game.max_players", Reason: "不能小于 min_players"}
	}
	if g.OutboxSize <= 0 {
		return &ConfigurationError{Field: "game.outbox_size", Reason: "必须为正数"}
	}
	for name, seconds := range g.Phases {
		if !models.Phase(name).Valid() {
			return &ConfigurationError{Field: "game.phases." + name, Reason: "未知阶段"}
		}
		if seconds < 0 {
			return &ConfigurationError{Field: "game.phases." + name, Reason: "时长不能为负数"}
		}
		// 除等待和结束外的阶段都靠计时推进
		if seconds == 0 && !models.Phase(name).Untimed() {
			return &ConfigurationError{Field: "game.phases." + name, Reason: "计时阶段时长必须为正数"}
		}
	}
	if len(g.Deck) > 0 && len(g.Deck) < g.MinPlayers {
		return &ConfigurationError{Field: "game.deck", Reason: "角色数量少于 min_players"}
	}
	if c.Server.ActionsPerSecond <= 0 || c.Server.ActionBurst <= 0 {
		return &ConfigurationError{Field: "server.actions_per_second", Reason: "限流参数必须为正数"}
	}
	return nil
}

// PhaseSeconds 返回阶段时长，未配置时使用默认值
func (g GameConfig) PhaseSeconds(phase models.Phase) int {
	if seconds, ok := g.Phases[string(phase)]; ok {
		return seconds
	}
	return DefaultPhaseSeconds[phase]
}

// DeckRoles 配置的角色牌组
func (g GameConfig) DeckRoles() []models.RoleID {
	deck := make([]models.RoleID, 0, len(g.Deck))
	for _, id := range g.Deck {
		deck = append(deck, models.RoleID(id))
	}
	return deck
}
