package conf

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// 配置加载（数据库、Redis、券商会话、风控参数等）

type LogConfig struct {
	Level      string `yaml:"level"`
	FileName   string `yaml:"file-name"`
	TimeFormat string `yaml:"time-format"`
	MaxSize    int    `yaml:"max-size"`
	MaxBackups int    `yaml:"max-backups"`
	MaxAge     int    `yaml:"max-age"`
	Compress   bool   `yaml:"compress"`
	LocalTime  bool   `yaml:"local-time"`
	Console    bool   `yaml:"console"`
}

type Db struct {
	DbName   string `yaml:"dbname"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// RedisConfig is used to configure redis
type RedisConfig struct {
	Addr         string `yaml:"address"`
	Password     string `yaml:"password"`
	Db           int    `yaml:"db"`
	PoolSize     int    `yaml:"pool-size"`
	MinIdleConns int    `yaml:"min-idle-conns"`
	IdleTimeout  int    `yaml:"idle-timeout"`
}

type KafkaConfig struct {
	Broker     string `yaml:"broker"`
	AuditTopic string `yaml:"audit-topic"`
	AlertTopic string `yaml:"alert-topic"`
}

type MailConfig struct {
	Host     string   `yaml:"smtp_host"`
	Port     int      `yaml:"smtp_port"`
	Username string   `yaml:"smtp_user"`
	Password string   `yaml:"smtp_password"`
	Sender   string   `yaml:"smtp_sender"`
	To       []string `yaml:"to"`
}

// BrokerConfig 券商会话配置
// simulated 为 true 时使用内置的模拟撮合，不连真实券商
type BrokerConfig struct {
	Simulated bool   `yaml:"simulated"`
	ApiKey    string `yaml:"apiKey"`
	SecretKey string `yaml:"secretKey"`
	// 会话 token 落盘文件（加密存储），重启后恢复会话用
	TokenFile string `yaml:"token-file"`
	// token 加密用的 curve25519 密钥（base64）
	SealKey string `yaml:"seal-key"`
	SealPub string `yaml:"seal-pub"`
	// 单次券商调用的超时
	Timeout time.Duration `yaml:"timeout"`
	// 瞬时错误的最大重试次数
	MaxRetries int `yaml:"max-retries"`
}

// RiskConfig 风控参数
type RiskConfig struct {
	// 单笔风险占资金的百分比（如 1 表示 1%）
	RiskPct float64 `yaml:"risk-pct"`
	// 组合热度上限（所有持仓的总风险占比）
	MaxPortfolioHeatPct float64 `yaml:"max-portfolio-heat-pct"`
	// 当日亏损熔断线（触发后强制清仓）
	DailyLossStopPct float64 `yaml:"daily-loss-stop-pct"`
	// 可用资金
	Capital float64 `yaml:"capital"`
}

// EngineConfig 扫描引擎配置
type EngineConfig struct {
	// 跟踪的标的
	Symbols []string `yaml:"symbols"`
	// 扫描周期
	ScanInterval time.Duration `yaml:"scan-interval"`
	// 领导锁 TTL，必须远大于刷新间隔
	LockTTL time.Duration `yaml:"lock-ttl"`
	// 领导锁刷新间隔
	LockRefresh time.Duration `yaml:"lock-refresh"`
	// 启动后是否自动开始扫描
	AutoStart bool `yaml:"auto-start"`
	// 策略回看的K线数量
	BarWindow int `yaml:"bar-window"`
}

type Config struct {
	AppName      string       `yaml:"app_name"`
	Listen       string       `yaml:"listen"`
	Mode         string       `yaml:"mode"`
	Language     string       `yaml:"language"`
	MaxPingCount int          `yaml:"max_ping_count"`
	Log          LogConfig    `yaml:"log"`
	Db           Db           `yaml:"db"`
	Redis        RedisConfig  `yaml:"redis"`
	Kafka        KafkaConfig  `yaml:"kafka"`
	Mail         MailConfig   `yaml:"mail"`
	Broker       BrokerConfig `yaml:"broker"`
	Risk         RiskConfig   `yaml:"risk"`
	Engine       EngineConfig `yaml:"engine"`

	// ConfigSHA 配置文件内容的摘要，写入每个 Plan。
	// 配置一旦变化，派生出的 client_order_id 也随之变化
	ConfigSHA string `yaml:"-"`
}

var AppConfig *Config

// LoadConfig 从 yaml 文件加载配置，并计算配置摘要
func LoadConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	sum := sha256.Sum256(data)
	cfg.ConfigSHA = hex.EncodeToString(sum[:])[:12]

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	AppConfig = cfg
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Listen == "" {
		cfg.Listen = ":8090"
	}
	if cfg.MaxPingCount == 0 {
		cfg.MaxPingCount = 10
	}
	if cfg.Engine.ScanInterval == 0 {
		cfg.Engine.ScanInterval = 30 * time.Second
	}
	if cfg.Engine.LockTTL == 0 {
		cfg.Engine.LockTTL = 10 * time.Second
	}
	if cfg.Engine.LockRefresh == 0 {
		cfg.Engine.LockRefresh = 3 * time.Second
	}
	if cfg.Engine.BarWindow == 0 {
		cfg.Engine.BarWindow = 200
	}
	if cfg.Broker.Timeout == 0 {
		cfg.Broker.Timeout = 5 * time.Second
	}
	if cfg.Broker.MaxRetries == 0 {
		cfg.Broker.MaxRetries = 3
	}
	if cfg.Risk.RiskPct == 0 {
		cfg.Risk.RiskPct = 1
	}
	if cfg.Risk.MaxPortfolioHeatPct == 0 {
		cfg.Risk.MaxPortfolioHeatPct = 6
	}
	if cfg.Risk.DailyLossStopPct == 0 {
		cfg.Risk.DailyLossStopPct = 3
	}
}

// 部署时用环境变量覆盖敏感项
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("QF_DB_PASSWORD"); v != "" {
		cfg.Db.Password = v
	}
	if v := os.Getenv("QF_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("QF_REDIS_DB"); v != "" {
		cfg.Redis.Db = cast.ToInt(v)
	}
	if v := os.Getenv("QF_BROKER_SIMULATED"); v != "" {
		cfg.Broker.Simulated = cast.ToBool(v)
	}
	if v := os.Getenv("QF_CAPITAL"); v != "" {
		cfg.Risk.Capital = cast.ToFloat64(v)
	}
	if v := os.Getenv("QF_SCAN_INTERVAL"); v != "" {
		cfg.Engine.ScanInterval = cast.ToDuration(v)
	}
}
