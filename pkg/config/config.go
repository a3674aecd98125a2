package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config 应用配置（启动时加载一次，进程生命周期内不变）
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Reference ReferenceConfig `yaml:"reference"`
	Book      BookConfig      `yaml:"book"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Engine    EngineConfig    `yaml:"engine"`
	Execution ExecutionConfig `yaml:"execution"`
	Store     StoreConfig     `yaml:"store"`

	Strategies StrategiesConfig `yaml:"strategies"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// ReferenceConfig 参考价行情源配置（Binance bookTicker）
type ReferenceConfig struct {
	Symbol                  string `yaml:"symbol"`             // 例如 BTCUSDT
	WSURL                   string `yaml:"ws_url"`             // Binance WS 基础地址
	VolatilityWindowSeconds int    `yaml:"volatility_window_seconds"`
}

// BookConfig Polymarket 市场订单簿 WS 配置
type BookConfig struct {
	WSURL string `yaml:"ws_url"`
	// token 价格动量回看窗口，与参考价波动率窗口无关
	VelocityWindowSeconds int `yaml:"velocity_window_seconds"`
}

// DiscoveryConfig 合约发现配置（Gamma API）
type DiscoveryConfig struct {
	GammaURL           string   `yaml:"gamma_url"`
	IntervalSeconds    int      `yaml:"interval_seconds"`
	TimeoutSeconds     int      `yaml:"timeout_seconds"`
	Limit              int      `yaml:"limit"`
	Tags               []string `yaml:"tags"`
	AllowGenericBinary bool     `yaml:"allow_generic_binary"` // 允许无行权价的普通二元市场（strikeUsd=0）
}

// EngineConfig 风控与引擎参数
type EngineConfig struct {
	BankrollUSD          float64 `yaml:"bankroll_usd"`
	MinEdgePct           float64 `yaml:"min_edge_pct"`
	KellyMultiplier      float64 `yaml:"kelly_multiplier"`   // 分数 Kelly 系数，例如 0.25
	KellyCapFraction     float64 `yaml:"kelly_cap_fraction"` // 单笔最多占 bankroll 的比例
	MaxPositionUSD       float64 `yaml:"max_position_usd"`
	MaxDailyTrades       int     `yaml:"max_daily_trades"`
	MinNotionalUSD       float64 `yaml:"min_notional_usd"`
	LiveExecution        bool    `yaml:"live_execution"`
	MinLiquidityUSD      float64 `yaml:"min_liquidity_usd"`
	MaxSpreadPct         float64 `yaml:"max_spread_pct"`
	StaleDataThresholdMs int64   `yaml:"stale_data_threshold_ms"`
	CooldownSeconds      int     `yaml:"cooldown_seconds"`
	MaxConsecutiveLosses int     `yaml:"max_consecutive_losses"`
	MaxDailyDrawdownPct  float64 `yaml:"max_daily_drawdown_pct"`
	VolMin               float64 `yaml:"vol_min"`
	VolMax               float64 `yaml:"vol_max"`
}

// ExecutionConfig 下单通道配置
type ExecutionConfig struct {
	ClobURL         string `yaml:"clob_url"`
	ChainID         int64  `yaml:"chain_id"`
	ExchangeAddress string `yaml:"exchange_address"`
	FunderAddress   string `yaml:"funder_address"`

	// 凭证只从环境变量 / secretstore 读取，不落配置文件
	PrivateKey    string `yaml:"-"`
	APIKey        string `yaml:"-"`
	APISecret     string `yaml:"-"`
	APIPassphrase string `yaml:"-"`

	SecretStorePath string `yaml:"secretstore_path"`
}

// StoreConfig 持久化配置
type StoreConfig struct {
	Path string `yaml:"path"` // sqlite 文件路径，为空则不落库
}

// StrategiesConfig 策略配置（启用列表 + 各策略参数）
type StrategiesConfig struct {
	Enabled      []string           `yaml:"enabled"`
	FairValue    FairValueConfig    `yaml:"fairvalue"`
	Overreaction OverreactionConfig `yaml:"overreaction"`
	Forecast     ForecastConfig     `yaml:"forecast"`
	MakerRebate  MakerRebateConfig  `yaml:"makerrebate"`
}

// FairValueConfig 公允价值策略
type FairValueConfig struct {
	TickIntervalMs int     `yaml:"tick_interval_ms"`
	MinEdgePct     float64 `yaml:"min_edge_pct"`
}

// OverreactionConfig 过度反应策略
type OverreactionConfig struct {
	TickIntervalMs       int     `yaml:"tick_interval_ms"`
	UnderdogCeiling      float64 `yaml:"underdog_ceiling"`
	FavoriteFloor        float64 `yaml:"favorite_floor"`
	VelocityThresholdPct float64 `yaml:"velocity_threshold_pct"`
	CooldownSeconds      int     `yaml:"cooldown_seconds"`
}

// ForecastConfig 外部预测策略（无 API key 时不产生信号）
type ForecastConfig struct {
	TickIntervalMs int     `yaml:"tick_interval_ms"`
	APIURL         string  `yaml:"api_url"`
	MinEdgePct     float64 `yaml:"min_edge_pct"`

	APIKey string `yaml:"-"`
}

// MakerRebateConfig 临近结算 maker 策略
type MakerRebateConfig struct {
	TickIntervalMs     int     `yaml:"tick_interval_ms"`
	MaxSecondsToExpiry int     `yaml:"max_seconds_to_expiry"`
	MinConfidence      float64 `yaml:"min_confidence"`
	// 经验估计值，仅作为 Signal metadata 输出，不参与 sizing
	FillProbability float64 `yaml:"fill_probability"`
	TakerFeeBps     int     `yaml:"taker_fee_bps"`
}

// Load 从 YAML 文件加载配置，环境变量补充凭证
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("解析配置文件失败: %w", err)
		}
	}

	cfg.applyDefaults()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.MaxSizeMB <= 0 {
		c.Log.MaxSizeMB = 100
	}
	if c.Log.MaxBackups <= 0 {
		c.Log.MaxBackups = 5
	}

	if c.Reference.Symbol == "" {
		c.Reference.Symbol = "BTCUSDT"
	}
	if c.Reference.WSURL == "" {
		c.Reference.WSURL = "wss://stream.binance.com:9443/ws"
	}
	if c.Reference.VolatilityWindowSeconds <= 0 {
		c.Reference.VolatilityWindowSeconds = 60
	}

	if c.Book.WSURL == "" {
		c.Book.WSURL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"
	}
	if c.Book.VelocityWindowSeconds <= 0 {
		c.Book.VelocityWindowSeconds = 300
	}

	if c.Discovery.GammaURL == "" {
		c.Discovery.GammaURL = "https://gamma-api.polymarket.com"
	}
	if c.Discovery.IntervalSeconds <= 0 {
		c.Discovery.IntervalSeconds = 300
	}
	if c.Discovery.TimeoutSeconds <= 0 {
		c.Discovery.TimeoutSeconds = 15
	}
	if c.Discovery.Limit <= 0 {
		c.Discovery.Limit = 100
	}

	if c.Engine.BankrollUSD <= 0 {
		c.Engine.BankrollUSD = 1000
	}
	if c.Engine.MinEdgePct <= 0 {
		c.Engine.MinEdgePct = 5
	}
	if c.Engine.KellyMultiplier <= 0 {
		c.Engine.KellyMultiplier = 0.25
	}
	if c.Engine.KellyCapFraction <= 0 {
		c.Engine.KellyCapFraction = 0.10
	}
	if c.Engine.MaxPositionUSD <= 0 {
		c.Engine.MaxPositionUSD = 200
	}
	if c.Engine.MaxDailyTrades <= 0 {
		c.Engine.MaxDailyTrades = 20
	}
	if c.Engine.MinNotionalUSD <= 0 {
		c.Engine.MinNotionalUSD = 5
	}
	if c.Engine.MinLiquidityUSD <= 0 {
		c.Engine.MinLiquidityUSD = 100
	}
	if c.Engine.MaxSpreadPct <= 0 {
		c.Engine.MaxSpreadPct = 5
	}
	if c.Engine.StaleDataThresholdMs <= 0 {
		c.Engine.StaleDataThresholdMs = 5000
	}
	if c.Engine.CooldownSeconds <= 0 {
		c.Engine.CooldownSeconds = 60
	}
	if c.Engine.MaxConsecutiveLosses <= 0 {
		c.Engine.MaxConsecutiveLosses = 3
	}
	if c.Engine.MaxDailyDrawdownPct <= 0 {
		c.Engine.MaxDailyDrawdownPct = 10
	}
	if c.Engine.VolMin <= 0 {
		c.Engine.VolMin = 0.2
	}
	if c.Engine.VolMax <= 0 {
		c.Engine.VolMax = 2.0
	}

	if c.Execution.ClobURL == "" {
		c.Execution.ClobURL = "https://clob.polymarket.com"
	}
	if c.Execution.ChainID == 0 {
		c.Execution.ChainID = 137
	}
	if c.Execution.ExchangeAddress == "" {
		// Polymarket CTF Exchange (Polygon)
		c.Execution.ExchangeAddress = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"
	}

	if len(c.Strategies.Enabled) == 0 {
		c.Strategies.Enabled = []string{"fairvalue", "overreaction", "forecast", "makerrebate"}
	}
	fv := &c.Strategies.FairValue
	if fv.TickIntervalMs <= 0 {
		fv.TickIntervalMs = 5000
	}
	if fv.MinEdgePct <= 0 {
		fv.MinEdgePct = c.Engine.MinEdgePct
	}
	ov := &c.Strategies.Overreaction
	if ov.TickIntervalMs <= 0 {
		ov.TickIntervalMs = 30000
	}
	if ov.UnderdogCeiling <= 0 {
		ov.UnderdogCeiling = 0.35
	}
	if ov.FavoriteFloor <= 0 {
		ov.FavoriteFloor = 0.65
	}
	if ov.VelocityThresholdPct <= 0 {
		ov.VelocityThresholdPct = 15
	}
	if ov.CooldownSeconds <= 0 {
		ov.CooldownSeconds = 300
	}
	fc := &c.Strategies.Forecast
	if fc.TickIntervalMs <= 0 {
		fc.TickIntervalMs = 15 * 60 * 1000
	}
	if fc.MinEdgePct <= 0 {
		fc.MinEdgePct = 8
	}
	mr := &c.Strategies.MakerRebate
	if mr.TickIntervalMs <= 0 {
		mr.TickIntervalMs = 2000
	}
	if mr.MaxSecondsToExpiry <= 0 {
		mr.MaxSecondsToExpiry = 10
	}
	if mr.MinConfidence <= 0 {
		mr.MinConfidence = 0.7
	}
	if mr.FillProbability <= 0 {
		mr.FillProbability = 0.35
	}
	if mr.TakerFeeBps <= 0 {
		mr.TakerFeeBps = 100
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("STRIKEBOT_PRIVATE_KEY"); v != "" {
		c.Execution.PrivateKey = strings.TrimPrefix(strings.TrimSpace(v), "0x")
	}
	if v := os.Getenv("POLY_API_KEY"); v != "" {
		c.Execution.APIKey = v
	}
	if v := os.Getenv("POLY_API_SECRET"); v != "" {
		c.Execution.APISecret = v
	}
	if v := os.Getenv("POLY_API_PASSPHRASE"); v != "" {
		c.Execution.APIPassphrase = v
	}
	if v := os.Getenv("FORECAST_API_KEY"); v != "" {
		c.Strategies.Forecast.APIKey = v
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Engine.VolMin >= c.Engine.VolMax {
		return fmt.Errorf("波动率边界非法: vol_min=%.4f >= vol_max=%.4f", c.Engine.VolMin, c.Engine.VolMax)
	}
	if c.Engine.KellyMultiplier > 1 {
		return fmt.Errorf("kelly_multiplier 不应大于 1: %.4f", c.Engine.KellyMultiplier)
	}
	if c.Engine.MaxDailyDrawdownPct >= 100 {
		return fmt.Errorf("max_daily_drawdown_pct 非法: %.2f", c.Engine.MaxDailyDrawdownPct)
	}
	for _, name := range c.Strategies.Enabled {
		switch name {
		case "fairvalue", "overreaction", "forecast", "makerrebate":
		default:
			return fmt.Errorf("未知策略: %s", name)
		}
	}
	return nil
}
