package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/betbot/strikebot/internal/control"
	"github.com/betbot/strikebot/internal/discovery"
	"github.com/betbot/strikebot/internal/engine"
	"github.com/betbot/strikebot/internal/execution"
	"github.com/betbot/strikebot/internal/feed"
	"github.com/betbot/strikebot/internal/ledger"
	"github.com/betbot/strikebot/internal/pricing"
	"github.com/betbot/strikebot/internal/risk"
	"github.com/betbot/strikebot/internal/store"
	"github.com/betbot/strikebot/internal/strategies/fairvalue"
	"github.com/betbot/strikebot/internal/strategies/forecast"
	"github.com/betbot/strikebot/internal/strategies/makerrebate"
	"github.com/betbot/strikebot/internal/strategies/overreaction"
	"github.com/betbot/strikebot/pkg/config"
	"github.com/betbot/strikebot/pkg/logger"
	"github.com/betbot/strikebot/pkg/ratelimit"
	"github.com/betbot/strikebot/pkg/secretstore"
	"github.com/betbot/strikebot/pkg/shutdown"
)

func main() {
	configPath := flag.String("config", "yml/strikebot.yaml", "配置文件路径")
	live := flag.Bool("live", false, "强制实盘执行（覆盖配置）")
	paper := flag.Bool("paper", false, "强制 paper 执行（覆盖配置）")
	flag.Parse()

	// .env 不存在不是错误
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	if *live {
		cfg.Engine.LiveExecution = true
	}
	if *paper {
		cfg.Engine.LiveExecution = false
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		OutputFile: cfg.Log.File,
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		logger.Errorf("启动失败: %v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	loadSecrets(cfg)

	limiter := ratelimit.NewManager()

	// 参考价（Binance）与订单簿（Polymarket）两条独立的行情链路
	refFeed := feed.NewReferenceFeed(
		cfg.Reference.WSURL,
		cfg.Reference.Symbol,
		time.Duration(cfg.Reference.VolatilityWindowSeconds)*time.Second,
	)
	velocity := pricing.NewVelocityTracker(time.Duration(cfg.Book.VelocityWindowSeconds) * time.Second)
	bookFeed := feed.NewBookFeed(cfg.Book.WSURL)
	bookFeed.OnPrice(velocity.PushPrice)

	disc := discovery.NewService(
		cfg.Discovery.GammaURL,
		time.Duration(cfg.Discovery.TimeoutSeconds)*time.Second,
		limiter,
		discovery.Config{
			Interval:           time.Duration(cfg.Discovery.IntervalSeconds) * time.Second,
			Limit:              cfg.Discovery.Limit,
			Tags:               cfg.Discovery.Tags,
			AllowGenericBinary: cfg.Discovery.AllowGenericBinary,
		},
	)
	disc.OnRefresh(bookFeed.SetSubscribedTokenIds)

	var tradeStore *store.Store
	if cfg.Store.Path != "" {
		var err error
		tradeStore, err = store.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
	}
	var ledgerStore ledger.TradeStore
	if tradeStore != nil {
		ledgerStore = tradeStore
	}
	led := ledger.New(ledgerStore, cfg.Engine.BankrollUSD)

	executor := buildExecutor(cfg, limiter)

	gate := risk.NewGate(cfg.Engine, executor, led, bookFeed.GetBookState)

	strategies, err := buildStrategies(cfg)
	if err != nil {
		return err
	}

	provider := engine.SnapshotProvider{
		Spot: func() (float64, time.Time) {
			state := refFeed.GetPriceState()
			return state.LastPrice, state.LastUpdateTs
		},
		Volatility: func() float64 {
			return pricing.ClampVolatility(refFeed.GetVolatility(), cfg.Engine.VolMin, cfg.Engine.VolMax)
		},
		Contracts: disc.GetContracts,
		BookState: bookFeed.GetBookState,
		Velocity: func(tokenID string, currentPrice float64) (pricing.Velocity, bool) {
			return velocity.GetPriceVelocity(tokenID, currentPrice, time.Now())
		},
	}
	eng := engine.New(strategies, provider, gate)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := refFeed.Start(ctx); err != nil {
		return err
	}
	disc.Start(ctx)
	if err := bookFeed.Start(ctx); err != nil {
		return err
	}
	eng.Start(ctx)

	mode := "paper"
	if cfg.Engine.LiveExecution {
		mode = "live"
	}
	logger.Infof("strikebot 已启动 mode=%s symbol=%s strategies=%v",
		mode, cfg.Reference.Symbol, cfg.Strategies.Enabled)

	surface := control.New(mode, cfg, gate, led, disc.GetContracts, func() float64 {
		return refFeed.GetPriceState().LastPrice
	})

	go statusLoop(ctx, surface)

	// 优雅退出：先停引擎（不再产生信号），再断行情，最后落库
	sd := shutdown.NewManager()
	sd.OnShutdown(func(context.Context) { eng.Stop() })
	sd.OnShutdown(func(context.Context) { disc.Stop() })
	sd.OnShutdown(func(context.Context) { bookFeed.Stop() })
	sd.OnShutdown(func(context.Context) { refFeed.Stop() })
	if tradeStore != nil {
		sd.OnShutdown(func(context.Context) {
			if err := tradeStore.Close(); err != nil {
				logger.Errorf("关闭数据库失败: %v", err)
			}
		})
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Infof("收到信号 %s，开始退出", sig)

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	sd.Shutdown(shutdownCtx)

	logger.Info("strikebot 已退出")
	return nil
}

// loadSecrets 环境变量缺失时从 secretstore 补齐凭证
func loadSecrets(cfg *config.Config) {
	if cfg.Execution.SecretStorePath == "" {
		return
	}
	if cfg.Execution.PrivateKey != "" && cfg.Execution.APIKey != "" {
		return
	}

	st, err := secretstore.Open(secretstore.OpenOptions{
		Path:     cfg.Execution.SecretStorePath,
		ReadOnly: true,
	})
	if err != nil {
		logger.Warnf("打开 secretstore 失败（继续用环境变量）: %v", err)
		return
	}
	defer st.Close()

	fill := func(dst *string, key string) {
		if *dst != "" {
			return
		}
		if v, found, err := st.GetString(key); err == nil && found {
			*dst = v
		}
	}
	fill(&cfg.Execution.PrivateKey, "private_key")
	fill(&cfg.Execution.APIKey, "poly_api_key")
	fill(&cfg.Execution.APISecret, "poly_api_secret")
	fill(&cfg.Execution.APIPassphrase, "poly_api_passphrase")
	fill(&cfg.Strategies.Forecast.APIKey, "forecast_api_key")
}

// buildExecutor 实盘凭证不全时降级 paper 并告警，启动永不因此失败
func buildExecutor(cfg *config.Config, limiter *ratelimit.Manager) risk.Executor {
	if !cfg.Engine.LiveExecution {
		return execution.NewPaperExecutor()
	}
	live, err := execution.NewLiveExecutor(cfg.Execution, limiter)
	if err != nil {
		logger.Warnf("实盘执行不可用，降级 paper 模式: %v", err)
		cfg.Engine.LiveExecution = false
		return execution.NewPaperExecutor()
	}
	return live
}

func buildStrategies(cfg *config.Config) ([]engine.Strategy, error) {
	staleMs := cfg.Engine.StaleDataThresholdMs
	var out []engine.Strategy
	for _, name := range cfg.Strategies.Enabled {
		switch name {
		case fairvalue.ID:
			out = append(out, fairvalue.New(cfg.Strategies.FairValue, staleMs))
		case overreaction.ID:
			out = append(out, overreaction.New(cfg.Strategies.Overreaction, staleMs))
		case forecast.ID:
			out = append(out, forecast.New(cfg.Strategies.Forecast, staleMs))
		case makerrebate.ID:
			out = append(out, makerrebate.New(cfg.Strategies.MakerRebate, staleMs))
		default:
			return nil, fmt.Errorf("未知策略: %s", name)
		}
	}
	return out, nil
}

// statusLoop 每分钟打一行运行状态
func statusLoop(ctx context.Context, surface *control.Surface) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := surface.GetStatus()
			logger.Infof("[status] mode=%s spot=%.2f contracts=%d trades=%d wins=%d pnl=%.2f bankroll=%.2f paused=%v",
				st.Mode, st.ReferenceLastPrice, st.ContractsWatched,
				st.TradesToday, st.WinCountToday, st.TodayPnlUSD, st.BankrollUSD, st.Paused)
		}
	}
}
