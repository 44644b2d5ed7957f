package main

import (
	"context"
	"encoding/base64"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"

	"quantflow/conf"
	"quantflow/internal/alert"
	"quantflow/internal/broker"
	"quantflow/internal/broker/sim"
	"quantflow/internal/consts"
	"quantflow/internal/dao"
	"quantflow/internal/handler/system"
	wsgw "quantflow/internal/handler/ws"
	"quantflow/internal/lock"
	"quantflow/internal/marketdata"
	"quantflow/internal/metrics"
	"quantflow/internal/model"
	"quantflow/internal/oco"
	"quantflow/internal/orchestrator"
	"quantflow/internal/risk"
	"quantflow/internal/router"
	"quantflow/internal/strategy"
	"quantflow/pkg/cache"
	"quantflow/pkg/db"
	"quantflow/pkg/logger"
	"quantflow/pkg/security"
)

// InitApp 组装全部依赖，返回路由和清理函数
func InitApp(cfg *conf.Config) (*router.ApiRouter, func()) {
	gdb := db.Init(db.NewConfig(
		cfg.Db.Username, cfg.Db.Password, cfg.Db.Host, cfg.Db.Port, cfg.Db.DbName))
	if err := gdb.AutoMigrate(
		&model.OrderRecord{}, &model.Position{}, &model.OCOGroup{},
		&model.AuditEvent{}, &model.Instrument{},
	); err != nil {
		logger.Fatal("auto migrate failed", logger.Pair("err", err.Error()))
	}

	cache.InitRedis(cfg.Redis)
	rdb := cache.GetRedisClient()

	node, err := snowflake.NewNode(1)
	if err != nil {
		logger.Fatal("snowflake init failed", logger.Pair("err", err.Error()))
	}

	orderDao := dao.NewOrderDao(gdb)
	positionDao := dao.NewPositionDao(gdb)
	ocoDao := dao.NewOCODao(gdb)
	instrumentDao := dao.NewInstrumentDao(gdb)
	auditDao := dao.NewAuditDao(gdb, node)

	m := metrics.New()

	appCtx, cancel := context.WithCancel(context.Background())

	// 行情：只发布了模拟源，真实行情适配器按Feed接口接入
	feed := marketdata.NewSimFeed(cfg.Engine.Symbols, cfg.Engine.BarWindow)
	go feed.Run(appCtx, 5*time.Second)
	seedInstruments(appCtx, instrumentDao, cfg.Engine.Symbols)

	// 券商会话
	if !cfg.Broker.Simulated {
		restoreBrokerSession(cfg.Broker)
		logger.Warn("no real broker adapter is built in, falling back to simulated execution")
	}
	simBroker := sim.NewSimulated()
	brokerClient := broker.WithRetry(simBroker, cfg.Broker.MaxRetries, cfg.Broker.Timeout)

	ocoMgr := oco.NewManager(brokerClient, orderDao, ocoDao, auditDao, m)
	go ocoMgr.Run(appCtx)

	// 告警通道
	channels := make([]alert.Notifier, 0, 2)
	if cfg.Kafka.Broker != "" {
		channels = append(channels, alert.NewKafkaNotifier(cfg.Kafka))
	}
	if cfg.Mail.Host != "" {
		channels = append(channels, alert.NewMailNotifier(cfg.Mail))
	}
	notifier := alert.NewMulti(channels...)

	// 策略注册
	strategy.Register(strategy.NewEMAMomentum())

	leaderLock := lock.NewLeaderLock(rdb, consts.LeaderLockKey, cfg.Engine.LockTTL)

	orch := orchestrator.New(cfg.Engine, orchestrator.Deps{
		Lock:        leaderLock,
		Redis:       rdb,
		Feed:        feed,
		Risk:        risk.NewManager(cfg.Risk),
		OCO:         ocoMgr,
		Broker:      brokerClient,
		Positions:   positionDao,
		Instruments: instrumentDao,
		Audit:       auditDao,
		Metrics:     m,
		Notifier:    notifier,
		Node:        node,
		ConfigSHA:   cfg.ConfigSHA,
	})

	if cfg.Engine.AutoStart {
		if err := orch.Start(appCtx); err != nil {
			logger.Warn("auto start failed, waiting for manual start",
				logger.Pair("err", err.Error()))
		} else if err := ocoMgr.Reconcile(appCtx); err != nil {
			logger.Error("oco reconcile failed", logger.Pair("err", err.Error()))
		}
	}

	sysHandler := system.NewHandler(orch, m, auditDao)
	gateway := wsgw.NewPositionsGateway(orch)
	apiRouter := router.NewApiRouter(sysHandler, gateway)

	cleanup := func() {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		if err := orch.Stop(shutdownCtx); err != nil {
			logger.Error("orchestrator stop failed", logger.Pair("err", err.Error()))
		}
		cancel()
		_ = simBroker.Close()
		_ = notifier.Close()
		cache.CloseRedis()
	}
	return apiRouter, cleanup
}

// seedInstruments 模拟环境下给主档补缺省记录，生产环境由外部导入
func seedInstruments(ctx context.Context, d *dao.InstrumentDao, symbols []string) {
	for i, sym := range symbols {
		if _, found, err := d.GetBySymbol(ctx, sym); err != nil || found {
			continue
		}
		ins := &model.Instrument{
			Token:    int64(100001 + i),
			Symbol:   sym,
			Exchange: "NSE",
			Class:    model.ClassEquity,
			LotSize:  1,
			TickSize: 0.05,
		}
		if strings.HasSuffix(sym, "FUT") {
			ins.Exchange = "NFO"
			ins.Class = model.ClassFutures
			ins.LotSize = 75
		}
		if err := d.Upsert(ctx, ins); err != nil {
			logger.Warn("instrument seed failed",
				logger.Pair("symbol", sym), logger.Pair("err", err.Error()))
		}
	}
}

// restoreBrokerSession 从加密文件恢复券商会话token
func restoreBrokerSession(cfg conf.BrokerConfig) {
	if cfg.TokenFile == "" || cfg.SealKey == "" || cfg.SealPub == "" {
		return
	}
	priv, err := base64.StdEncoding.DecodeString(cfg.SealKey)
	if err != nil {
		logger.Error("seal key decode failed", logger.Pair("err", err.Error()))
		return
	}
	pub, err := base64.StdEncoding.DecodeString(cfg.SealPub)
	if err != nil {
		logger.Error("seal pub decode failed", logger.Pair("err", err.Error()))
		return
	}
	sealer, err := security.NewTokenSealer(priv, pub, []byte(cfg.ApiKey))
	if err != nil {
		logger.Error("token sealer init failed", logger.Pair("err", err.Error()))
		return
	}
	token, err := sealer.OpenFromFile(cfg.TokenFile)
	if err != nil {
		logger.Warn("no restorable broker session", logger.Pair("err", err.Error()))
		return
	}
	logger.Info("broker session token restored", logger.Pair("bytes", len(token)))
}
