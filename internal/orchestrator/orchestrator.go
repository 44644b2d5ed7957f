package orchestrator

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-redis/redis/v8"
	"go.uber.org/multierr"

	"quantflow/conf"
	"quantflow/internal/broker"
	"quantflow/internal/consts"
	"quantflow/internal/marketdata"
	"quantflow/internal/metrics"
	"quantflow/internal/model"
	"quantflow/internal/oco"
	"quantflow/internal/risk"
	"quantflow/internal/strategy"
	"quantflow/pkg/errors"
	"quantflow/pkg/errors/ecode"
	"quantflow/pkg/logger"
)

// 交易编排器：持有领导权的进程跑扫描循环，
// 信号->风控->下单，仓位账本只在这里被修改

type SupervisorState string

const (
	StateStopped   SupervisorState = "STOPPED"
	StateRunning   SupervisorState = "RUNNING"
	StateDone      SupervisorState = "DONE"
	StateException SupervisorState = "EXCEPTION"
	StateStopping  SupervisorState = "STOPPING"
)

// kill switch关组时的reason前缀，onGroupClosed据此区分出场成交和主动清仓
const killSwitchPrefix = "kill_switch:"

// SupervisorStatus 状态接口返回的监督信息
type SupervisorStatus struct {
	State    SupervisorState `json:"state"`
	Ticks    int64           `json:"ticks"`
	Interval string          `json:"interval"`
	Leader   bool            `json:"leader"`
	Instance string          `json:"instance"`
}

// Lock / 各store是对应实现的消费侧子集
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Refresh(ctx context.Context) bool
	Release(ctx context.Context) bool
	IsLeader() bool
}

type PositionStore interface {
	Save(ctx context.Context, p *model.Position) error
	ListOpen(ctx context.Context) ([]model.Position, error)
	Close(ctx context.Context, positionId int64, realized float64) error
}

type InstrumentStore interface {
	GetByToken(ctx context.Context, token int64) (model.Instrument, bool, error)
	GetBySymbol(ctx context.Context, symbol string) (model.Instrument, bool, error)
}

type EntrySubmitter interface {
	SubmitEntry(ctx context.Context, plan model.Plan) (string, error)
	CancelGroup(ctx context.Context, groupId string, reason string) error
	SetHooks(h oco.Hooks)
}

type Auditor interface {
	Append(ctx context.Context, kind, refId string, detail interface{}) error
}

// Notifier 告警通道，失败绝不能阻塞交易逻辑
type Notifier interface {
	Notify(ctx context.Context, subject, body string)
}

type Orchestrator struct {
	cfg         conf.EngineConfig
	lock        Lock
	rdb         *redis.Client // 心跳用，可为nil（单测）
	feed        marketdata.Feed
	risk        *risk.Manager
	oco         EntrySubmitter
	broker      broker.Broker
	positions   PositionStore
	instruments InstrumentStore
	audit       Auditor
	metrics     *metrics.Metrics
	notifier    Notifier
	node        *snowflake.Node
	configSHA   string
	instance    string

	// mu保护状态和仓位账本
	mu       sync.Mutex
	state    SupervisorState
	book     map[int64]*model.Position // key: position id
	groupPos map[string]int64          // oco group id -> position id
	ticks    int64
	dailyPnL float64

	// cycleMu串行化扫描周期和kill switch，周期之间不允许重叠
	cycleMu sync.Mutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Deps struct {
	Lock        Lock
	Redis       *redis.Client
	Feed        marketdata.Feed
	Risk        *risk.Manager
	OCO         EntrySubmitter
	Broker      broker.Broker
	Positions   PositionStore
	Instruments InstrumentStore
	Audit       Auditor
	Metrics     *metrics.Metrics
	Notifier    Notifier
	Node        *snowflake.Node
	ConfigSHA   string
}

func New(cfg conf.EngineConfig, d Deps) *Orchestrator {
	host, _ := os.Hostname()
	o := &Orchestrator{
		cfg:         cfg,
		lock:        d.Lock,
		rdb:         d.Redis,
		feed:        d.Feed,
		risk:        d.Risk,
		oco:         d.OCO,
		broker:      d.Broker,
		positions:   d.Positions,
		instruments: d.Instruments,
		audit:       d.Audit,
		metrics:     d.Metrics,
		notifier:    d.Notifier,
		node:        d.Node,
		configSHA:   d.ConfigSHA,
		instance:    fmt.Sprintf("%s-%d", host, os.Getpid()),
		state:       StateStopped,
		book:        make(map[int64]*model.Position),
		groupPos:    make(map[string]int64),
	}
	// 成交回调接回账本
	o.oco.SetHooks(oco.Hooks{
		OnEntryFill:   o.onEntryFill,
		OnGroupClosed: o.onGroupClosed,
	})
	return o
}

// Start 抢领导权并启动扫描循环。已在RUNNING时为幂等空操作。
// 从EXCEPTION/DONE重启时只做恢复和状态迁移，不重复起循环
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.state == StateRunning {
		o.mu.Unlock()
		return nil
	}
	looping := o.cancel != nil
	o.mu.Unlock()

	ok, err := o.lock.Acquire(ctx)
	if err != nil {
		return errors.Wrap(err, ecode.LeadershipLost, "leader lock acquire")
	}
	if !ok {
		return errors.New(ecode.LeadershipLost, "another instance holds the leader lock")
	}

	if err := o.broker.SessionValid(ctx); err != nil {
		o.lock.Release(ctx)
		return errors.Wrap(err, ecode.BrokerErr, "broker session invalid")
	}

	if err := o.recoverOpenPositions(ctx); err != nil {
		o.lock.Release(ctx)
		return err
	}

	o.mu.Lock()
	if !looping {
		runCtx, cancel := context.WithCancel(context.Background())
		o.cancel = cancel
		o.wg.Add(2)
		go o.scanLoop(runCtx)
		go o.refreshLoop(runCtx)
	}
	o.setStateLocked(StateRunning)
	o.mu.Unlock()

	logger.Info("orchestrator started",
		logger.Pair("instance", o.instance),
		logger.Pair("interval", o.cfg.ScanInterval.String()),
		logger.Pair("symbols", o.cfg.Symbols))
	return nil
}

// Stop 停止扫描，等在途周期结束后再释放锁。
// 非RUNNING时为空操作
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	// EXCEPTION和熔断后的DONE也允许Stop做清理：
	// 循环还活着、锁还持有，必须能正常停下来
	if o.state != StateRunning && o.state != StateException && o.state != StateDone {
		o.mu.Unlock()
		return nil
	}
	o.setStateLocked(StateStopping)
	cancel := o.cancel
	o.cancel = nil
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	// 等在途周期跑完，避免释放领导权时还有单在提交
	o.wg.Wait()

	var errs error
	if o.rdb != nil {
		if err := o.rdb.Del(ctx, consts.HeartbeatPrefix+o.instance).Err(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("heartbeat cleanup: %w", err))
		}
	}
	o.lock.Release(ctx)

	o.mu.Lock()
	o.setStateLocked(StateStopped)
	o.mu.Unlock()

	logger.Info("orchestrator stopped", logger.Pair("instance", o.instance))
	return errs
}

func (o *Orchestrator) scanLoop(ctx context.Context) {
	defer o.wg.Done()
	ticker := time.NewTicker(o.cfg.ScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.ScanCycle(ctx)
		}
	}
}

// refreshLoop 独立于扫描周期刷新领导锁，
// 扫描慢的时候也能及时发现锁过期
func (o *Orchestrator) refreshLoop(ctx context.Context) {
	defer o.wg.Done()
	ticker := time.NewTicker(o.cfg.LockRefresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if o.lock.IsLeader() && !o.lock.Refresh(ctx) {
				logger.Warn("leadership lost on refresh", logger.Pair("instance", o.instance))
				o.auditLog(ctx, consts.AuditLeadershipLost, o.instance, nil)
			}
		}
	}
}

// ScanCycle 单次扫描周期，可独立触发做诊断。
// 周期内的任何失败（错误或panic）都不会让进程崩溃，
// 记为EXCEPTION并告警，账本保持失败前的状态
func (o *Orchestrator) ScanCycle(ctx context.Context) {
	o.cycleMu.Lock()
	defer o.cycleMu.Unlock()

	var cycleErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				cycleErr = fmt.Errorf("panic: %v", r)
			}
		}()
		cycleErr = o.runCycle(ctx)
	}()

	if cycleErr != nil {
		logger.Error("scan cycle failed",
			logger.Pair("instance", o.instance),
			logger.Pair("err", cycleErr.Error()))
		o.metrics.CyclesFailed.Add(1)
		o.mu.Lock()
		o.setStateLocked(StateException)
		o.mu.Unlock()
		o.notify(ctx, "scan cycle exception", fmt.Sprintf("instance %s: %v", o.instance, cycleErr))
	}
}

func (o *Orchestrator) runCycle(ctx context.Context) error {
	o.heartbeat(ctx)

	// EXCEPTION/DONE是终态，显式restart之前不再评估策略
	if s := o.State(); s != StateRunning {
		logger.Debug("supervisor not running, cycle idle", logger.Pair("state", string(s)))
		return nil
	}

	// 失去领导权就整周期跳过，绝不评估策略。
	// 抢回领导权的当个周期同样跳过：空窗期内别的实例可能交易过，
	// 先从库里重建账本，下个周期再评估
	if !o.lock.IsLeader() {
		o.metrics.CyclesSkipped.Add(1)
		if ok, err := o.lock.Acquire(ctx); err != nil || !ok {
			logger.Warn("not leader, skipping scan cycle", logger.Pair("instance", o.instance))
			return nil
		}
		logger.Info("leadership re-acquired, resyncing position book", logger.Pair("instance", o.instance))
		return o.recoverOpenPositions(ctx)
	}

	// 当日亏损熔断：强制清仓，当天到此为止
	if o.risk.DailyLossBreached(o.dailyTotalPnL()) {
		logger.Warn("daily loss stop breached, flattening all positions")
		if _, err := o.CloseAllPositions(ctx, "daily_loss_stop"); err != nil {
			logger.Error("forced flatten failed", logger.Pair("err", err.Error()))
		}
		o.mu.Lock()
		o.setStateLocked(StateDone)
		o.mu.Unlock()
		o.finishCycle()
		return nil
	}

	now := time.Now()
	openSnapshot := o.Positions()

	for _, sym := range o.cfg.Symbols {
		ins, found, err := o.instruments.GetBySymbol(ctx, sym)
		if err != nil {
			return fmt.Errorf("instrument lookup %s: %w", sym, err)
		}
		if !found {
			logger.Warn("symbol not in instrument master", logger.Pair("symbol", sym))
			continue
		}
		tick, ok := o.feed.LatestTick(sym)
		if !ok {
			logger.Debug("no tick yet", logger.Pair("symbol", sym))
			continue
		}
		o.markBook(sym, tick.Price)

		sctx := strategy.Context{
			Timestamp:     now,
			Instrument:    ins,
			LastTick:      tick,
			Bars:          o.feed.RecentBars(sym, o.cfg.BarWindow),
			Equity:        o.risk.Capital(),
			OpenPositions: openSnapshot,
			ConfigSHA:     o.configSHA,
		}

		for _, strat := range strategy.All() {
			for _, sig := range strat.Evaluate(sctx) {
				o.metrics.SignalsSeen.Add(1)
				o.handleSignal(ctx, ins, sig, openSnapshot)
			}
		}
	}

	o.finishCycle()
	return nil
}

func (o *Orchestrator) finishCycle() {
	o.metrics.ScanCycles.Add(1)
	o.mu.Lock()
	o.ticks++
	o.mu.Unlock()
}

// handleSignal 定量+风控闸门，通过后幂等提交入场
func (o *Orchestrator) handleSignal(ctx context.Context, ins model.Instrument, sig model.Signal, open []model.Position) {
	stopDist := sig.Price - sig.Stop
	if stopDist < 0 {
		stopDist = -stopDist
	}
	qty := o.risk.SizeFor(ins, stopDist, sig.Price)
	if qty <= 0 {
		logger.Info("signal rejected: size zero",
			logger.Pair("symbol", sig.Symbol), logger.Pair("strategy", sig.Strategy))
		o.metrics.SignalsRejected.Add(1)
		return
	}

	plan := model.Plan{
		Symbol:    sig.Symbol,
		Side:      sig.Side,
		Entry:     sig.Price,
		Stop:      sig.Stop,
		TP1:       sig.TP1,
		TP2:       sig.TP2,
		Quantity:  qty,
		Strategy:  sig.Strategy,
		ConfigSHA: o.configSHA,
		OrderType: sig.OrderType,
		Timestamp: sig.Timestamp,
	}

	if !o.risk.AllowNewEntry(open, plan) {
		logger.Warn("signal rejected: portfolio heat limit",
			logger.Pair("symbol", sig.Symbol), logger.Pair("qty", qty))
		o.metrics.SignalsRejected.Add(1)
		o.auditLog(ctx, consts.AuditRiskRejected, sig.Symbol, map[string]interface{}{
			"strategy": sig.Strategy, "reason": "portfolio_heat", "qty": qty,
		})
		return
	}

	fees := o.risk.EstimateFees(ins, qty, plan.Entry, plan.TP1)
	logger.Info("submitting entry",
		logger.Pair("symbol", plan.Symbol),
		logger.Pair("side", string(plan.Side)),
		logger.Pair("qty", qty),
		logger.Pair("entry", plan.Entry),
		logger.Pair("stop", plan.Stop),
		logger.Pair("est_fees", fees))

	if _, err := o.oco.SubmitEntry(ctx, plan); err != nil {
		if errors.IsCode(err, ecode.OrderDuplicate) {
			// 同一个意图重复出现是正常的，幂等层已经挡掉
			logger.Debug("duplicate plan skipped", logger.Pair("symbol", plan.Symbol))
			return
		}
		logger.Error("entry submission failed",
			logger.Pair("symbol", plan.Symbol), logger.Pair("err", err.Error()))
	}
}

// recoverOpenPositions 重启后从库里重建仓位账本。
// 标的解析不了的仓位降级保留，绝不悄悄丢弃真实敞口
func (o *Orchestrator) recoverOpenPositions(ctx context.Context) error {
	stored, err := o.positions.ListOpen(ctx)
	if err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.book = make(map[int64]*model.Position, len(stored))
	for i := range stored {
		p := stored[i]
		if _, found, err := o.instruments.GetByToken(ctx, p.Token); err != nil {
			return err
		} else if !found {
			p.Degraded = true
			logger.Error("recovered position with unresolvable instrument, keeping degraded",
				logger.Pair("position_id", p.PositionId),
				logger.Pair("token", p.Token),
				logger.Pair("symbol", p.Symbol))
			o.notify(ctx, "degraded position on recovery",
				fmt.Sprintf("position %d token %d cannot be resolved", p.PositionId, p.Token))
		}
		o.book[p.PositionId] = &p
	}

	o.auditLog(ctx, consts.AuditRecovery, o.instance, map[string]interface{}{"count": len(stored)})
	logger.Info("position recovery complete", logger.Pair("count", len(stored)))
	return nil
}

// CloseAllPositions kill switch：全部未平仓位按市价反向平掉。
// 返回平掉的数量
func (o *Orchestrator) CloseAllPositions(ctx context.Context, reason string) (int, error) {
	o.mu.Lock()
	targets := make([]*model.Position, 0, len(o.book))
	for _, p := range o.book {
		if p.Status == model.PositionOpen {
			targets = append(targets, p)
		}
	}
	groupOf := make(map[int64]string, len(o.groupPos))
	for gid, pid := range o.groupPos {
		groupOf[pid] = gid
	}
	o.mu.Unlock()

	var errs error
	closed := 0
	for _, p := range targets {
		// 先撤掉保护腿，避免平仓后止损单变成裸单。
		// kill switch前缀让onGroupClosed跳过结算，盈亏只在这条路径算一次
		gid, hasGroup := groupOf[p.PositionId]
		if hasGroup {
			if err := o.oco.CancelGroup(ctx, gid, killSwitchPrefix+reason); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("cancel group %s: %w", gid, err))
			}
		}

		exitPrice := p.CurrentPrice
		if tick, ok := o.feed.LatestTick(p.Symbol); ok {
			exitPrice = tick.Price
		}
		_, err := o.broker.PlaceOrder(ctx, &model.Order{
			ClientOrderId: fmt.Sprintf("QFFLAT-%d", p.PositionId),
			Symbol:        p.Symbol,
			Side:          p.ExitOrderSide(),
			Quantity:      p.Quantity,
			OrderType:     model.Market,
			Price:         exitPrice,
			Strategy:      p.Strategy,
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("flatten position %d: %w", p.PositionId, err))
			continue
		}

		diff := exitPrice - p.EntryPrice
		if p.Side == model.Short {
			diff = -diff
		}
		realized := diff * float64(p.Quantity)

		// 模拟盘市价单即时成交，下单成功即结算；
		// 接真实券商时应等成交回报再记平仓
		o.mu.Lock()
		p.Status = model.PositionClosed
		p.Realized = realized
		p.Unrealized = 0
		o.dailyPnL += realized
		if hasGroup {
			delete(o.groupPos, gid)
		}
		o.mu.Unlock()

		if err := o.positions.Close(ctx, p.PositionId, realized); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("persist close %d: %w", p.PositionId, err))
		}
		closed++
	}

	o.auditLog(ctx, consts.AuditKillSwitch, o.instance, map[string]interface{}{
		"reason": reason, "closed": closed,
	})
	o.notify(ctx, "kill switch activated",
		fmt.Sprintf("reason=%s closed=%d instance=%s", reason, closed, o.instance))
	logger.Warn("close all positions done",
		logger.Pair("reason", reason), logger.Pair("closed", closed))
	return closed, errs
}

// onEntryFill 入场成交，开仓入账
func (o *Orchestrator) onEntryFill(group model.OCOGroup, entry model.OrderRecord, ev model.OrderEvent) {
	ctx := context.Background()

	side := model.Long
	if entry.Side == model.Sell {
		side = model.Short
	}
	var token int64
	if ins, found, err := o.instruments.GetBySymbol(ctx, group.Symbol); err == nil && found {
		token = ins.Token
	}

	qty := ev.FilledQty
	if qty <= 0 {
		qty = entry.Quantity
	}
	price := ev.AvgPrice
	if price <= 0 {
		price = entry.Price
	}

	pos := &model.Position{
		PositionId:   o.node.Generate().Int64(),
		Token:        token,
		Symbol:       group.Symbol,
		Side:         side,
		Quantity:     qty,
		EntryPrice:   price,
		CurrentPrice: price,
		StopLoss:     group.StopPrice,
		Strategy:     entry.Strategy,
		Status:       model.PositionOpen,
		OpenTime:     ev.Timestamp,
	}

	o.mu.Lock()
	o.book[pos.PositionId] = pos
	o.groupPos[group.GroupId] = pos.PositionId
	o.mu.Unlock()

	if err := o.positions.Save(ctx, pos); err != nil {
		logger.Error("persist new position failed",
			logger.Pair("position_id", pos.PositionId), logger.Pair("err", err.Error()))
	}
	logger.Info("position opened",
		logger.Pair("position_id", pos.PositionId),
		logger.Pair("symbol", pos.Symbol),
		logger.Pair("side", string(pos.Side)),
		logger.Pair("qty", qty),
		logger.Pair("entry", price))
}

// onGroupClosed 出场腿成交或入场夭折，更新账本
func (o *Orchestrator) onGroupClosed(group model.OCOGroup, reason string, ev model.OrderEvent) {
	// kill switch主动关组时账本和盈亏由CloseAllPositions结算，这里不再重复
	if strings.HasPrefix(reason, killSwitchPrefix) {
		return
	}

	ctx := context.Background()

	o.mu.Lock()
	pid, ok := o.groupPos[group.GroupId]
	if !ok {
		// 入场没成交就关组的情况，没有对应仓位
		o.mu.Unlock()
		return
	}
	p := o.book[pid]
	delete(o.groupPos, group.GroupId)
	if p == nil || p.Status != model.PositionOpen {
		o.mu.Unlock()
		return
	}

	exitPrice := ev.AvgPrice
	if exitPrice <= 0 {
		exitPrice = p.CurrentPrice
	}
	diff := exitPrice - p.EntryPrice
	if p.Side == model.Short {
		diff = -diff
	}
	realized := diff * float64(p.Quantity)
	p.Status = model.PositionClosed
	p.Realized = realized
	p.Unrealized = 0
	o.dailyPnL += realized
	o.mu.Unlock()

	if err := o.positions.Close(ctx, pid, realized); err != nil {
		logger.Error("persist position close failed",
			logger.Pair("position_id", pid), logger.Pair("err", err.Error()))
	}
	logger.Info("position closed",
		logger.Pair("position_id", pid),
		logger.Pair("reason", reason),
		logger.Pair("realized", realized))
}

// Positions 仓位账本的只读快照
func (o *Orchestrator) Positions() []model.Position {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]model.Position, 0, len(o.book))
	for _, p := range o.book {
		out = append(out, *p)
	}
	return out
}

func (o *Orchestrator) State() SupervisorState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) Status() SupervisorStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return SupervisorStatus{
		State:    o.state,
		Ticks:    o.ticks,
		Interval: o.cfg.ScanInterval.String(),
		Leader:   o.lock.IsLeader(),
		Instance: o.instance,
	}
}

// markBook 用最新价刷新同标的仓位的浮动盈亏
func (o *Orchestrator) markBook(symbol string, price float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, p := range o.book {
		if p.Symbol == symbol && p.Status == model.PositionOpen {
			p.MarkPrice(price)
		}
	}
}

// dailyTotalPnL 当日已实现+当前浮动
func (o *Orchestrator) dailyTotalPnL() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	total := o.dailyPnL
	for _, p := range o.book {
		if p.Status == model.PositionOpen {
			total += p.Unrealized
		}
	}
	return total
}

func (o *Orchestrator) heartbeat(ctx context.Context) {
	if o.rdb == nil {
		return
	}
	key := consts.HeartbeatPrefix + o.instance
	if err := o.rdb.Set(ctx, key, time.Now().Format(consts.TimeLayoutMs), consts.HeartbeatTTL).Err(); err != nil {
		logger.Warn("heartbeat write failed", logger.Pair("err", err.Error()))
	}
}

func (o *Orchestrator) setStateLocked(s SupervisorState) {
	if o.state == s {
		return
	}
	prev := o.state
	o.state = s
	o.metrics.SetState(string(s))
	o.auditLog(context.Background(), consts.AuditStateChange, o.instance, map[string]interface{}{
		"from": prev, "to": s,
	})
	logger.Info("supervisor state change",
		logger.Pair("from", string(prev)), logger.Pair("to", string(s)))
}

func (o *Orchestrator) auditLog(ctx context.Context, kind, refId string, detail interface{}) {
	if o.audit == nil {
		return
	}
	if err := o.audit.Append(ctx, kind, refId, detail); err != nil {
		logger.Error("audit append failed", logger.Pair("kind", kind), logger.Pair("err", err.Error()))
	}
}

func (o *Orchestrator) notify(ctx context.Context, subject, body string) {
	if o.notifier == nil {
		return
	}
	o.notifier.Notify(ctx, subject, body)
}
