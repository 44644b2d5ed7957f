package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"

	"quantflow/conf"
	"quantflow/internal/broker/sim"
	"quantflow/internal/idem"
	"quantflow/internal/marketdata"
	"quantflow/internal/metrics"
	"quantflow/internal/model"
	"quantflow/internal/oco"
	"quantflow/internal/risk"
	"quantflow/internal/strategy"
)

// 单测用的内存依赖

type fakeLock struct {
	mu        sync.Mutex
	leader    bool
	acquireOK bool
	acquires  int
}

func (l *fakeLock) Acquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.acquires++
	if l.leader {
		return true, nil
	}
	if l.acquireOK {
		l.leader = true
		return true, nil
	}
	return false, nil
}

func (l *fakeLock) Refresh(ctx context.Context) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.leader
}

func (l *fakeLock) Release(ctx context.Context) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	was := l.leader
	l.leader = false
	return was
}

func (l *fakeLock) IsLeader() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.leader
}

func (l *fakeLock) setLeader(v bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.leader = v
}

type memPositions struct {
	mu     sync.Mutex
	rows   map[int64]model.Position
	saves  int
	closes map[int64][]float64 // position id -> 每次Close的realized
}

func newMemPositions() *memPositions {
	return &memPositions{
		rows:   make(map[int64]model.Position),
		closes: make(map[int64][]float64),
	}
}

func (s *memPositions) Save(ctx context.Context, p *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[p.PositionId] = *p
	s.saves++
	return nil
}

func (s *memPositions) ListOpen(ctx context.Context) ([]model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Position
	for _, p := range s.rows {
		if p.Status == model.PositionOpen {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *memPositions) Close(ctx context.Context, positionId int64, realized float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.rows[positionId]
	if !ok {
		return errors.New("position not found")
	}
	p.Status = model.PositionClosed
	p.Realized = realized
	s.rows[positionId] = p
	s.closes[positionId] = append(s.closes[positionId], realized)
	return nil
}

func (s *memPositions) closeHistory(positionId int64) []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float64(nil), s.closes[positionId]...)
}

type memInstruments struct {
	mu   sync.Mutex
	rows map[string]model.Instrument
	err  error
}

func newMemInstruments(rows ...model.Instrument) *memInstruments {
	m := &memInstruments{rows: make(map[string]model.Instrument)}
	for _, r := range rows {
		m.rows[r.Symbol] = r
	}
	return m
}

func (s *memInstruments) GetByToken(ctx context.Context, token int64) (model.Instrument, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return model.Instrument{}, false, s.err
	}
	for _, r := range s.rows {
		if r.Token == token {
			return r, true, nil
		}
	}
	return model.Instrument{}, false, nil
}

func (s *memInstruments) GetBySymbol(ctx context.Context, symbol string) (model.Instrument, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return model.Instrument{}, false, s.err
	}
	r, ok := s.rows[symbol]
	return r, ok, nil
}

// 接真实oco.Manager用的内存store

type memOrderStore struct {
	mu   sync.Mutex
	rows map[string]*model.OrderRecord
}

func newMemOrderStore() *memOrderStore {
	return &memOrderStore{rows: make(map[string]*model.OrderRecord)}
}

func (s *memOrderStore) Insert(ctx context.Context, r *model.OrderRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.rows[r.ClientOrderId] = &cp
	return nil
}

func (s *memOrderStore) GetByClientId(ctx context.Context, id string) (model.OrderRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return model.OrderRecord{}, false, nil
	}
	return *r, true, nil
}

func (s *memOrderStore) UpdateStatus(ctx context.Context, id string, status model.OrderStatusCode, brokerId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rows[id]; ok {
		r.Status = status
		if brokerId != "" {
			r.BrokerOrderId = brokerId
		}
	}
	return nil
}

func (s *memOrderStore) ListByGroup(ctx context.Context, groupId string) ([]model.OrderRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.OrderRecord
	for _, r := range s.rows {
		if r.GroupId == groupId {
			out = append(out, *r)
		}
	}
	return out, nil
}

type memGroupStore struct {
	mu   sync.Mutex
	rows map[string]*model.OCOGroup
}

func newMemGroupStore() *memGroupStore {
	return &memGroupStore{rows: make(map[string]*model.OCOGroup)}
}

func (s *memGroupStore) Insert(ctx context.Context, g *model.OCOGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *g
	s.rows[g.GroupId] = &cp
	return nil
}

func (s *memGroupStore) GetByGroupId(ctx context.Context, id string) (model.OCOGroup, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.rows[id]
	if !ok {
		return model.OCOGroup{}, false, nil
	}
	return *g, true, nil
}

func (s *memGroupStore) GetByEntryId(ctx context.Context, entryId string) (model.OCOGroup, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.rows {
		if g.EntryId == entryId {
			return *g, true, nil
		}
	}
	return model.OCOGroup{}, false, nil
}

func (s *memGroupStore) UpdateStatus(ctx context.Context, id string, status model.OCOStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.rows[id]; ok {
		g.Status = status
		g.CloseReason = reason
	}
	return nil
}

func (s *memGroupStore) ListOpen(ctx context.Context) ([]model.OCOGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.OCOGroup
	for _, g := range s.rows {
		if g.Status == model.OCOOpen {
			out = append(out, *g)
		}
	}
	return out, nil
}

// pumpEvents 把sim积压的事件全部交给oco管理器处理
func pumpEvents(t *testing.T, m *oco.Manager, b *sim.Simulated) {
	t.Helper()
	for {
		select {
		case ev := <-b.Events():
			if err := m.HandleOrderEvent(context.Background(), ev); err != nil {
				t.Fatalf("handle event %s: %v", ev.ClientOrderId, err)
			}
		default:
			return
		}
	}
}

type fakeSubmitter struct {
	mu    sync.Mutex
	plans []model.Plan
	hooks oco.Hooks
	calls []string
}

func (f *fakeSubmitter) SubmitEntry(ctx context.Context, plan model.Plan) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plans = append(f.plans, plan)
	return "group-" + plan.Symbol, nil
}

func (f *fakeSubmitter) CancelGroup(ctx context.Context, groupId string, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "cancel:"+groupId)
	return nil
}

func (f *fakeSubmitter) SetHooks(h oco.Hooks) { f.hooks = h }

func (f *fakeSubmitter) planCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.plans)
}

type fakeFeed struct {
	ticks map[string]model.Tick
	bars  map[string][]model.Bar
}

func (f *fakeFeed) LatestTick(symbol string) (model.Tick, bool) {
	t, ok := f.ticks[symbol]
	return t, ok
}

func (f *fakeFeed) RecentBars(symbol string, window int) []model.Bar {
	return f.bars[symbol]
}

var _ marketdata.Feed = (*fakeFeed)(nil)

// 固定返回信号的桩策略，handler可按测试替换
type stubStrategy struct {
	mu      sync.Mutex
	handler func(c strategy.Context) []model.Signal
	evals   int
}

var stub = &stubStrategy{}

func init() {
	strategy.Register(stub)
}

func (s *stubStrategy) Name() string { return "stub" }

func (s *stubStrategy) Evaluate(c strategy.Context) []model.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evals++
	if s.handler == nil {
		return nil
	}
	return s.handler(c)
}

func (s *stubStrategy) set(h func(c strategy.Context) []model.Signal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
	s.evals = 0
}

func (s *stubStrategy) evalCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evals
}

func testConfig() conf.EngineConfig {
	return conf.EngineConfig{
		Symbols:      []string{"NIFTY25SEPFUT"},
		ScanInterval: time.Hour, // 循环靠手动触发，ticker不参与
		LockTTL:      10 * time.Second,
		LockRefresh:  time.Hour,
		BarWindow:    50,
	}
}

func testInstrument() model.Instrument {
	return model.Instrument{
		Token: 53001, Symbol: "NIFTY25SEPFUT", Exchange: "NFO",
		Class: model.ClassFutures, LotSize: 75, TickSize: 0.05,
	}
}

type env struct {
	orch   *Orchestrator
	lock   *fakeLock
	subm   *fakeSubmitter
	pos    *memPositions
	ins    *memInstruments
	broker *sim.Simulated
	feed   *fakeFeed
	m      *metrics.Metrics
}

func newEnv(t *testing.T) *env {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatal(err)
	}
	e := &env{
		lock: &fakeLock{acquireOK: true},
		subm: &fakeSubmitter{},
		pos:  newMemPositions(),
		ins:  newMemInstruments(testInstrument()),
		feed: &fakeFeed{
			ticks: map[string]model.Tick{
				"NIFTY25SEPFUT": {Symbol: "NIFTY25SEPFUT", Price: 24500, Timestamp: time.Now()},
			},
			bars: map[string][]model.Bar{},
		},
		broker: sim.NewSimulated(),
		m:      metrics.New(),
	}
	e.orch = New(testConfig(), Deps{
		Lock:        e.lock,
		Feed:        e.feed,
		Risk:        risk.NewManager(conf.RiskConfig{RiskPct: 1, MaxPortfolioHeatPct: 6, DailyLossStopPct: 3, Capital: 1000000}),
		OCO:         e.subm,
		Broker:      e.broker,
		Positions:   e.pos,
		Instruments: e.ins,
		Metrics:     e.m,
		Node:        node,
		ConfigSHA:   "cfgtest",
	})
	t.Cleanup(func() {
		_ = e.orch.Stop(context.Background())
		_ = e.broker.Close()
	})
	return e
}

func TestStartRecoversOpenPosition(t *testing.T) {
	stub.set(nil)
	e := newEnv(t)

	stored := model.Position{
		PositionId: 9001, Token: 53001, Symbol: "NIFTY25SEPFUT",
		Side: model.Long, Quantity: 75, EntryPrice: 24400,
		StopLoss: 24300, Strategy: "ema_momentum", Status: model.PositionOpen,
		OpenTime: time.Now().Add(-time.Hour),
	}
	if err := e.pos.Save(context.Background(), &stored); err != nil {
		t.Fatal(err)
	}

	if err := e.orch.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	got := e.orch.Positions()
	if len(got) != 1 {
		t.Fatalf("recovered %d positions, want 1", len(got))
	}
	p := got[0]
	if p.Token != stored.Token || p.EntryPrice != stored.EntryPrice ||
		p.Quantity != stored.Quantity || p.Strategy != stored.Strategy {
		t.Errorf("recovered position differs from stored: %+v", p)
	}
	if p.Degraded {
		t.Error("resolvable position marked degraded")
	}
	if e.orch.State() != StateRunning {
		t.Errorf("state = %s, want RUNNING", e.orch.State())
	}
}

func TestRecoveryKeepsUnresolvableAsDegraded(t *testing.T) {
	stub.set(nil)
	e := newEnv(t)

	stored := model.Position{
		PositionId: 9002, Token: 99999, Symbol: "DELISTED",
		Side: model.Long, Quantity: 10, EntryPrice: 100,
		Status: model.PositionOpen,
	}
	if err := e.pos.Save(context.Background(), &stored); err != nil {
		t.Fatal(err)
	}

	if err := e.orch.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	got := e.orch.Positions()
	if len(got) != 1 {
		t.Fatalf("degraded position dropped: %d positions", len(got))
	}
	if !got[0].Degraded {
		t.Error("unresolvable position not marked degraded")
	}
}

func TestStartFailsWhenNotLeader(t *testing.T) {
	stub.set(nil)
	e := newEnv(t)
	e.lock.acquireOK = false

	if err := e.orch.Start(context.Background()); err == nil {
		t.Fatal("expected start to fail without leadership")
	}
	if e.orch.State() != StateStopped {
		t.Errorf("state = %s, want STOPPED", e.orch.State())
	}
}

func TestScanCycleSkipsWhenLeadershipLost(t *testing.T) {
	stub.set(func(c strategy.Context) []model.Signal {
		t.Error("strategy evaluated during a non-leader cycle")
		return nil
	})
	e := newEnv(t)

	if err := e.orch.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	// 锁被别的实例接管，且本周期抢不回来
	e.lock.setLeader(false)
	e.lock.acquireOK = false

	e.orch.ScanCycle(context.Background())

	if e.m.CyclesSkipped.Load() != 1 {
		t.Errorf("cycles_skipped = %d, want 1", e.m.CyclesSkipped.Load())
	}
	if e.subm.planCount() != 0 {
		t.Errorf("orders submitted during a skipped cycle: %d", e.subm.planCount())
	}
}

func TestScanCycleSubmitsSizedPlan(t *testing.T) {
	stub.set(func(c strategy.Context) []model.Signal {
		return []model.Signal{{
			Strategy: "stub", Symbol: c.Instrument.Symbol, Side: model.Long,
			Price: 800, Stop: 780, TP1: 830, TP2: 860,
			OrderType: model.Limit, Timestamp: c.Timestamp,
		}}
	})
	e := newEnv(t)

	if err := e.orch.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	e.orch.ScanCycle(context.Background())

	if e.subm.planCount() != 1 {
		t.Fatalf("plans submitted = %d, want 1", e.subm.planCount())
	}
	plan := e.subm.plans[0]
	// capital 1M, risk 1% => 10000风险额度 / 20止损距离 = 500，按75手向下取整到450
	if plan.Quantity != 450 {
		t.Errorf("plan quantity = %d, want 450", plan.Quantity)
	}
	if plan.ConfigSHA != "cfgtest" {
		t.Errorf("plan config sha = %s", plan.ConfigSHA)
	}
	if e.m.ScanCycles.Load() != 1 {
		t.Errorf("scan_cycles = %d, want 1", e.m.ScanCycles.Load())
	}
}

func TestEntryFillOpensPositionAndExitClosesIt(t *testing.T) {
	stub.set(nil)
	e := newEnv(t)
	if err := e.orch.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	group := model.OCOGroup{
		GroupId: "g1", Symbol: "NIFTY25SEPFUT",
		StopPrice: 24400, TP1Price: 24650, Status: model.OCOOpen,
	}
	entry := model.OrderRecord{
		ClientOrderId: "c-entry", Symbol: "NIFTY25SEPFUT", Side: model.Buy,
		Quantity: 75, Price: 24500, Role: model.RoleEntry, GroupId: "g1",
		Strategy: "stub",
	}
	e.subm.hooks.OnEntryFill(group, entry, model.OrderEvent{
		ClientOrderId: "c-entry", Status: model.StatusFilled,
		FilledQty: 75, AvgPrice: 24500, Timestamp: time.Now(),
	})

	got := e.orch.Positions()
	if len(got) != 1 {
		t.Fatalf("positions after entry fill = %d, want 1", len(got))
	}
	if got[0].Side != model.Long || got[0].EntryPrice != 24500 || got[0].Token != 53001 {
		t.Errorf("opened position wrong: %+v", got[0])
	}

	// TP1成交，组关闭，仓位应以已实现盈亏平掉
	e.subm.hooks.OnGroupClosed(group, "TP1_filled", model.OrderEvent{
		Status: model.StatusFilled, FilledQty: 75, AvgPrice: 24650, Timestamp: time.Now(),
	})

	got = e.orch.Positions()
	if len(got) != 1 {
		t.Fatalf("position book size = %d", len(got))
	}
	if got[0].Status != model.PositionClosed {
		t.Errorf("position status = %s, want CLOSED", got[0].Status)
	}
	want := float64(75) * (24650 - 24500)
	if got[0].Realized != want {
		t.Errorf("realized = %.2f, want %.2f", got[0].Realized, want)
	}
}

func TestCloseAllPositionsFlattens(t *testing.T) {
	stub.set(nil)
	e := newEnv(t)
	if err := e.orch.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	group := model.OCOGroup{GroupId: "g2", Symbol: "NIFTY25SEPFUT", StopPrice: 24400, Status: model.OCOOpen}
	entry := model.OrderRecord{
		ClientOrderId: "c-e2", Symbol: "NIFTY25SEPFUT", Side: model.Buy,
		Quantity: 75, Price: 24500, Role: model.RoleEntry, GroupId: "g2", Strategy: "stub",
	}
	e.subm.hooks.OnEntryFill(group, entry, model.OrderEvent{
		Status: model.StatusFilled, FilledQty: 75, AvgPrice: 24500, Timestamp: time.Now(),
	})

	closed, err := e.orch.CloseAllPositions(context.Background(), "manual")
	if err != nil {
		t.Fatalf("close all: %v", err)
	}
	if closed != 1 {
		t.Fatalf("closed = %d, want 1", closed)
	}
	for _, p := range e.orch.Positions() {
		if p.Status != model.PositionClosed {
			t.Errorf("position %d still %s", p.PositionId, p.Status)
		}
	}
	// 保护腿的组也要被撤
	if len(e.subm.calls) != 1 || e.subm.calls[0] != "cancel:g2" {
		t.Errorf("group cancel calls = %v", e.subm.calls)
	}
}

func TestCycleFailureTransitionsToException(t *testing.T) {
	stub.set(nil)
	e := newEnv(t)
	if err := e.orch.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	e.ins.mu.Lock()
	e.ins.err = errors.New("db gone")
	e.ins.mu.Unlock()

	e.orch.ScanCycle(context.Background())

	if e.orch.State() != StateException {
		t.Fatalf("state = %s, want EXCEPTION", e.orch.State())
	}
	if e.m.CyclesFailed.Load() != 1 {
		t.Errorf("cycles_failed = %d, want 1", e.m.CyclesFailed.Load())
	}

	// 显式restart允许从EXCEPTION回到RUNNING
	e.ins.mu.Lock()
	e.ins.err = nil
	e.ins.mu.Unlock()
	if err := e.orch.Start(context.Background()); err != nil {
		t.Fatalf("restart after exception: %v", err)
	}
	if e.orch.State() != StateRunning {
		t.Errorf("state after restart = %s, want RUNNING", e.orch.State())
	}
}

func TestStopIsIdempotent(t *testing.T) {
	stub.set(nil)
	e := newEnv(t)
	if err := e.orch.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := e.orch.Stop(context.Background()); err != nil {
		t.Fatalf("first stop: %v", err)
	}
	if e.orch.State() != StateStopped {
		t.Fatalf("state = %s, want STOPPED", e.orch.State())
	}
	if err := e.orch.Stop(context.Background()); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if e.lock.IsLeader() {
		t.Error("lock still held after stop")
	}
}

func TestStartIsIdempotentWhileRunning(t *testing.T) {
	stub.set(nil)
	e := newEnv(t)
	if err := e.orch.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := e.orch.Start(context.Background()); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if e.orch.State() != StateRunning {
		t.Errorf("state = %s, want RUNNING", e.orch.State())
	}
}

// 接真实oco.Manager：CancelGroup触发的OnGroupClosed不得重复结算，
// kill switch全程只记一次平仓、一次盈亏
func TestCloseAllWithRealOCOManagerSettlesOnce(t *testing.T) {
	stub.set(nil)
	ctx := context.Background()
	node, err := snowflake.NewNode(2)
	if err != nil {
		t.Fatal(err)
	}
	b := sim.NewSimulated()
	m := metrics.New()
	mgr := oco.NewManager(b, newMemOrderStore(), newMemGroupStore(), nil, m)
	pos := newMemPositions()
	orch := New(testConfig(), Deps{
		Lock: &fakeLock{acquireOK: true},
		Feed: &fakeFeed{
			ticks: map[string]model.Tick{
				"NIFTY25SEPFUT": {Symbol: "NIFTY25SEPFUT", Price: 24450, Timestamp: time.Now()},
			},
			bars: map[string][]model.Bar{},
		},
		Risk:        risk.NewManager(conf.RiskConfig{RiskPct: 1, MaxPortfolioHeatPct: 6, DailyLossStopPct: 3, Capital: 1000000}),
		OCO:         mgr,
		Broker:      b,
		Positions:   pos,
		Instruments: newMemInstruments(testInstrument()),
		Metrics:     m,
		Node:        node,
		ConfigSHA:   "cfgtest",
	})
	t.Cleanup(func() {
		_ = orch.Stop(ctx)
		_ = b.Close()
	})
	if err := orch.Start(ctx); err != nil {
		t.Fatal(err)
	}

	plan := model.Plan{
		Symbol: "NIFTY25SEPFUT", Side: model.Long,
		Entry: 24500, Stop: 24400, TP1: 24650, TP2: 24800,
		Quantity: 75, Strategy: "stub", ConfigSHA: "cfgtest",
		OrderType: model.Limit, Timestamp: time.Now(),
	}
	gid, err := mgr.SubmitEntry(ctx, plan)
	if err != nil {
		t.Fatalf("submit entry: %v", err)
	}
	entryId := idem.OrderClientId(idem.PlanClientId(plan), model.RoleEntry, gid)
	if err := b.Fill(entryId, 24500); err != nil {
		t.Fatal(err)
	}
	pumpEvents(t, mgr, b)

	opened := orch.Positions()
	if len(opened) != 1 {
		t.Fatalf("positions after entry fill = %d, want 1", len(opened))
	}
	pid := opened[0].PositionId

	closed, err := orch.CloseAllPositions(ctx, "manual")
	if err != nil {
		t.Fatalf("close all: %v", err)
	}
	if closed != 1 {
		t.Fatalf("closed = %d, want 1", closed)
	}

	history := pos.closeHistory(pid)
	if len(history) != 1 {
		t.Fatalf("position persisted closed %d times with realized values %v, want exactly 1", len(history), history)
	}
	// 平仓价取最新tick 24450，入场24500多头75手
	want := 75 * (24450.0 - 24500.0)
	if history[0] != want {
		t.Errorf("realized = %.2f, want %.2f", history[0], want)
	}
	if orch.State() != StateRunning {
		t.Errorf("state after manual close-all = %s, want RUNNING", orch.State())
	}
}

// 当日亏损熔断进DONE后，Stop仍要能停循环并释放领导锁
func TestStopAfterDailyLossStop(t *testing.T) {
	stub.set(nil)
	e := newEnv(t)

	losing := model.Position{
		PositionId: 9200, Token: 53001, Symbol: "NIFTY25SEPFUT",
		Side: model.Long, Quantity: 75, EntryPrice: 25000,
		CurrentPrice: 24500, Unrealized: -50000,
		Status: model.PositionOpen,
	}
	if err := e.pos.Save(context.Background(), &losing); err != nil {
		t.Fatal(err)
	}
	if err := e.orch.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	// 浮亏5万超过3%熔断线，周期内强制清仓并进DONE
	e.orch.ScanCycle(context.Background())
	if e.orch.State() != StateDone {
		t.Fatalf("state = %s, want DONE", e.orch.State())
	}
	if got := e.pos.closeHistory(9200); len(got) != 1 {
		t.Errorf("forced flatten persisted %d closes, want 1", len(got))
	}

	if err := e.orch.Stop(context.Background()); err != nil {
		t.Fatalf("stop from DONE: %v", err)
	}
	if e.orch.State() != StateStopped {
		t.Errorf("state = %s, want STOPPED", e.orch.State())
	}
	if e.lock.IsLeader() {
		t.Error("leader lock still held after stop from DONE")
	}
}

// 周期内抢回领导权也要跳过本周期：先重建账本，下个周期再评估
func TestReacquiredLeadershipSkipsCycle(t *testing.T) {
	stub.set(func(c strategy.Context) []model.Signal {
		t.Error("strategy evaluated in the cycle that re-acquired leadership")
		return nil
	})
	e := newEnv(t)
	if err := e.orch.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	// 空窗期内别的实例开了仓
	foreign := model.Position{
		PositionId: 9300, Token: 53001, Symbol: "NIFTY25SEPFUT",
		Side: model.Long, Quantity: 75, EntryPrice: 24450,
		Status: model.PositionOpen,
	}
	if err := e.pos.Save(context.Background(), &foreign); err != nil {
		t.Fatal(err)
	}

	// 锁被接管过，但本周期能抢回
	e.lock.setLeader(false)
	e.orch.ScanCycle(context.Background())

	if !e.lock.IsLeader() {
		t.Fatal("expected leadership to be re-acquired")
	}
	if e.m.CyclesSkipped.Load() != 1 {
		t.Errorf("cycles_skipped = %d, want 1", e.m.CyclesSkipped.Load())
	}
	if e.subm.planCount() != 0 {
		t.Errorf("orders submitted in the re-acquire cycle: %d", e.subm.planCount())
	}
	found := false
	for _, p := range e.orch.Positions() {
		if p.PositionId == 9300 {
			found = true
		}
	}
	if !found {
		t.Error("position book not resynced on re-acquire")
	}

	// 下个周期正常评估
	stub.set(nil)
	e.orch.ScanCycle(context.Background())
	if stub.evalCount() != 1 {
		t.Errorf("evaluations in the following cycle = %d, want 1", stub.evalCount())
	}
	if e.m.ScanCycles.Load() != 1 {
		t.Errorf("scan_cycles = %d, want 1", e.m.ScanCycles.Load())
	}
}
