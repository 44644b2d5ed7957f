package oco

import (
	"context"
	"sync"
	"time"

	"quantflow/internal/broker"
	"quantflow/internal/consts"
	"quantflow/internal/idem"
	"quantflow/internal/metrics"
	"quantflow/internal/model"
	"quantflow/pkg/errors"
	"quantflow/pkg/errors/ecode"
	"quantflow/pkg/logger"
)

// OCO组管理。一个入场单加它的保护性出场腿构成一个组：
//   - 出场腿只在入场成交之后才会发给券商
//   - 任意一条出场腿成交，级联撤销其余腿并关闭组
//   - 所有client id都是从Plan确定性派生的，重复提交不会产生新订单

// OrderStore / GroupStore 是dao层的消费侧子集，方便单测替换
type OrderStore interface {
	Insert(ctx context.Context, record *model.OrderRecord) error
	GetByClientId(ctx context.Context, clientOrderId string) (model.OrderRecord, bool, error)
	UpdateStatus(ctx context.Context, clientOrderId string, status model.OrderStatusCode, brokerOrderId string) error
	ListByGroup(ctx context.Context, groupId string) ([]model.OrderRecord, error)
}

type GroupStore interface {
	Insert(ctx context.Context, group *model.OCOGroup) error
	GetByGroupId(ctx context.Context, groupId string) (model.OCOGroup, bool, error)
	GetByEntryId(ctx context.Context, entryClientId string) (model.OCOGroup, bool, error)
	UpdateStatus(ctx context.Context, groupId string, status model.OCOStatus, reason string) error
	ListOpen(ctx context.Context) ([]model.OCOGroup, error)
}

type Auditor interface {
	Append(ctx context.Context, kind, refId string, detail interface{}) error
}

// Hooks 编排器挂载的成交回调，维护仓位账本用
type Hooks struct {
	// 入场腿成交
	OnEntryFill func(group model.OCOGroup, entry model.OrderRecord, ev model.OrderEvent)
	// 组关闭（出场成交、入场撤销/拒绝）
	OnGroupClosed func(group model.OCOGroup, reason string, ev model.OrderEvent)
}

type Manager struct {
	broker  broker.Broker
	orders  OrderStore
	groups  GroupStore
	audit   Auditor
	metrics *metrics.Metrics
	hooks   Hooks

	// 按组串行处理事件，跨组并发
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewManager(b broker.Broker, orders OrderStore, groups GroupStore, audit Auditor, m *metrics.Metrics) *Manager {
	return &Manager{
		broker:  b,
		orders:  orders,
		groups:  groups,
		audit:   audit,
		metrics: m,
		locks:   make(map[string]*sync.Mutex),
	}
}

func (m *Manager) SetHooks(h Hooks) {
	m.hooks = h
}

func (m *Manager) groupLock(groupId string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[groupId]
	if !ok {
		l = &sync.Mutex{}
		m.locks[groupId] = l
	}
	return l
}

// invertSide 出场方向统一从这里派生：永远是入场方向的反面
func invertSide(entry model.OrderSide) model.OrderSide {
	if entry == model.Buy {
		return model.Sell
	}
	return model.Buy
}

// SubmitEntry 按Plan创建OCO组并提交入场单。
// 同一个Plan重复提交会命中已有的client id，直接返回原组，不产生新订单
func (m *Manager) SubmitEntry(ctx context.Context, plan model.Plan) (string, error) {
	planId := idem.PlanClientId(plan)
	groupId := planId
	entryId := idem.OrderClientId(planId, model.RoleEntry, groupId)

	lock := m.groupLock(groupId)
	lock.Lock()
	defer lock.Unlock()

	// 幂等检查：入场单已存在说明这个Plan提交过
	if existing, found, err := m.orders.GetByClientId(ctx, entryId); err != nil {
		return "", err
	} else if found {
		logger.Info("plan already submitted, skipping",
			logger.Pair("client_order_id", entryId),
			logger.Pair("status", string(existing.Status)))
		return groupId, errors.Newf(ecode.OrderDuplicate, "plan already submitted: %s", entryId)
	}

	slId := idem.OrderClientId(planId, model.RoleSL, groupId)
	tp1Id := idem.OrderClientId(planId, model.RoleTP1, groupId)
	tp2Id := ""
	if plan.TP2 > 0 {
		tp2Id = idem.OrderClientId(planId, model.RoleTP2, groupId)
	}

	group := &model.OCOGroup{
		GroupId:   groupId,
		Symbol:    plan.Symbol,
		EntryId:   entryId,
		SLId:      slId,
		TP1Id:     tp1Id,
		TP2Id:     tp2Id,
		StopPrice: plan.Stop,
		TP1Price:  plan.TP1,
		TP2Price:  plan.TP2,
		Status:    model.OCOOpen,
	}
	if err := m.groups.Insert(ctx, group); err != nil {
		return "", err
	}

	entrySide := plan.Side.EntrySide()
	record := &model.OrderRecord{
		ClientOrderId: entryId,
		Symbol:        plan.Symbol,
		Side:          entrySide,
		Quantity:      plan.Quantity,
		OrderType:     plan.OrderType,
		Price:         plan.Entry,
		Status:        model.StatusPlaced,
		Role:          model.RoleEntry,
		GroupId:       groupId,
		Strategy:      plan.Strategy,
	}
	// 先落库再下单：崩溃后恢复时以库为准向券商对账
	if err := m.orders.Insert(ctx, record); err != nil {
		return "", err
	}

	resp, err := m.broker.PlaceOrder(ctx, &model.Order{
		ClientOrderId: entryId,
		Symbol:        plan.Symbol,
		Side:          entrySide,
		Quantity:      plan.Quantity,
		OrderType:     plan.OrderType,
		Price:         plan.Entry,
		Role:          model.RoleEntry,
		GroupId:       groupId,
		Strategy:      plan.Strategy,
	})
	if err != nil {
		if uerr := m.orders.UpdateStatus(ctx, entryId, model.StatusError, ""); uerr != nil {
			logger.Error("mark entry order error failed", logger.Pair("err", uerr.Error()))
		}
		if uerr := m.groups.UpdateStatus(ctx, groupId, model.OCOError, "entry_place_failed"); uerr != nil {
			logger.Error("mark group error failed", logger.Pair("err", uerr.Error()))
		}
		return "", err
	}

	if err := m.orders.UpdateStatus(ctx, entryId, model.StatusPlaced, resp.BrokerOrderId); err != nil {
		logger.Error("save broker order id failed",
			logger.Pair("client_order_id", entryId), logger.Pair("err", err.Error()))
	}

	if m.metrics != nil {
		m.metrics.OrdersSubmitted.Add(1)
	}
	m.auditLog(ctx, consts.AuditOCOCreated, groupId, map[string]interface{}{
		"symbol": plan.Symbol, "side": plan.Side, "entry": plan.Entry,
		"stop": plan.Stop, "tp1": plan.TP1, "tp2": plan.TP2, "qty": plan.Quantity,
	})
	m.auditLog(ctx, consts.AuditOrderPlaced, entryId, map[string]interface{}{
		"broker_order_id": resp.BrokerOrderId, "role": model.RoleEntry,
	})
	logger.Info("oco group created",
		logger.Pair("group_id", groupId),
		logger.Pair("symbol", plan.Symbol),
		logger.Pair("broker_order_id", resp.BrokerOrderId))

	return groupId, nil
}

// Run 消费券商事件流，直到ctx取消或通道关闭
func (m *Manager) Run(ctx context.Context) {
	events := m.broker.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if m.metrics != nil {
				m.metrics.OrderEvents.Add(1)
			}
			if err := m.HandleOrderEvent(ctx, ev); err != nil {
				logger.Error("order event handling failed",
					logger.Pair("client_order_id", ev.ClientOrderId),
					logger.Pair("status", string(ev.Status)),
					logger.Pair("err", err.Error()))
			}
		}
	}
}

// HandleOrderEvent 处理一条券商订单事件。同组事件串行
func (m *Manager) HandleOrderEvent(ctx context.Context, ev model.OrderEvent) error {
	record, found, err := m.orders.GetByClientId(ctx, ev.ClientOrderId)
	if err != nil {
		return err
	}
	if !found {
		// 不是本系统派生的单（人工单等），忽略
		logger.Debug("event for unknown client order id", logger.Pair("client_order_id", ev.ClientOrderId))
		return nil
	}

	lock := m.groupLock(record.GroupId)
	lock.Lock()
	defer lock.Unlock()

	if record.Status.Terminal() {
		// 重复回报，状态机只进不退
		return nil
	}

	if err := m.orders.UpdateStatus(ctx, ev.ClientOrderId, ev.Status, ev.BrokerOrderId); err != nil {
		return err
	}
	m.auditLog(ctx, consts.AuditOrderStatus, ev.ClientOrderId, map[string]interface{}{
		"status": ev.Status, "filled": ev.FilledQty, "avg_price": ev.AvgPrice,
	})

	group, found, err := m.groups.GetByGroupId(ctx, record.GroupId)
	if err != nil {
		return err
	}
	if !found {
		return errors.Newf(ecode.InvariantViolation, "order %s references missing group %s", ev.ClientOrderId, record.GroupId)
	}
	if group.Status != model.OCOOpen {
		return nil
	}

	if record.Role == model.RoleEntry {
		return m.onEntryEvent(ctx, group, record, ev)
	}
	return m.onExitEvent(ctx, group, record, ev)
}

func (m *Manager) onEntryEvent(ctx context.Context, group model.OCOGroup, entry model.OrderRecord, ev model.OrderEvent) error {
	switch ev.Status {
	case model.StatusFilled:
		if err := m.submitExits(ctx, group, entry, ev); err != nil {
			return err
		}
		if m.hooks.OnEntryFill != nil {
			m.hooks.OnEntryFill(group, entry, ev)
		}
		return nil
	case model.StatusCancelled, model.StatusRejected:
		// 入场没成交就终结了，整组关闭，出场腿从未发出
		reason := "entry_" + string(ev.Status)
		if err := m.closeGroup(ctx, group, reason, ev); err != nil {
			return err
		}
		logger.Info("oco group closed before fill",
			logger.Pair("group_id", group.GroupId), logger.Pair("reason", reason))
		return nil
	default:
		return nil
	}
}

// submitExits 入场成交后派生并提交全部出场腿。
// 出场方向只在这一处取反，所有腿共用
func (m *Manager) submitExits(ctx context.Context, group model.OCOGroup, entry model.OrderRecord, ev model.OrderEvent) error {
	exitSide := invertSide(entry.Side)
	qty := ev.FilledQty
	if qty <= 0 {
		qty = entry.Quantity
	}

	type leg struct {
		clientId  string
		role      model.OrderRole
		orderType model.OrderType
		price     float64
		trigger   float64
	}
	legs := []leg{
		{group.SLId, model.RoleSL, model.StopTrigger, group.StopPrice, group.StopPrice},
		{group.TP1Id, model.RoleTP1, model.Limit, group.TP1Price, 0},
	}
	if group.TP2Id != "" {
		legs = append(legs, leg{group.TP2Id, model.RoleTP2, model.Limit, group.TP2Price, 0})
	}

	for _, l := range legs {
		if l.clientId == "" {
			continue
		}
		// 幂等：重放入场成交事件时已有的腿直接跳过
		if _, found, err := m.orders.GetByClientId(ctx, l.clientId); err != nil {
			return err
		} else if found {
			continue
		}

		record := &model.OrderRecord{
			ClientOrderId: l.clientId,
			Symbol:        group.Symbol,
			Side:          exitSide,
			Quantity:      qty,
			OrderType:     l.orderType,
			Price:         l.price,
			TriggerPrice:  l.trigger,
			Status:        model.StatusPlaced,
			Role:          l.role,
			GroupId:       group.GroupId,
			Strategy:      entry.Strategy,
		}
		if err := m.orders.Insert(ctx, record); err != nil {
			return err
		}

		resp, err := m.broker.PlaceOrder(ctx, &model.Order{
			ClientOrderId: l.clientId,
			Symbol:        group.Symbol,
			Side:          exitSide,
			Quantity:      qty,
			OrderType:     l.orderType,
			Price:         l.price,
			TriggerPrice:  l.trigger,
			Role:          l.role,
			GroupId:       group.GroupId,
			Strategy:      entry.Strategy,
		})
		if err != nil {
			// 保护腿下单失败是严重事件：仓位裸奔，组置ERROR等人工介入
			if uerr := m.orders.UpdateStatus(ctx, l.clientId, model.StatusError, ""); uerr != nil {
				logger.Error("mark exit leg error failed", logger.Pair("err", uerr.Error()))
			}
			if uerr := m.groups.UpdateStatus(ctx, group.GroupId, model.OCOError, "exit_place_failed:"+string(l.role)); uerr != nil {
				logger.Error("mark group error failed", logger.Pair("err", uerr.Error()))
			}
			return errors.Wrap(err, ecode.BrokerErr, "place exit leg "+string(l.role))
		}
		if err := m.orders.UpdateStatus(ctx, l.clientId, model.StatusPlaced, resp.BrokerOrderId); err != nil {
			logger.Error("save broker order id failed",
				logger.Pair("client_order_id", l.clientId), logger.Pair("err", err.Error()))
		}
		if m.metrics != nil {
			m.metrics.OrdersSubmitted.Add(1)
		}
		m.auditLog(ctx, consts.AuditOrderPlaced, l.clientId, map[string]interface{}{
			"broker_order_id": resp.BrokerOrderId, "role": l.role, "side": exitSide,
		})
	}

	logger.Info("protective legs submitted",
		logger.Pair("group_id", group.GroupId),
		logger.Pair("exit_side", string(exitSide)),
		logger.Pair("qty", qty))
	return nil
}

func (m *Manager) onExitEvent(ctx context.Context, group model.OCOGroup, exit model.OrderRecord, ev model.OrderEvent) error {
	switch ev.Status {
	case model.StatusFilled:
		// 一腿成交，级联撤销其余腿
		m.cancelSiblings(ctx, group, exit.ClientOrderId)
		reason := string(exit.Role) + "_filled"
		if err := m.closeGroup(ctx, group, reason, ev); err != nil {
			return err
		}
		return nil
	default:
		// 撤销/拒绝回报只落状态，组的关闭由成交腿驱动
		return nil
	}
}

// cancelSiblings 撤销除filledId外的全部出场腿。
// 兄弟腿已经到终态的撤单失败是正常竞态，告警但不报错
func (m *Manager) cancelSiblings(ctx context.Context, group model.OCOGroup, filledId string) {
	for _, id := range group.ExitIds() {
		if id == filledId {
			continue
		}
		sibling, found, err := m.orders.GetByClientId(ctx, id)
		if err != nil {
			logger.Error("load sibling failed", logger.Pair("client_order_id", id), logger.Pair("err", err.Error()))
			continue
		}
		if !found || sibling.Status.Terminal() {
			continue
		}
		if err := m.broker.CancelOrder(ctx, sibling.BrokerOrderId, group.Symbol); err != nil {
			// 撤单窗口里券商侧可能已经成交或撤销了
			logger.Warn("sibling cancel tolerated",
				logger.Pair("group_id", group.GroupId),
				logger.Pair("client_order_id", id),
				logger.Pair("err", err.Error()))
			m.auditLog(ctx, consts.AuditOCOCancelWarn, id, map[string]interface{}{
				"group_id": group.GroupId, "err": err.Error(),
			})
			continue
		}
		if err := m.orders.UpdateStatus(ctx, id, model.StatusCancelled, ""); err != nil {
			logger.Error("save sibling cancel failed", logger.Pair("client_order_id", id), logger.Pair("err", err.Error()))
		}
	}
}

func (m *Manager) closeGroup(ctx context.Context, group model.OCOGroup, reason string, ev model.OrderEvent) error {
	if err := m.groups.UpdateStatus(ctx, group.GroupId, model.OCOClosed, reason); err != nil {
		return err
	}
	if m.metrics != nil {
		m.metrics.GroupsClosed.Add(1)
	}
	m.auditLog(ctx, consts.AuditOCOClosed, group.GroupId, map[string]interface{}{
		"reason": reason, "avg_price": ev.AvgPrice, "filled": ev.FilledQty,
	})
	if m.hooks.OnGroupClosed != nil {
		m.hooks.OnGroupClosed(group, reason, ev)
	}
	logger.Info("oco group closed",
		logger.Pair("group_id", group.GroupId), logger.Pair("reason", reason))
	return nil
}

// CancelGroup 主动关闭一个组：撤掉所有未终结的腿（kill switch用）
func (m *Manager) CancelGroup(ctx context.Context, groupId string, reason string) error {
	lock := m.groupLock(groupId)
	lock.Lock()
	defer lock.Unlock()

	group, found, err := m.groups.GetByGroupId(ctx, groupId)
	if err != nil {
		return err
	}
	if !found {
		return errors.Newf(ecode.NotFound, "oco group not found: %s", groupId)
	}
	if group.Status != model.OCOOpen {
		return nil
	}

	records, err := m.orders.ListByGroup(ctx, groupId)
	if err != nil {
		return err
	}
	for _, r := range records {
		if r.Status.Terminal() {
			continue
		}
		if err := m.broker.CancelOrder(ctx, r.BrokerOrderId, r.Symbol); err != nil {
			logger.Warn("cancel tolerated",
				logger.Pair("client_order_id", r.ClientOrderId),
				logger.Pair("err", err.Error()))
			m.auditLog(ctx, consts.AuditOCOCancelWarn, r.ClientOrderId, map[string]interface{}{
				"group_id": groupId, "err": err.Error(),
			})
			continue
		}
		if err := m.orders.UpdateStatus(ctx, r.ClientOrderId, model.StatusCancelled, ""); err != nil {
			logger.Error("save cancel failed", logger.Pair("client_order_id", r.ClientOrderId), logger.Pair("err", err.Error()))
		}
	}
	return m.closeGroup(ctx, group, reason, model.OrderEvent{Timestamp: time.Now()})
}

// Reconcile 重启恢复：对所有未关闭组的非终态腿向券商查状态，
// 把漏掉的回报补成事件重放
func (m *Manager) Reconcile(ctx context.Context) error {
	groups, err := m.groups.ListOpen(ctx)
	if err != nil {
		return err
	}
	for _, g := range groups {
		records, err := m.orders.ListByGroup(ctx, g.GroupId)
		if err != nil {
			return err
		}
		for _, r := range records {
			if r.Status.Terminal() || r.BrokerOrderId == "" {
				continue
			}
			st, err := m.broker.GetOrderStatus(ctx, r.BrokerOrderId)
			if err != nil {
				logger.Warn("reconcile status query failed",
					logger.Pair("client_order_id", r.ClientOrderId),
					logger.Pair("err", err.Error()))
				continue
			}
			if st.Status == r.Status {
				continue
			}
			ev := model.OrderEvent{
				ClientOrderId: r.ClientOrderId,
				BrokerOrderId: r.BrokerOrderId,
				Status:        st.Status,
				FilledQty:     st.Filled,
				AvgPrice:      st.AvgPrice,
				Timestamp:     time.Now(),
			}
			if err := m.HandleOrderEvent(ctx, ev); err != nil {
				logger.Error("reconcile replay failed",
					logger.Pair("client_order_id", r.ClientOrderId),
					logger.Pair("err", err.Error()))
			}
		}
	}
	return nil
}

func (m *Manager) auditLog(ctx context.Context, kind, refId string, detail interface{}) {
	if m.audit == nil {
		return
	}
	if err := m.audit.Append(ctx, kind, refId, detail); err != nil {
		logger.Error("audit append failed", logger.Pair("kind", kind), logger.Pair("err", err.Error()))
	}
}
