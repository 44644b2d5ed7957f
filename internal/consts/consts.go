package consts

import "time"

const (
	// RequestId 请求id名称
	RequestId = "request_id"

	// 领导锁的key，多实例部署时竞争同一把锁
	LeaderLockKey = "quantflow:leader"
	// 实例心跳key前缀，每个扫描周期刷新一次
	HeartbeatPrefix = "quantflow:heartbeat:"
	// 心跳过期时间
	HeartbeatTTL = time.Minute

	DateLayout   = "2006-01-02"
	TimeLayout   = "2006-01-02 15:04:05"
	TimeLayoutMs = "2006-01-02 15:04:05.000"
)

// 审计事件类型
const (
	AuditOrderPlaced    = "order_placed"
	AuditOrderStatus    = "order_status"
	AuditOCOCreated     = "oco_created"
	AuditOCOClosed      = "oco_closed"
	AuditOCOCancelWarn  = "oco_cancel_tolerated"
	AuditKillSwitch     = "kill_switch"
	AuditStateChange    = "supervisor_state"
	AuditRecovery       = "position_recovery"
	AuditRiskRejected   = "risk_rejected"
	AuditLeadershipLost = "leadership_lost"
)
