package ecode

// 错误码定义，0表示成功
// 1xxxx 通用错误，2xxxx 交易域错误
const (
	Success = 0

	InternalErr    = 10001
	BadRequest     = 10002
	NotFound       = 10003
	RequireAuthErr = 10004

	// 订单重复提交（幂等命中），不视为故障
	OrderDuplicate = 20001
	// 风控拒绝，预期内的信号淘汰
	RiskRejected = 20002
	// 丢失领导权，禁止继续下单
	LeadershipLost = 20003
	// 券商调用失败（重试耗尽）
	BrokerErr = 20004
	// 不变量被破坏（如OCO方向错误），单笔操作致命
	InvariantViolation = 20005
	// 引擎状态不允许该操作
	BadSupervisorState = 20006
)

var messages = map[int]string{
	Success:            "ok",
	InternalErr:        "internal error",
	BadRequest:         "bad request",
	NotFound:           "not found",
	RequireAuthErr:     "authentication required",
	OrderDuplicate:     "duplicate order",
	RiskRejected:       "rejected by risk manager",
	LeadershipLost:     "leadership lost",
	BrokerErr:          "broker call failed",
	InvariantViolation: "invariant violation",
	BadSupervisorState: "operation not allowed in current state",
}

// Message 返回错误码的默认描述
func Message(code int) string {
	if msg, ok := messages[code]; ok {
		return msg
	}
	return "unknown error"
}
