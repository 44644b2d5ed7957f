package idem

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"quantflow/internal/model"
)

// 幂等id派生。相同的交易意图永远派生出相同的client_order_id，
// 这是系统唯一的防重机制，没有另外的去重表。
// 经济条款任何一项变化，id随之变化

const idPrefix = "QF"

// PlanClientId 对Plan的经济字段做内容寻址摘要
func PlanClientId(p model.Plan) string {
	// 价格固定8位小数参与摘要，避免浮点格式化歧义
	payload := strings.Join([]string{
		p.Symbol,
		string(p.Side),
		fmt.Sprintf("%.8f", p.Entry),
		fmt.Sprintf("%.8f", p.Stop),
		fmt.Sprintf("%.8f", p.TP1),
		fmt.Sprintf("%.8f", p.TP2),
		fmt.Sprintf("%d", p.Quantity),
		p.Strategy,
		p.ConfigSHA,
	}, "|")

	sum := sha256.Sum256([]byte(payload))
	return idPrefix + hex.EncodeToString(sum[:])[:16]
}

// OrderClientId 由plan id、角色和OCO组id组合出订单级的id。
// 同组内每个角色唯一，且可重复推导
func OrderClientId(planId string, role model.OrderRole, groupId string) string {
	payload := planId + "|" + string(role) + "|" + groupId
	sum := sha256.Sum256([]byte(payload))
	// 带上角色便于日志排查
	return fmt.Sprintf("%s-%s-%s", planId, role, hex.EncodeToString(sum[:])[:8])
}
