package exchange

import (
	"strings"

	ccxt "github.com/ccxt/ccxt/go/v4"
)

// NormalizeOrderID 从下单回执中提取订单号。Kraken 的原始响应把
// 事务号放在列表字段 txid 中，其他响应形态则提供普通的 id 或
// order_id 字段；所有形态在此统一，上层执行器不再分支处理。
// 无法提取时返回空串，由调用方按"静默下单失败"处理。
func NormalizeOrderID(order ccxt.Order) string {
	if id := derefString(order.Id); id != "" {
		return id
	}

	if order.Info == nil {
		return ""
	}

	if id, ok := order.Info["order_id"].(string); ok && id != "" {
		return id
	}

	// Kraken: {"txid": ["OXXXXX-YYYYY-ZZZZZ", ...]}，取首个。
	switch txid := order.Info["txid"].(type) {
	case []interface{}:
		if len(txid) > 0 {
			if id, ok := txid[0].(string); ok {
				return strings.TrimSpace(id)
			}
		}
	case []string:
		if len(txid) > 0 {
			return strings.TrimSpace(txid[0])
		}
	case string:
		return strings.TrimSpace(txid)
	}

	return ""
}

// normalizeAck 将 ccxt 订单回执转换为统一回执。
func normalizeAck(order ccxt.Order) OrderAck {
	ack := OrderAck{
		OrderID:     NormalizeOrderID(order),
		Price:       firstPositive(derefFloat(order.Average), derefFloat(order.Price)),
		FilledBase:  derefFloat(order.Filled),
		FilledQuote: derefFloat(order.Cost),
	}
	if order.Fee.Cost != nil {
		ack.Fee = *order.Fee.Cost
	}
	return ack
}

// normalizeStatus 将 ccxt 订单查询结果转换为统一状态。
func normalizeStatus(order ccxt.Order) OrderStatus {
	status := OrderStatus{
		FilledBase:  derefFloat(order.Filled),
		FilledQuote: derefFloat(order.Cost),
		Price:       firstPositive(derefFloat(order.Average), derefFloat(order.Price)),
	}

	remaining := derefFloat(order.Remaining)
	switch strings.ToLower(derefString(order.Status)) {
	case "closed":
		status.State = OrderFilled
	case "canceled", "cancelled", "expired", "rejected":
		status.State = OrderCanceled
	default:
		if status.FilledBase > 0 && remaining > 0 {
			status.State = OrderPartial
		} else if status.FilledBase > 0 && remaining == 0 && derefString(order.Status) == "" {
			status.State = OrderFilled
		} else {
			status.State = OrderOpen
		}
	}

	if status.State == OrderOpen && status.FilledBase > 0 {
		status.State = OrderPartial
	}

	return status
}

func derefFloat(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return strings.TrimSpace(*v)
}

func firstPositive(values ...float64) float64 {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
