package orders

import (
	"context"
	"errors"
	"strings"
)

// ErrOrderNotFound 订单不存在
var ErrOrderNotFound = errors.New("order not found")

// Order 订单快照，结构由数据源决定，不做schema约束
type Order map[string]interface{}

// Store 只读订单查询服务
type Store interface {
	// Lookup 按订单号精确查询
	Lookup(ctx context.Context, orderNumber string) (Order, error)
	// SearchByPhone 按归一化号码线性查找
	SearchByPhone(ctx context.Context, phone string) (Order, error)
}

// NormalizePhone 归一化电话号码：去掉空格、横线、括号，
// 再去掉+91/91国家码前缀
func NormalizePhone(phone string) string {
	replacer := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", "+", "")
	cleaned := replacer.Replace(strings.TrimSpace(phone))

	if strings.HasPrefix(cleaned, "91") && len(cleaned) == 12 {
		cleaned = cleaned[2:]
	}

	return cleaned
}

// NormalizeOrderNumber 归一化订单号：去空白并转大写
func NormalizeOrderNumber(orderNumber string) string {
	return strings.ToUpper(strings.TrimSpace(orderNumber))
}

// Search 组合查询：先按订单号，再按电话号码。
// 两个条件都未命中或都为空时返回ErrOrderNotFound。
func Search(ctx context.Context, store Store, orderNumber, phone string) (Order, error) {
	if orderNumber != "" {
		order, err := store.Lookup(ctx, orderNumber)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, ErrOrderNotFound) {
			return nil, err
		}
	}

	if phone != "" {
		order, err := store.SearchByPhone(ctx, phone)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, ErrOrderNotFound) {
			return nil, err
		}
	}

	return nil, ErrOrderNotFound
}

// customerPhone 从订单数据中取出客户电话
func customerPhone(order Order) string {
	customer, ok := order["customer"].(map[string]interface{})
	if !ok {
		return ""
	}
	phone, _ := customer["phone"].(string)
	return phone
}
