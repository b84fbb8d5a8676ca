package engine

import "fmt"

// ValidationError 表示入站事件缺字段或字段非法,对应 HTTP 400。
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// InsufficientDataError 表示执行所需的账户数据拿不到(比如权益非正)。
type InsufficientDataError struct {
	Reason string
}

func (e *InsufficientDataError) Error() string { return e.Reason }

// OrderPlacementError 表示下单链路失败。
type OrderPlacementError struct {
	Symbol string
	Err    error
}

func (e *OrderPlacementError) Error() string {
	return fmt.Sprintf("place order %s: %v", e.Symbol, e.Err)
}

func (e *OrderPlacementError) Unwrap() error { return e.Err }

// ExternalServiceError 表示交易所等外部依赖故障,对应 HTTP 502。
type ExternalServiceError struct {
	Service string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }
