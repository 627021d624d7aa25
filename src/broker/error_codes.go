package broker

import "fmt"

// ErrorCodes maps the broker's numeric error codes to human-readable
// messages, the same shape as the teacher's Phemex error table. The
// broker observed here surfaces machine codes in its JSON error body
// (distinct from the Phemex bizError codes the teacher's table covers).
var ErrorCodes = map[int]string{
	4001001: "INVALID_SYMBOL",
	4001002: "INVALID_SIDE",
	4001003: "INVALID_QUANTITY",
	4001004: "INVALID_PRICE",
	4001005: "PARAMETER_CONVERSION_ERROR", // market/exchange code rejected; retry with a candidate code
	4001006: "ORDER_NOT_FOUND",
	4001007: "INSUFFICIENT_MARGIN",
	4001008: "MARKET_CLOSED",
}

// errCodeMarketMismatch is the one code the Broker Adapter treats
// specially: on this code, SendEntry/SendExit retry the same payload
// against the next candidate market code instead of surfacing a reject
// immediately (see marketCodeFallback, grounded on
// _examples/original_source/logic_worker_mixin.py's
// retry_candidates_by_exchange table).
const errCodeMarketMismatch = 4001005

func ErrorMessage(code int) string {
	if msg, ok := ErrorCodes[code]; ok {
		return msg
	}
	return fmt.Sprintf("UNKNOWN_BROKER_ERROR_%d", code)
}
