package usecase

import (
	"encoding/json"
	"strings"

	"pizzeria-bot/internal/domain"
)

// Marker literals delimiting the structured order block inside a generated
// reply. The model is instructed (via the finalize directive) to emit the
// block verbatim between these sentinels.
const (
	orderBlockOpen  = "[ORDER_BLOCK]"
	orderBlockClose = "[/ORDER_BLOCK]"
)

// extractStatus tags the three possible outcomes of scanning a reply, so
// every caller handles all of them explicitly.
type extractStatus int

const (
	// orderAbsent: no complete marker pair in the reply.
	orderAbsent extractStatus = iota
	// orderMalformed: markers present but the interior is not a JSON object.
	orderMalformed
	// orderFound: block parsed; the order carries whatever fields were present.
	orderFound
)

// extractOrder scans a generated reply for a delimited order block.
//
// The block is everything between the first open marker and the first close
// marker after it. On orderFound the returned text is the reply with the
// whole block (markers inclusive) removed and trimmed, so the customer never
// sees the wire format. On orderAbsent and orderMalformed the input is
// returned unchanged.
func extractOrder(reply string) (string, domain.Order, extractStatus) {
	start := strings.Index(reply, orderBlockOpen)
	if start < 0 {
		return reply, domain.Order{}, orderAbsent
	}
	rest := reply[start+len(orderBlockOpen):]
	end := strings.Index(rest, orderBlockClose)
	if end < 0 {
		return reply, domain.Order{}, orderAbsent
	}

	// The model's output is untrusted: tolerate missing keys (they decode to
	// empty strings) but reject anything that is not a JSON object.
	var order domain.Order
	interior := strings.TrimSpace(rest[:end])
	if !strings.HasPrefix(interior, "{") {
		return reply, domain.Order{}, orderMalformed
	}
	if err := json.Unmarshal([]byte(interior), &order); err != nil {
		return reply, domain.Order{}, orderMalformed
	}

	cleaned := reply[:start] + rest[end+len(orderBlockClose):]
	return strings.TrimSpace(cleaned), order, orderFound
}
