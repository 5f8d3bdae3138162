package reconcile

import (
	"github.com/roamwire/roamwire/app/models"
	"github.com/roamwire/roamwire/internal/pkg/webhook"
)

// Action is what the engine does with an event given the order's status.
type Action int

const (
	// ActionNoop acknowledges the event without changing the order.
	ActionNoop Action = iota
	// ActionApply moves the order from Decision.From to Decision.To.
	ActionApply
	// ActionDefer leaves the event unprocessed because the order has not
	// reached the status the event presupposes yet.
	ActionDefer
)

func (a Action) String() string {
	switch a {
	case ActionApply:
		return "apply"
	case ActionDefer:
		return "defer"
	default:
		return "noop"
	}
}

// Decision is the outcome of Decide.
type Decision struct {
	Action Action
	From   string
	To     string
	Reason string
}

// rank orders the non-terminal statuses along the happy path.
var rank = map[string]int{
	models.ORDER_STATUS_PENDING:            0,
	models.ORDER_STATUS_PROCESSING:         1,
	models.ORDER_STATUS_PROVIDER_FULFILLED: 2,
	models.ORDER_STATUS_ACTIVE:             3,
}

// edges maps an event kind to the status it requires and the status it produces.
var edges = map[webhook.Kind]struct{ from, to string }{
	webhook.KindPaymentCaptured:   {models.ORDER_STATUS_PENDING, models.ORDER_STATUS_PROCESSING},
	webhook.KindProviderFulfilled: {models.ORDER_STATUS_PROCESSING, models.ORDER_STATUS_PROVIDER_FULFILLED},
	webhook.KindProviderFailed:    {models.ORDER_STATUS_PROCESSING, models.ORDER_STATUS_FAILED},
	webhook.KindProviderActivated: {models.ORDER_STATUS_PROVIDER_FULFILLED, models.ORDER_STATUS_ACTIVE},
}

// Decide computes the transition for an event of kind arriving at an order in
// status. It is pure; hasConfirmation reports whether the event carries an
// eSIM profile.
func Decide(status string, kind webhook.Kind, hasConfirmation bool) Decision {
	if models.IsTerminalOrderStatus(status) {
		return Decision{Action: ActionNoop, From: status, Reason: "order is " + status}
	}

	if kind == webhook.KindExternalCancellation {
		return Decision{Action: ActionApply, From: status, To: models.ORDER_STATUS_CANCELLED}
	}

	// A failed charge leaves the payment intent open for another try, so the
	// order waits for a capture or a cancellation.
	if kind == webhook.KindPaymentFailed {
		return Decision{Action: ActionNoop, From: status, Reason: "payment attempt failed, intent still open"}
	}

	edge, ok := edges[kind]
	if !ok {
		return Decision{Action: ActionNoop, From: status, Reason: "informational event"}
	}

	current, known := rank[status]
	if !known {
		return Decision{Action: ActionNoop, From: status, Reason: "unknown order status " + status}
	}
	required := rank[edge.from]

	switch {
	case current < required:
		return Decision{Action: ActionDefer, From: status, To: edge.to, Reason: "order is " + status + ", event needs " + edge.from}
	case current > required:
		return Decision{Action: ActionNoop, From: status, Reason: "order already past " + edge.from}
	}

	if edge.to == models.ORDER_STATUS_PROVIDER_FULFILLED && !hasConfirmation {
		return Decision{Action: ActionNoop, From: status, Reason: "fulfillment without eSIM confirmation"}
	}
	return Decision{Action: ActionApply, From: status, To: edge.to}
}
