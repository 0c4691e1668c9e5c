package core

// Alert lifecycle states
const (
	AlertStatePending       State = "pending"
	AlertStateAcknowledged  State = "acknowledged"
	AlertStateInvestigating State = "investigating"
	AlertStateResolved      State = "resolved"
	AlertStateEscalated     State = "escalated"
	AlertStateClosed        State = "closed"
	AlertStateDismissed     State = "dismissed"
	AlertStateFalsePositive State = "false_positive"
)

// Alert lifecycle actions
const (
	AlertActionAcknowledge  Action = "acknowledge"
	AlertActionInvestigate  Action = "investigate"
	AlertActionResolve      Action = "resolve"
	AlertActionEscalate     Action = "escalate"
	AlertActionClose        Action = "close"
	AlertActionDismiss      Action = "dismiss"
	AlertActionMarkFalsePos Action = "mark_false_positive"
)

// AlertLifecycle returns the alert triage machine. Closed is final; dismissed
// and false positive alerts can only be closed.
func AlertLifecycle() MachineDefinition {
	return MachineDefinition{
		Key:          "alert",
		StateField:   "status",
		ActionField:  "action",
		DefaultState: AlertStatePending,
		Edges: []Edge{
			{Action: AlertActionAcknowledge, From: AlertStatePending, To: AlertStateAcknowledged},
			{Action: AlertActionDismiss, From: AlertStatePending, To: AlertStateDismissed},
			{Action: AlertActionMarkFalsePos, From: AlertStatePending, To: AlertStateFalsePositive},
			{Action: AlertActionClose, From: AlertStatePending, To: AlertStateClosed},
			{Action: AlertActionInvestigate, From: AlertStateAcknowledged, To: AlertStateInvestigating},
			{Action: AlertActionClose, From: AlertStateAcknowledged, To: AlertStateClosed},
			{Action: AlertActionResolve, From: AlertStateInvestigating, To: AlertStateResolved},
			{Action: AlertActionEscalate, From: AlertStateInvestigating, To: AlertStateEscalated},
			{Action: AlertActionClose, From: AlertStateInvestigating, To: AlertStateClosed},
			{Action: AlertActionClose, From: AlertStateResolved, To: AlertStateClosed},
			{Action: AlertActionClose, From: AlertStateEscalated, To: AlertStateClosed},
			{Action: AlertActionClose, From: AlertStateDismissed, To: AlertStateClosed},
			{Action: AlertActionClose, From: AlertStateFalsePositive, To: AlertStateClosed},
		},
	}
}

// Order lifecycle states
const (
	OrderStateDraft     State = "draft"
	OrderStatePlaced    State = "placed"
	OrderStatePaid      State = "paid"
	OrderStateShipped   State = "shipped"
	OrderStateDelivered State = "delivered"
	OrderStateCancelled State = "cancelled"
)

// Order lifecycle actions
const (
	OrderActionPlace   Action = "place"
	OrderActionPay     Action = "pay"
	OrderActionShip    Action = "ship"
	OrderActionDeliver Action = "deliver"
	OrderActionCancel  Action = "cancel"
)

// OrderLifecycle returns the order fulfilment machine
func OrderLifecycle() MachineDefinition {
	return MachineDefinition{
		Key:          "order",
		StateField:   "status",
		ActionField:  "action",
		DefaultState: OrderStateDraft,
		Edges: []Edge{
			{Action: OrderActionPlace, From: OrderStateDraft, To: OrderStatePlaced},
			{Action: OrderActionCancel, From: OrderStateDraft, To: OrderStateCancelled},
			{Action: OrderActionPay, From: OrderStatePlaced, To: OrderStatePaid},
			{Action: OrderActionCancel, From: OrderStatePlaced, To: OrderStateCancelled},
			{Action: OrderActionShip, From: OrderStatePaid, To: OrderStateShipped},
			{Action: OrderActionCancel, From: OrderStatePaid, To: OrderStateCancelled},
			{Action: OrderActionDeliver, From: OrderStateShipped, To: OrderStateDelivered},
		},
	}
}

// BuiltinLifecycles returns every lifecycle shipped with the package
func BuiltinLifecycles() []MachineDefinition {
	return []MachineDefinition{AlertLifecycle(), OrderLifecycle()}
}
