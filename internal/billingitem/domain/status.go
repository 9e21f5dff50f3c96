package domain

import "errors"

type Status string

const (
	StatusUnbilled Status = "unbilled"
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDeclined Status = "declined"
	StatusBilled   Status = "billed"
)

type Event string

const (
	EventSubmit   Event = "submit"
	EventApprove  Event = "approve"
	EventDecline  Event = "decline"
	EventResubmit Event = "resubmit"
	EventInvoice  Event = "invoice"
)

var ErrInvalidTransition = errors.New("invalid_status_transition")

type transition struct {
	from []Status
	to   Status
}

var transitions = map[Event]transition{
	EventSubmit:   {from: []Status{StatusUnbilled}, to: StatusPending},
	EventApprove:  {from: []Status{StatusPending}, to: StatusApproved},
	EventDecline:  {from: []Status{StatusPending, StatusApproved}, to: StatusDeclined},
	EventResubmit: {from: []Status{StatusDeclined}, to: StatusPending},
	EventInvoice:  {from: []Status{StatusApproved}, to: StatusBilled},
}

// Transition returns the status reached by applying event to from. Applying an event
// whose target is already the current status is a no-op. billed is terminal.
func Transition(from Status, event Event) (Status, error) {
	rule, ok := transitions[event]
	if !ok {
		return from, ErrInvalidTransition
	}
	if from == rule.to {
		return from, nil
	}
	for _, allowed := range rule.from {
		if allowed == from {
			return rule.to, nil
		}
	}
	return from, ErrInvalidTransition
}

// ViewStatus folds item statuses into the three states shown on derived entries.
func (s Status) ViewStatus() EntryStatus {
	switch s {
	case StatusBilled:
		return EntryStatusBilled
	case StatusPending, StatusApproved:
		return EntryStatusPending
	default:
		return EntryStatusUnbilled
	}
}
