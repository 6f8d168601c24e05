package bookings

type State string

const (
	StateCreated         State = "CREATED"
	StateHoldPlaced      State = "HOLD_PLACED"
	StateAwaitingPayment State = "AWAITING_PAYMENT"
	StateConfirmed       State = "CONFIRMED"
	StateCancelled       State = "CANCELLED"
)

// transitions lists the legal moves out of each state. AWAITING_PAYMENT
// loops onto itself for a retried payment attempt.
var transitions = map[State][]State{
	StateCreated:         {StateHoldPlaced, StateCancelled},
	StateHoldPlaced:      {StateAwaitingPayment, StateCancelled},
	StateAwaitingPayment: {StateAwaitingPayment, StateConfirmed, StateCancelled},
}

func (s State) IsValid() bool {
	switch s {
	case StateCreated, StateHoldPlaced, StateAwaitingPayment, StateConfirmed, StateCancelled:
		return true
	}
	return false
}

func (s State) String() string {
	return string(s)
}

func (s State) IsTerminal() bool {
	return s == StateConfirmed || s == StateCancelled
}

// CanTransitionTo reports whether next is a legal move from s. Terminal
// states have no moves.
func (s State) CanTransitionTo(next State) bool {
	for _, to := range transitions[s] {
		if to == next {
			return true
		}
	}
	return false
}
