package order

// Status is the order lifecycle state.
type Status string

const (
	StatusPending         Status = "PENDING"
	StatusConfirmed       Status = "CONFIRMED"
	StatusProcessing      Status = "PROCESSING"
	StatusShipped         Status = "SHIPPED"
	StatusOutForDelivery  Status = "OUT_FOR_DELIVERY"
	StatusDelivered       Status = "DELIVERED"
	StatusCancelled       Status = "CANCELLED"
	StatusReturnRequested Status = "RETURN_REQUESTED"
	StatusReturnApproved  Status = "RETURN_APPROVED"
	StatusReturnPicked    Status = "RETURN_PICKED"
	StatusRefunded        Status = "REFUNDED"
)

var transitions = map[Status][]Status{
	StatusPending:         {StatusConfirmed, StatusCancelled},
	StatusConfirmed:       {StatusProcessing, StatusCancelled},
	StatusProcessing:      {StatusShipped, StatusCancelled},
	StatusShipped:         {StatusOutForDelivery},
	StatusOutForDelivery:  {StatusDelivered},
	StatusDelivered:       {StatusReturnRequested},
	StatusReturnRequested: {StatusReturnApproved},
	StatusReturnApproved:  {StatusReturnPicked},
	StatusReturnPicked:    {StatusRefunded},
}

// ParseStatus accepts the upper-case status names.
func ParseStatus(s string) (Status, bool) {
	st := Status(s)
	if _, ok := transitions[st]; ok {
		return st, true
	}
	if st == StatusCancelled || st == StatusRefunded {
		return st, true
	}
	return "", false
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}
