package domain

// Decision is the engine's verdict for moving a payment to a target status.
type Decision int

const (
	DecisionApply Decision = iota
	DecisionDuplicate
	DecisionOutOfOrder
)

var edges = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusSucceeded, StatusFailed, StatusCanceled},
	StatusProcessing: {StatusSucceeded, StatusFailed},
	StatusSucceeded:  {StatusRefunded},
}

// passedThrough lists, for each status, the statuses a payment has already
// covered on the way there. An event implying one of them adds nothing.
var passedThrough = map[Status][]Status{
	StatusPending:    {StatusPending},
	StatusProcessing: {StatusPending, StatusProcessing},
	StatusSucceeded:  {StatusPending, StatusProcessing, StatusSucceeded},
	StatusFailed:     {StatusPending, StatusProcessing, StatusFailed},
	StatusCanceled:   {StatusPending, StatusCanceled},
	StatusRefunded:   {StatusPending, StatusProcessing, StatusSucceeded, StatusRefunded},
}

func CanTransition(from, to Status) bool {
	for _, next := range edges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Decide orders an event against the stored status. Arrival time never
// matters; only the stored status does.
func Decide(current, target Status) Decision {
	for _, seen := range passedThrough[current] {
		if seen == target {
			return DecisionDuplicate
		}
	}
	if CanTransition(current, target) {
		return DecisionApply
	}
	return DecisionOutOfOrder
}
