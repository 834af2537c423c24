package entity

// transitions is the explicit task state machine. Failed and Cancelled are
// reachable from every non-terminal state and are added in init.
var transitions = map[TaskStatus][]TaskStatus{
	TaskStatusReceived:    {TaskStatusClassifying, TaskStatusDelegated},
	TaskStatusClassifying: {TaskStatusAnswered, TaskStatusDelegated},
	TaskStatusDelegated:   {TaskStatusAwaiting},
	// Awaiting may skip synthesis on single-response collapse, and child
	// tasks deliver their manager's sections straight from Awaiting.
	TaskStatusAwaiting:     {TaskStatusSynthesizing, TaskStatusReviewing, TaskStatusDelivered},
	TaskStatusSynthesizing: {TaskStatusReviewing, TaskStatusDelivered},
	TaskStatusReviewing:    {TaskStatusDelivered, TaskStatusReworking},
	TaskStatusReworking:    {TaskStatusSynthesizing},
}

func init() {
	for from, to := range transitions {
		transitions[from] = append(to, TaskStatusFailed, TaskStatusCancelled)
	}
}

// CanTransition reports whether from → to is allowed.
func CanTransition(from, to TaskStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// progress is the fraction reported with each status event.
var progress = map[TaskStatus]float64{
	TaskStatusReceived:     0,
	TaskStatusClassifying:  0.05,
	TaskStatusDelegated:    0.15,
	TaskStatusAwaiting:     0.2,
	TaskStatusSynthesizing: 0.7,
	TaskStatusReviewing:    0.8,
	TaskStatusReworking:    0.85,
	TaskStatusAnswered:     1,
	TaskStatusDelivered:    1,
	TaskStatusFailed:       1,
	TaskStatusCancelled:    1,
}

// ProgressOf returns the nominal progress fraction of a status.
func ProgressOf(s TaskStatus) float64 {
	return progress[s]
}

// AwaitingProgress interpolates progress while done of total subtasks are finished.
func AwaitingProgress(done, total int) float64 {
	lo, hi := progress[TaskStatusAwaiting], progress[TaskStatusSynthesizing]
	if total <= 0 {
		return lo
	}
	return lo + (hi-lo)*float64(done)/float64(total)
}
