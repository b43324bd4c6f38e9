package state

type edge struct{ from, to State }

// withdrawalFlow lists the steps of the withdrawal conversation. The
// method and details prompts can step back to correct the previous answer.
var withdrawalFlow = []edge{
	{StateIdle, StateWithdrawAmount},
	{StateWithdrawAmount, StateWithdrawMethod},
	{StateWithdrawMethod, StateWithdrawDetails},
	{StateWithdrawMethod, StateWithdrawAmount},
	{StateWithdrawDetails, StateWithdrawConfirm},
	{StateWithdrawDetails, StateWithdrawMethod},
}

var allowed = func() map[edge]struct{} {
	set := make(map[edge]struct{}, len(withdrawalFlow))
	for _, e := range withdrawalFlow {
		set[e] = struct{}{}
	}
	return set
}()

// IsTransitionAllowed reports whether a user in from may move to to.
// Idle and error are reachable from anywhere so a conversation can always
// be abandoned.
func IsTransitionAllowed(from, to State) bool {
	if to == StateIdle || to == StateError {
		return true
	}
	_, ok := allowed[edge{from, to}]
	return ok
}
