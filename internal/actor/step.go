package actor

// Replay applies inputs in order and returns the final state together with
// every effect produced along the way. It does not execute effects.
func Replay[S any](state S, reducer ReducerFunc[S], inputs ...Input) (S, []Effect) {
	var all []Effect
	for _, in := range inputs {
		var effects []Effect
		state, effects = reducer(state, in)
		all = append(all, effects...)
	}
	return state, all
}
