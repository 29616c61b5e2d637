package pipeline

// WithStateHook reports every state transition to fn.
func WithStateHook(fn func(State)) Option {
	return func(o *Orchestrator) { o.onState = fn }
}
