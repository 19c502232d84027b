package of

// Runner starts a function according to some concurrency policy. The
// server uses it to launch one per-connection read loop per accepted
// connection; the connection loops are transport, explicitly "below
// the core" — they decode requests and hand them to a single
// dispatching goroutine, never touching core state themselves.
type Runner interface {
	Run(func())
}

// OnDemandRoutineRunner runs each function in its own goroutine. This is
// the default: one goroutine per accepted connection.
type OnDemandRoutineRunner struct{}

// Run implements Runner.
func (OnDemandRoutineRunner) Run(fn func()) {
	go fn()
}

// SequentialRunner runs each function to completion before starting the
// next. Useful for deterministic tests that don't want goroutine
// scheduling in the mix.
type SequentialRunner struct{}

// Run implements Runner.
func (SequentialRunner) Run(fn func()) {
	fn()
}
