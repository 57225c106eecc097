// Package sym defines canonical log-marker symbols for hharvest subsystems.
// These symbols are stable across CLI output, log lines, and documentation.
package sym

// Subsystem markers. Prefixed onto log messages and CLI banners so a
// subsystem's activity can be picked out of interleaved output at a glance.
const (
	Task   = "⊶" // task queue and dispatch
	Sched  = "↻" // scheduler tick loop
	Fetch  = "⇣" // upstream API fetching
	DB     = "⊔" // database/storage layer
	Web    = "⌁" // control surface (HTTP/WS)
	Health = "✚" // system health sampling
	Auth   = "⚿" // auth provider rotation
	Halt   = "❀" // graceful shutdown
)
