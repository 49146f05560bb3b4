// Package sym defines canonical log glyphs for ClipForge subsystems.
// These symbols are stable across CLI output and structured logs; the
// minimal console encoder colorizes them.
package sym

// Subsystem glyphs.
const (
	Queue    = "꩜" // queue — durable job claim/retry machinery
	Pipeline = "⟶" // pipeline — stage progression for a project
	Publish  = "✦" // publish — external platform side effects
	DB       = "⊟" // database operations
	Worker   = "⌬" // worker runtime
	Admit    = "⊨" // admission controls (usage, posting guard)
)

// Lifecycle glyphs used by the worker runtime.
const (
	Opening = "✿" // startup / recovery phases
	Closing = "❀" // shutdown / drain phases
)
