// Package extensions holds cross-cutting observers that plug into an
// Engine's tick loop via pipeline.Engine.Observe, replacing the
// Wrap-everything style of a generic DI extension with plain
// Observer[T] functions — the engine has no middleware chain to hook
// into, just a publish callback per tick.
package extensions

import (
	"time"

	"github.com/liveflow/pipeline"
	"github.com/rs/zerolog"
)

// Logging returns an Observer that logs one structured line per tick:
// the output's severity-appropriate level and rendering, the root
// node's job id if it has one, and the node/edge counts of the
// published Analysis.
func Logging[T any](logger zerolog.Logger) pipeline.Observer[T] {
	return func(out pipeline.Output[T], analysis pipeline.Analysis) {
		ev := logger.WithLevel(zerologLevel(out.Severity()))
		ev = ev.Int("nodes", len(analysis.Nodes)).Int("edges", len(analysis.Edges))
		if job, ok := analysis.JobID(); ok {
			ev = ev.Str("job_id", string(job))
		}
		ev.Msg("pipeline tick: " + out.PP())
	}
}

func zerologLevel(severity string) zerolog.Level {
	switch severity {
	case "warn":
		return zerolog.WarnLevel
	case "info":
		return zerolog.InfoLevel
	default:
		return zerolog.DebugLevel
	}
}

// Timed wraps an Observer, logging how long it took to run — useful
// when a slow downstream observer (e.g. a webhook relay) is suspected
// of delaying the next tick's subscription setup.
func Timed[T any](logger zerolog.Logger, name string, next pipeline.Observer[T]) pipeline.Observer[T] {
	return func(out pipeline.Output[T], analysis pipeline.Analysis) {
		start := time.Now()
		next(out, analysis)
		logger.Debug().Str("observer", name).Dur("took", time.Since(start)).Msg("observer ran")
	}
}
