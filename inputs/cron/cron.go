// Package cron is a concrete pipeline.Input plugin standing in for
// "new commit on a branch" polling: it fires a refresh on every cron
// schedule tick and reports a monotonically increasing tick count,
// grounded on the cron.New()/AddFunc/Start/Stop pattern used
// elsewhere in the pack to schedule periodic maintenance work.
package cron

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/liveflow/pipeline"
	"github.com/robfig/cron/v3"
)

// New builds an Input whose value is the number of times spec has
// fired so far; schedule re-evaluation by Bind-ing off of it rather
// than its exact value.
func New(spec string) (pipeline.Input[int64], error) {
	var ticks int64

	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("cron: parse schedule %q: %w", spec, err)
	}

	read := func(ctx context.Context) (int64, error) {
		return atomic.LoadInt64(&ticks), nil
	}

	watch := func(ctx context.Context, refresh func()) error {
		c := cron.New()
		id := c.Schedule(sched, cron.FuncJob(func() {
			atomic.AddInt64(&ticks, 1)
			refresh()
		}))
		c.Start()
		defer func() {
			c.Remove(id)
			<-c.Stop().Done()
		}()

		<-ctx.Done()
		return ctx.Err()
	}

	return pipeline.NewMonitor(read, watch, fmt.Sprintf("cron %q", spec)), nil
}
