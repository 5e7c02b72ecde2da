package extensions

import (
	"bytes"
	"context"
	"testing"

	"github.com/liveflow/pipeline"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestGraphDebugLogsOnlyOnError(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	obs := GraphDebug[int](logger)

	_, analysis, _ := pipeline.Eval(context.Background(), pipeline.Return(1))
	obs(pipeline.Ok(1), analysis)
	assert.Empty(t, buf.String())

	_, analysis2, _ := pipeline.Eval(context.Background(), pipeline.Fail[int]("broke"))
	obs(pipeline.Failed[int]("broke"), analysis2)
	assert.Contains(t, buf.String(), "broke")
	assert.Contains(t, buf.String(), "dependency_graph")
}

func TestRenderTreeHandlesEmptyAnalysis(t *testing.T) {
	assert.Equal(t, "(empty analysis)", renderTree(pipeline.Analysis{}))
}

func TestRenderTreeIncludesNodeLabels(t *testing.T) {
	_, analysis, _ := pipeline.Eval(context.Background(), pipeline.Map(pipeline.Return(1), "doubled", func(n int) int { return n * 2 }))
	rendered := renderTree(analysis)
	assert.Contains(t, rendered, "doubled")
}
