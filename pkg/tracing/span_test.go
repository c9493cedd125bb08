package tracing

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChildInheritsTraceID(t *testing.T) {
	ctx, root := StartSpan(context.Background(), "tick", "abc")
	_, child := StartChildSpan(ctx, "path")
	assert.Equal(t, "abc", child.TraceID)
	assert.Equal(t, []*Span{child}, root.Children())

	_, orphan := StartChildSpan(context.Background(), "path")
	assert.Empty(t, orphan.TraceID)
}

func TestEndIsIdempotent(t *testing.T) {
	_, s := StartSpan(context.Background(), "tick", NewTraceID())
	time.Sleep(2 * time.Millisecond)
	s.End()
	first := s.Duration()
	time.Sleep(2 * time.Millisecond)
	s.End()
	assert.Equal(t, first, s.Duration())
	assert.Positive(t, first)
}

func TestLogNamesSlowestChildren(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	defer slog.SetDefault(prev)

	ctx, root := StartSpan(context.Background(), "reconcile.tick", "t1")
	for _, p := range []string{"/fast", "/slow"} {
		_, c := StartChildSpan(ctx, "reconcile.path")
		c.SetAttr("path", p)
		if p == "/slow" {
			time.Sleep(5 * time.Millisecond)
		}
		c.End()
	}
	root.End()
	root.Log()

	out := buf.String()
	require.Equal(t, 1, strings.Count(out, "\n"), "children are logged only at debug")
	assert.Contains(t, out, "children=2")
	assert.Less(t, strings.Index(out, "/slow"), strings.Index(out, "/fast"))
}

func TestNewTraceIDIsHex(t *testing.T) {
	id := NewTraceID()
	assert.Len(t, id, 16)
	assert.NotEqual(t, id, NewTraceID())
}
