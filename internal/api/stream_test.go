package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sjtutim/hrdb-sub001/internal/parsing"
	"github.com/sjtutim/hrdb-sub001/internal/task"
)

// sseEvent is one parsed server-sent event.
type sseEvent struct {
	name string
	data string
}

func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var out []sseEvent
	for _, block := range strings.Split(body, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		var ev sseEvent
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				ev.name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				ev.data = strings.TrimPrefix(line, "data: ")
			}
		}
		require.NotEmpty(t, ev.name, "event block without name: %q", block)
		out = append(out, ev)
	}
	return out
}

func terminalEvents(events []sseEvent) []sseEvent {
	var out []sseEvent
	for _, ev := range events {
		if ev.name == eventDone || ev.name == eventError {
			out = append(out, ev)
		}
	}
	return out
}

func TestStreamTask_SuccessEmitsProgressThenDone(t *testing.T) {
	t.Parallel()

	executors := map[task.Kind]task.Executor{
		task.KindGeneration: task.ExecutorFunc(func(_ context.Context, _ *task.Record) (json.RawMessage, error) {
			return json.RawMessage(`{"text":"draft"}`), nil
		}),
	}
	f := newHandlerFixture(t, executors)

	rec := task.NewRecord(task.KindGeneration, json.RawMessage(`{}`), nil)
	f.ledgers[task.KindGeneration].Seed(rec)

	rr := f.do(t, http.MethodGet, fmt.Sprintf("/api/tasks/generation/%s/stream", rec.ID), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/event-stream", rr.Header().Get("Content-Type"))

	events := parseSSE(t, rr.Body.String())
	require.NotEmpty(t, events)

	terms := terminalEvents(events)
	require.Len(t, terms, 1, "exactly one terminal event")
	assert.Equal(t, eventDone, terms[0].name)
	assert.Equal(t, eventDone, events[len(events)-1].name, "terminal event comes last")
	assert.JSONEq(t, `{"text":"draft"}`, terms[0].data)

	status, _ := f.ledgers[task.KindGeneration].StatusOf(rec.ID)
	assert.Equal(t, task.StatusCompleted, status)
}

func TestStreamTask_FailureEmitsSingleErrorEvent(t *testing.T) {
	t.Parallel()

	executors := map[task.Kind]task.Executor{
		task.KindParse: task.ExecutorFunc(func(_ context.Context, _ *task.Record) (json.RawMessage, error) {
			return nil, errors.New("document is not a resume")
		}),
	}
	f := newHandlerFixture(t, executors)

	rec := task.NewRecord(task.KindParse, json.RawMessage(`{"file_ref":"a.txt"}`), nil)
	f.ledgers[task.KindParse].Seed(rec)

	rr := f.do(t, http.MethodGet, fmt.Sprintf("/api/tasks/parse/%s/stream", rec.ID), nil)
	require.Equal(t, http.StatusOK, rr.Code)

	terms := terminalEvents(parseSSE(t, rr.Body.String()))
	require.Len(t, terms, 1)
	assert.Equal(t, eventError, terms[0].name)
	assert.Contains(t, terms[0].data, "not a resume")

	stored, err := f.ledgers[task.KindParse].GetByID(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, stored.Status)
	assert.NotEmpty(t, stored.ErrorMessage)
}

func TestStreamTask_PanicBecomesErrorEvent(t *testing.T) {
	t.Parallel()

	executors := map[task.Kind]task.Executor{
		task.KindMatch: task.ExecutorFunc(func(_ context.Context, _ *task.Record) (json.RawMessage, error) {
			panic("boom")
		}),
	}
	f := newHandlerFixture(t, executors)

	rec := task.NewRecord(task.KindMatch, json.RawMessage(`{}`), nil)
	f.ledgers[task.KindMatch].Seed(rec)

	rr := f.do(t, http.MethodGet, fmt.Sprintf("/api/tasks/match/%s/stream", rec.ID), nil)
	require.Equal(t, http.StatusOK, rr.Code)

	terms := terminalEvents(parseSSE(t, rr.Body.String()))
	require.Len(t, terms, 1)
	assert.Equal(t, eventError, terms[0].name)

	status, _ := f.ledgers[task.KindMatch].StatusOf(rec.ID)
	assert.Equal(t, task.StatusFailed, status)
}

func TestStreamTask_ConflictBeforeHeaders(t *testing.T) {
	t.Parallel()

	f := newHandlerFixture(t, nil)
	rec := task.NewRecord(task.KindParse, json.RawMessage(`{}`), nil)
	f.ledgers[task.KindParse].Seed(rec)
	require.NoError(t, f.ledgers[task.KindParse].MarkRunning(context.Background(), rec.ID))

	rr := f.do(t, http.MethodGet, fmt.Sprintf("/api/tasks/parse/%s/stream", rec.ID), nil)

	// The claim failed before any SSE bytes: a plain JSON conflict.
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
}

func TestStreamTask_StreamingExecutorReportsPhases(t *testing.T) {
	t.Parallel()

	executors := map[task.Kind]task.Executor{
		task.KindParse: &phasedExecutor{},
	}
	f := newHandlerFixture(t, executors)

	rec := task.NewRecord(task.KindParse, json.RawMessage(`{"file_ref":"a.txt"}`), nil)
	f.ledgers[task.KindParse].Seed(rec)

	rr := f.do(t, http.MethodGet, fmt.Sprintf("/api/tasks/parse/%s/stream", rec.ID), nil)
	require.Equal(t, http.StatusOK, rr.Code)

	events := parseSSE(t, rr.Body.String())
	var phases []string
	for _, ev := range events {
		if ev.name == eventProgress {
			var p streamProgress
			require.NoError(t, json.Unmarshal([]byte(ev.data), &p))
			phases = append(phases, p.Phase)
		}
	}
	assert.Equal(t, []string{"download", "analyze"}, phases)
	assert.Equal(t, eventDone, events[len(events)-1].name)
}

// phasedExecutor exercises the streamingExecutor path.
type phasedExecutor struct{}

func (p *phasedExecutor) Execute(ctx context.Context, rec *task.Record) (json.RawMessage, error) {
	return p.Run(ctx, rec, func(string, int) {})
}

func (p *phasedExecutor) Run(_ context.Context, _ *task.Record, report parsing.Reporter) (json.RawMessage, error) {
	report("download", 10)
	report("analyze", 50)
	return json.RawMessage(`{"ok":true}`), nil
}

func TestStreamReporter_TerminalOnce(t *testing.T) {
	t.Parallel()

	rr := httptest.NewRecorder()
	reporter, err := NewStreamReporter(rr)
	require.NoError(t, err)

	reporter.Progress("download", 10)
	reporter.Done(json.RawMessage(`{"ok":true}`))
	reporter.Error("should be ignored")
	reporter.Progress("late", 99)

	events := parseSSE(t, rr.Body.String())
	require.Len(t, events, 2)
	assert.Equal(t, eventProgress, events[0].name)
	assert.Equal(t, eventDone, events[1].name)
}
