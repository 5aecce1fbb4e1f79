package pipeline_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cassiomorais/eventrelay/internal/application/pipeline"
	domainErrors "github.com/cassiomorais/eventrelay/internal/domain/errors"
	"github.com/cassiomorais/eventrelay/internal/domain/event"
	"github.com/cassiomorais/eventrelay/internal/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type createWidget struct {
	Name  string `json:"name" validate:"required"`
	Color string `json:"color"`
}

type widgetCreated struct {
	event.Base
	Name string `json:"name"`
}

func (widgetCreated) EventType() string { return "widget.created" }

type widgetAudited struct {
	event.Base
	Name  string `json:"name"`
	Actor string `json:"actor"`
}

func (widgetAudited) EventType() string { return "widget.audited" }

// widgetTable is a minimal entity store whose writes join the unit of work.
type widgetTable struct {
	mu   sync.Mutex
	rows map[string]string
}

func newWidgetTable() *widgetTable {
	return &widgetTable{rows: make(map[string]string)}
}

func (w *widgetTable) put(ctx context.Context, name, color string) {
	testutil.Enlist(ctx, func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		w.rows[name] = color
	})
}

func (w *widgetTable) len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.rows)
}

type recordedCommand struct {
	command string
	outcome string
}

type fakeMetrics struct {
	mu       sync.Mutex
	observed []recordedCommand
}

func (m *fakeMetrics) ObserveCommand(command, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observed = append(m.observed, recordedCommand{command, outcome})
}

type fixture struct {
	uow     *testutil.MemoryUnitOfWorkFactory
	store   *testutil.MemoryOutboxStore
	widgets *widgetTable
	metrics *fakeMetrics
	deps    pipeline.Deps
	logs    *bytes.Buffer
}

func newFixture() *fixture {
	f := &fixture{
		uow:     testutil.NewMemoryUnitOfWorkFactory(),
		store:   testutil.NewMemoryOutboxStore(),
		widgets: newWidgetTable(),
		metrics: &fakeMetrics{},
		logs:    &bytes.Buffer{},
	}
	f.deps = pipeline.Deps{
		Logger:             zerolog.New(f.logs).Level(zerolog.DebugLevel),
		Metrics:            f.metrics,
		Validators:         pipeline.NewValidatorRegistry(),
		UnitOfWork:         f.uow,
		Outbox:             f.store,
		DefaultDestination: "integration-events",
		Clock:              func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) },
	}
	return f
}

func TestBuilder_FirstDecoratorRunsOutermost(t *testing.T) {
	var trace []string
	mark := func(name string) pipeline.Decorator[string, string] {
		return func(next pipeline.Handler[string, string]) pipeline.Handler[string, string] {
			return func(ctx context.Context, cmd string) (string, error) {
				trace = append(trace, name+">")
				res, err := next(ctx, cmd)
				trace = append(trace, "<"+name)
				return res, err
			}
		}
	}

	b := pipeline.New("echo", func(ctx context.Context, cmd string) (string, error) {
		trace = append(trace, "handler")
		return cmd, nil
	}).Use(mark("outer"), nil, mark("inner"))

	res, err := b.Build()(context.Background(), "hi")

	require.NoError(t, err)
	assert.Equal(t, "hi", res)
	assert.Equal(t, "echo", b.Name())
	assert.Equal(t, []string{"outer>", "inner>", "handler", "<inner", "<outer"}, trace)
}

func TestCommand_StagedEventsBecomeOutboxRows(t *testing.T) {
	f := newFixture()

	a := widgetCreated{Base: event.NewBase(), Name: "gear"}
	b := widgetAudited{Base: event.NewBase(), Name: "gear", Actor: "ops"}

	h := pipeline.Command("CreateWidget", func(ctx context.Context, cmd createWidget) (string, error) {
		f.widgets.put(ctx, cmd.Name, cmd.Color)
		require.NoError(t, event.Stage(ctx, "A", a))
		require.NoError(t, event.Stage(ctx, "B", b))
		return cmd.Name, nil
	}, f.deps)

	res, err := h(context.Background(), createWidget{Name: "gear", Color: "red"})

	require.NoError(t, err)
	assert.Equal(t, "gear", res)
	assert.Equal(t, 1, f.uow.Commits())
	assert.Equal(t, 1, f.widgets.len())

	rows := f.store.All()
	require.Len(t, rows, 2)

	wantA, _ := json.Marshal(a)
	wantB, _ := json.Marshal(b)

	assert.Equal(t, "widget.created", rows[0].EventType)
	assert.Equal(t, "A", rows[0].Destination)
	assert.JSONEq(t, string(wantA), string(rows[0].Payload))
	assert.True(t, a.Occurred.Equal(rows[0].OccurredOnUTC))

	assert.Equal(t, "widget.audited", rows[1].EventType)
	assert.Equal(t, "B", rows[1].Destination)
	assert.JSONEq(t, string(wantB), string(rows[1].Payload))

	for _, r := range rows {
		assert.Nil(t, r.ProcessedAtUTC)
		assert.Nil(t, r.LockedUntilUTC)
		assert.Zero(t, r.ProcessingAttempts)
	}
}

func TestCommand_DefaultDestinationAndClock(t *testing.T) {
	f := newFixture()

	h := pipeline.Command("CreateWidget", func(ctx context.Context, cmd createWidget) (string, error) {
		return "", event.Stage(ctx, "", widgetCreated{Name: cmd.Name})
	}, f.deps)

	_, err := h(context.Background(), createWidget{Name: "bolt"})

	require.NoError(t, err)
	rows := f.store.All()
	require.Len(t, rows, 1)
	assert.Equal(t, "integration-events", rows[0].Destination)
	assert.Equal(t, f.deps.Clock(), rows[0].OccurredOnUTC)
}

func TestCommand_PreservesStagingOrderWithinDestination(t *testing.T) {
	f := newFixture()

	h := pipeline.Command("CreateWidget", func(ctx context.Context, cmd createWidget) (string, error) {
		_ = event.Stage(ctx, "B", widgetCreated{Base: event.NewBase(), Name: "1"})
		_ = event.Stage(ctx, "A", widgetCreated{Base: event.NewBase(), Name: "2"})
		_ = event.Stage(ctx, "B", widgetCreated{Base: event.NewBase(), Name: "3"})
		return "", nil
	}, f.deps)

	_, err := h(context.Background(), createWidget{Name: "x"})
	require.NoError(t, err)

	var got []string
	for _, r := range f.store.All() {
		var body widgetCreated
		require.NoError(t, json.Unmarshal(r.Payload, &body))
		got = append(got, r.Destination+":"+body.Name)
	}
	assert.Equal(t, []string{"B:1", "B:3", "A:2"}, got)
}

func TestCommand_ValidationShortCircuits(t *testing.T) {
	f := newFixture()
	pipeline.RegisterValidator(f.deps.Validators, func(ctx context.Context, cmd createWidget) []pipeline.FieldError {
		if cmd.Color == "invisible" {
			return []pipeline.FieldError{{Field: "color", Message: "is not a color"}}
		}
		return nil
	})

	called := false
	h := pipeline.Command("CreateWidget", func(ctx context.Context, cmd createWidget) (string, error) {
		called = true
		return "", nil
	}, f.deps)

	_, err := h(context.Background(), createWidget{Color: "invisible"})

	require.Error(t, err)
	assert.False(t, called)
	assert.Equal(t, pipeline.OutcomeValidation, pipeline.Classify(err))
	assert.ErrorIs(t, err, domainErrors.ErrValidationFailed)
	assert.ElementsMatch(t, []pipeline.FieldError{
		{Field: "name", Message: "is required"},
		{Field: "color", Message: "is not a color"},
	}, pipeline.FieldErrors(err))
	assert.Empty(t, f.uow.Begun())
	assert.Empty(t, f.store.All())

	assert.Contains(t, f.logs.String(), "command rejected")
	assert.Contains(t, f.logs.String(), "is not a color")
}

func TestCommand_FailuresPersistNothing(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		outcome pipeline.Outcome
	}{
		{"business rule violation", domainErrors.ErrInsufficientFunds, pipeline.OutcomeError},
		{"not found", domainErrors.ErrAccountNotFound, pipeline.OutcomeNotFound},
		{"handler-level validation", domainErrors.NewValidationError("amount", "must be positive"), pipeline.OutcomeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()

			h := pipeline.Command("CreateWidget", func(ctx context.Context, cmd createWidget) (string, error) {
				f.widgets.put(ctx, cmd.Name, cmd.Color)
				_ = event.Stage(ctx, "A", widgetCreated{Base: event.NewBase(), Name: cmd.Name})
				return "", tt.err
			}, f.deps)

			_, err := h(context.Background(), createWidget{Name: "gear"})

			require.ErrorIs(t, err, tt.err)
			assert.Equal(t, tt.outcome, pipeline.Classify(err))
			assert.Zero(t, f.uow.Commits())
			assert.Equal(t, 1, f.uow.Rollbacks())
			assert.Zero(t, f.widgets.len())
			assert.Empty(t, f.store.All())

			require.Len(t, f.metrics.observed, 1)
			assert.Equal(t, string(tt.outcome), f.metrics.observed[0].outcome)
		})
	}
}

func TestCommand_SuccessWithoutChangesDoesNotCommit(t *testing.T) {
	f := newFixture()

	h := pipeline.Command("Noop", func(ctx context.Context, cmd createWidget) (string, error) {
		return "ok", nil
	}, f.deps)

	res, err := h(context.Background(), createWidget{Name: "n"})

	require.NoError(t, err)
	assert.Equal(t, "ok", res)
	require.Len(t, f.uow.Begun(), 1)
	assert.Zero(t, f.uow.Commits())
	assert.True(t, f.uow.Begun()[0].RolledBack())
}

func TestCommand_CommitFailureBecomesError(t *testing.T) {
	f := newFixture()
	f.uow.SaveErr = errors.New("serialization failure")

	h := pipeline.Command("CreateWidget", func(ctx context.Context, cmd createWidget) (string, error) {
		f.widgets.put(ctx, cmd.Name, cmd.Color)
		return "done", nil
	}, f.deps)

	res, err := h(context.Background(), createWidget{Name: "gear"})

	require.Error(t, err)
	assert.Empty(t, res)
	assert.Contains(t, err.Error(), "save changes")
	assert.Equal(t, pipeline.OutcomeError, pipeline.Classify(err))
	assert.Zero(t, f.widgets.len())
}

func TestCommand_RollbackFailureIsLoggedAndKeepsCause(t *testing.T) {
	f := newFixture()
	f.uow.RollbackErr = errors.New("connection reset by peer")
	boom := errors.New("insufficient stock")

	h := pipeline.Command("CreateWidget", func(ctx context.Context, cmd createWidget) (string, error) {
		f.widgets.put(ctx, cmd.Name, cmd.Color)
		return "", boom
	}, f.deps)

	_, err := h(context.Background(), createWidget{Name: "gear"})

	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, f.uow.Rollbacks())
	assert.Zero(t, f.uow.Commits())
	assert.Zero(t, f.widgets.len())
	assert.Contains(t, f.logs.String(), "unit of work rollback failed")
	assert.Contains(t, f.logs.String(), "connection reset by peer")
	assert.Contains(t, f.logs.String(), "insufficient stock")
}

func TestCommand_BeginFailure(t *testing.T) {
	f := newFixture()
	f.uow.BeginErr = errors.New("pool exhausted")

	called := false
	h := pipeline.Command("CreateWidget", func(ctx context.Context, cmd createWidget) (string, error) {
		called = true
		return "", nil
	}, f.deps)

	_, err := h(context.Background(), createWidget{Name: "gear"})

	require.Error(t, err)
	assert.False(t, called)
	assert.Contains(t, err.Error(), "begin unit of work")
}

func TestCommand_OutboxInsertFailureRollsBack(t *testing.T) {
	f := newFixture()
	f.store.AddErr = errors.New("disk full")

	h := pipeline.Command("CreateWidget", func(ctx context.Context, cmd createWidget) (string, error) {
		f.widgets.put(ctx, cmd.Name, cmd.Color)
		return "done", event.Stage(ctx, "A", widgetCreated{Name: cmd.Name})
	}, f.deps)

	_, err := h(context.Background(), createWidget{Name: "gear"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "widget.created")
	assert.Zero(t, f.uow.Commits())
	assert.Zero(t, f.widgets.len())
}

func TestCommand_CancelledContext(t *testing.T) {
	f := newFixture()
	called := false
	h := pipeline.Command("CreateWidget", func(ctx context.Context, cmd createWidget) (string, error) {
		called = true
		return "", nil
	}, f.deps)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h(ctx, createWidget{Name: "gear"})

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
	assert.Empty(t, f.uow.Begun())
}

func TestCommand_PanicRollsBack(t *testing.T) {
	f := newFixture()
	h := pipeline.Command("CreateWidget", func(ctx context.Context, cmd createWidget) (string, error) {
		f.widgets.put(ctx, cmd.Name, cmd.Color)
		panic("handler exploded")
	}, f.deps)

	assert.PanicsWithValue(t, "handler exploded", func() {
		_, _ = h(context.Background(), createWidget{Name: "gear"})
	})
	assert.Equal(t, 1, f.uow.Rollbacks())
	assert.Zero(t, f.widgets.len())
}

func TestCommand_SeparateRequestsGetSeparateAccumulators(t *testing.T) {
	f := newFixture()

	var seen []*event.Accumulator
	h := pipeline.Command("CreateWidget", func(ctx context.Context, cmd createWidget) (string, error) {
		acc, ok := event.AccumulatorFrom(ctx)
		require.True(t, ok)
		assert.Zero(t, acc.Len())
		seen = append(seen, acc)
		return "", event.Stage(ctx, "A", widgetCreated{Name: cmd.Name})
	}, f.deps)

	for _, name := range []string{"one", "two"} {
		_, err := h(context.Background(), createWidget{Name: name})
		require.NoError(t, err)
	}

	require.Len(t, seen, 2)
	assert.NotSame(t, seen[0], seen[1])
	assert.Len(t, f.store.All(), 2)
}

func TestQuery_DoesNotOpenUnitOfWork(t *testing.T) {
	f := newFixture()

	h := pipeline.Query("GetWidget", func(ctx context.Context, name string) (string, error) {
		_, ok := event.AccumulatorFrom(ctx)
		assert.False(t, ok)
		return "widget:" + name, nil
	}, f.deps)

	res, err := h(context.Background(), "gear")

	require.NoError(t, err)
	assert.Equal(t, "widget:gear", res)
	assert.Empty(t, f.uow.Begun())
	require.Len(t, f.metrics.observed, 1)
	assert.Equal(t, recordedCommand{"GetWidget", "success"}, f.metrics.observed[0])
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want pipeline.Outcome
	}{
		{"nil", nil, pipeline.OutcomeSuccess},
		{"validation failure", &pipeline.ValidationFailure{}, pipeline.OutcomeValidation},
		{"field error", domainErrors.NewValidationError("f", "bad"), pipeline.OutcomeValidation},
		{"not found", domainErrors.ErrNotFound, pipeline.OutcomeNotFound},
		{"wrapped not found", domainErrors.ErrAccountNotFound, pipeline.OutcomeNotFound},
		{"business", domainErrors.ErrAccountInactive, pipeline.OutcomeError},
		{"other", errors.New("x"), pipeline.OutcomeError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, pipeline.Classify(tt.err))
		})
	}
}
