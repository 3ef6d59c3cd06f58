package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/stackform-io/stackform/internal/diff"
	"github.com/stackform-io/stackform/internal/graph"
	"github.com/stackform-io/stackform/internal/ir"
	"github.com/stackform-io/stackform/internal/provider"
	"github.com/stackform-io/stackform/internal/state"
)

// fakeAdapter records adapter calls and can be told to fail whole resource
// types or block in Create until released.
type fakeAdapter struct {
	mu        sync.Mutex
	serial    int
	calls     []string
	failTypes map[string]bool

	entered chan string   // receives the type when a Create begins, if set
	release chan struct{} // Create blocks until closed, if set
}

func (f *fakeAdapter) Schema(typ string) *ir.Schema { return nil }

func (f *fakeAdapter) Create(ctx context.Context, typ string, attrs []byte) (string, []byte, error) {
	if f.entered != nil {
		f.entered <- typ
	}
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTypes[typ] {
		return "", nil, fmt.Errorf("permanent %s failure", typ)
	}
	f.serial++
	id := fmt.Sprintf("%s-%d", typ, f.serial)
	f.calls = append(f.calls, "create "+typ)
	return id, nil, nil
}

func (f *fakeAdapter) Read(ctx context.Context, typ, id string, prior []byte) ([]byte, error) {
	return prior, nil
}

func (f *fakeAdapter) Update(ctx context.Context, typ, id string, attrs, prior []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTypes[typ] {
		return nil, fmt.Errorf("permanent %s failure", typ)
	}
	f.calls = append(f.calls, "update "+id)
	return attrs, nil
}

func (f *fakeAdapter) Destroy(ctx context.Context, typ, id string, prior []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "destroy "+id)
	return nil
}

func (f *fakeAdapter) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func lit(v cty.Value) ir.Expr { return ir.Literal{Value: v} }

func ref(name string, index int, attr string) ir.Expr {
	return ir.Reference{Ref: ir.Ref{Name: name, Index: index, Attribute: attr}}
}

func decl(typ, name string, attrs map[string]ir.Expr) *ir.Declaration {
	if attrs == nil {
		attrs = map[string]ir.Expr{}
	}
	return &ir.Declaration{Type: typ, Name: name, Provider: "test", Attributes: attrs}
}

func registryWith(fake *fakeAdapter) *provider.Registry {
	reg := provider.NewRegistry()
	reg.Register("test", fake)
	return reg
}

func plan(t *testing.T, reg *provider.Registry, snap state.Snapshot, decls ...*ir.Declaration) *ir.Plan {
	t.Helper()
	g, err := graph.Build(decls)
	require.NoError(t, err)
	p, err := diff.New(diff.Options{Schema: reg.Schema}).Diff(g, snap)
	require.NoError(t, err)
	return p
}

func TestExecuteAppliesDependenciesFirst(t *testing.T) {
	fake := &fakeAdapter{}
	reg := registryWith(fake)
	store := state.NewMemStore()

	net := decl("test_net", "net", map[string]ir.Expr{
		"cidr": lit(cty.StringVal("10.0.0.0/16")),
	})
	sub := decl("test_sub", "sub", map[string]ir.Expr{
		"net_id": ref("net", -1, "id"),
	})
	app := decl("test_app", "app", map[string]ir.Expr{
		"sub_id": ref("sub", -1, "id"),
	})
	app.Count = lit(cty.NumberIntVal(2))

	// 1. First run creates everything, dependencies before dependents.
	p := plan(t, reg, store.Snapshot(), net, sub, app)
	exec := New(reg, Options{Parallelism: 4})
	report, err := exec.Execute(context.Background(), p, store)
	require.NoError(t, err)
	require.True(t, report.Converged())

	success, failed, skipped, _ := report.Counts()
	assert.Equal(t, 4, success)
	assert.Zero(t, failed)
	assert.Zero(t, skipped)

	calls := fake.callLog()
	require.Len(t, calls, 4)
	assert.Equal(t, "create test_net", calls[0])
	assert.Equal(t, "create test_sub", calls[1])

	// 2. Reference values come from the live store, not from the plan.
	sub1, ok := store.Get("test_sub.sub")
	require.True(t, ok)
	assert.Equal(t, cty.StringVal("test_net-1"), sub1.Attributes["net_id"])
	assert.Equal(t, []string{"test_net.net"}, sub1.Dependencies)

	app0, ok := store.Get("test_app.app[0]")
	require.True(t, ok)
	assert.Equal(t, cty.StringVal(sub1.ProviderID), app0.Attributes["sub_id"])

	// 3. Re-planning against the applied state is a no-op.
	p2 := plan(t, reg, store.Snapshot(), net, sub, app)
	assert.Equal(t, 0, p2.Summary.Changes())
	assert.Equal(t, 4, p2.Summary.NoOp)
}

func TestExecuteIsolatesFailures(t *testing.T) {
	fake := &fakeAdapter{failTypes: map[string]bool{"test_bad": true}}
	reg := registryWith(fake)
	store := state.NewMemStore()

	bad := decl("test_bad", "bad", nil)
	child := decl("test_app", "child", map[string]ir.Expr{
		"parent": ref("bad", -1, "id"),
	})
	solo := decl("test_net", "solo", nil)

	p := plan(t, reg, store.Snapshot(), bad, child, solo)
	report, err := New(reg, Options{}).Execute(context.Background(), p, store)
	require.NoError(t, err)
	require.False(t, report.Converged())

	// 1. The failing action reports its provider error.
	badRes := report.Results["test_bad.bad"]
	require.NotNil(t, badRes)
	assert.Equal(t, ir.StatusFailed, badRes.Status)
	assert.Contains(t, badRes.Err.Error(), "permanent test_bad failure")

	// 2. Its dependent is skipped, naming the failed dependency.
	childRes := report.Results["test_app.child"]
	require.NotNil(t, childRes)
	assert.Equal(t, ir.StatusSkipped, childRes.Status)
	assert.Contains(t, childRes.Err.Error(), "test_bad.bad")

	// 3. The unrelated resource still applies.
	soloRes := report.Results["test_net.solo"]
	require.NotNil(t, soloRes)
	assert.Equal(t, ir.StatusSuccess, soloRes.Status)
	_, ok := store.Get("test_net.solo")
	assert.True(t, ok)
	_, ok = store.Get("test_bad.bad")
	assert.False(t, ok)
	_, ok = store.Get("test_app.child")
	assert.False(t, ok)
}

func TestExecuteReplaceDestroysBeforeCreate(t *testing.T) {
	fake := &fakeAdapter{}
	reg := registryWith(fake)
	store := state.NewMemStore()

	require.NoError(t, store.Put(&ir.StateEntry{
		Address:    "test_app.app",
		Type:       "test_app",
		Name:       "app",
		Index:      -1,
		Provider:   "test",
		ProviderID: "app-old",
		Attributes: map[string]cty.Value{"zone": cty.StringVal("us-east-1a")},
	}))

	app := decl("test_app", "app", map[string]ir.Expr{
		"zone": lit(cty.StringVal("us-east-1b")),
	})
	app.Lifecycle = &ir.Lifecycle{ReplaceTriggers: []string{"zone"}}

	p := plan(t, reg, store.Snapshot(), app)
	report, err := New(reg, Options{}).Execute(context.Background(), p, store)
	require.NoError(t, err)
	require.True(t, report.Converged())

	// The pair collapses into one result carrying the create outcome.
	require.Len(t, report.Results, 1)
	res := report.Results["test_app.app"]
	assert.Equal(t, ir.ActionCreate, res.Kind)
	assert.Equal(t, ir.StatusSuccess, res.Status)
	assert.Equal(t, "test_app-1", res.ProviderID)

	assert.Equal(t, []string{"destroy app-old", "create test_app"}, fake.callLog())

	replaced, ok := store.Get("test_app.app")
	require.True(t, ok)
	assert.Equal(t, "test_app-1", replaced.ProviderID)
	assert.Equal(t, cty.StringVal("us-east-1b"), replaced.Attributes["zone"])
}

func TestExecuteTargetsLimitScope(t *testing.T) {
	fake := &fakeAdapter{}
	reg := registryWith(fake)
	store := state.NewMemStore()

	a := decl("test_net", "a", nil)
	b := decl("test_net", "b", nil)
	c := decl("test_app", "c", map[string]ir.Expr{
		"net_id": ref("a", -1, "id"),
	})

	p := plan(t, reg, store.Snapshot(), a, b, c)
	exec := New(reg, Options{Targets: []string{"test_app.c"}})
	report, err := exec.Execute(context.Background(), p, store)
	require.NoError(t, err)
	require.True(t, report.Converged())

	// The target and its transitive dependency run; b is untouched.
	require.Len(t, report.Results, 2)
	assert.Contains(t, report.Results, "test_app.c")
	assert.Contains(t, report.Results, "test_net.a")

	_, ok := store.Get("test_net.b")
	assert.False(t, ok)
}

func TestExecuteFamilyTargetMatchesAllInstances(t *testing.T) {
	fake := &fakeAdapter{}
	reg := registryWith(fake)
	store := state.NewMemStore()

	app := decl("test_app", "app", nil)
	app.Count = lit(cty.NumberIntVal(2))
	other := decl("test_net", "other", nil)

	p := plan(t, reg, store.Snapshot(), app, other)
	exec := New(reg, Options{Targets: []string{"test_app.app"}})
	report, err := exec.Execute(context.Background(), p, store)
	require.NoError(t, err)

	require.Len(t, report.Results, 2)
	assert.Contains(t, report.Results, "test_app.app[0]")
	assert.Contains(t, report.Results, "test_app.app[1]")
}

func TestExecuteCancellationSkipsPendingActions(t *testing.T) {
	fake := &fakeAdapter{
		entered: make(chan string, 2),
		release: make(chan struct{}),
	}
	reg := registryWith(fake)
	store := state.NewMemStore()

	p := plan(t, reg, store.Snapshot(),
		decl("test_net", "a", nil),
		decl("test_net", "b", nil),
	)

	ctx, cancel := context.WithCancel(context.Background())
	exec := New(reg, Options{Parallelism: 1})

	done := make(chan *ir.Report, 1)
	go func() {
		report, err := exec.Execute(ctx, p, store)
		assert.NoError(t, err)
		done <- report
	}()

	// Wait until one action is in flight, then cancel the run and let the
	// in-flight call finish.
	<-fake.entered
	cancel()
	close(fake.release)

	var report *ir.Report
	select {
	case report = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("execute did not return after cancellation")
	}

	// The in-flight action completes; the queued one is skipped.
	success, failed, skipped, _ := report.Counts()
	assert.Equal(t, 1, success)
	assert.Zero(t, failed)
	assert.Equal(t, 1, skipped)

	for _, res := range report.Results {
		if res.Status == ir.StatusSkipped {
			assert.Contains(t, res.Err.Error(), "cancelled")
		}
	}
}

func TestExecuteReportsNoops(t *testing.T) {
	fake := &fakeAdapter{}
	reg := registryWith(fake)
	store := state.NewMemStore()

	require.NoError(t, store.Put(&ir.StateEntry{
		Address:    "test_net.net",
		Type:       "test_net",
		Name:       "net",
		Index:      -1,
		Provider:   "test",
		ProviderID: "net-1",
		Attributes: map[string]cty.Value{"cidr": cty.StringVal("10.0.0.0/16")},
	}))

	net := decl("test_net", "net", map[string]ir.Expr{
		"cidr": lit(cty.StringVal("10.0.0.0/16")),
	})

	p := plan(t, reg, store.Snapshot(), net)
	report, err := New(reg, Options{}).Execute(context.Background(), p, store)
	require.NoError(t, err)

	require.True(t, report.Converged())
	_, _, _, noop := report.Counts()
	assert.Equal(t, 1, noop)
	assert.Empty(t, fake.callLog())
}

func TestExecuteEmitsLifecycleEvents(t *testing.T) {
	fake := &fakeAdapter{}
	reg := registryWith(fake)
	store := state.NewMemStore()

	p := plan(t, reg, store.Snapshot(), decl("test_net", "net", nil))

	var mu sync.Mutex
	var events []Event
	exec := New(reg, Options{})
	exec.OnEvent(func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	_, err := exec.Execute(context.Background(), p, store)
	require.NoError(t, err)

	require.Len(t, events, 2)
	assert.Equal(t, "started", events[0].Status)
	assert.Equal(t, "completed", events[1].Status)
	assert.Equal(t, "test_net.net", events[0].Address)
	assert.Equal(t, ir.ActionCreate, events[0].Kind)
}

func TestExecuteRejectsMalformedEdges(t *testing.T) {
	reg := registryWith(&fakeAdapter{})
	p := &ir.Plan{
		Actions: []*ir.ChangeAction{{Address: "test_net.net", Kind: ir.ActionNoop}},
		Edges:   []ir.Edge{{From: 0, To: 7}},
	}
	_, err := New(reg, Options{}).Execute(context.Background(), p, state.NewMemStore())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestNewAppliesDefaults(t *testing.T) {
	exec := New(registryWith(&fakeAdapter{}), Options{})
	assert.Equal(t, defaultParallelism, exec.opts.Parallelism)
	assert.Equal(t, DefaultTimeout, exec.opts.DefaultTimeout)
	require.NotNil(t, exec.opts.Retry)
	assert.Equal(t, DefaultRetryMax, exec.opts.Retry.MaxRetries)
}

func TestRetryWithBackoffRetriesTransientErrors(t *testing.T) {
	policy := &RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

	// 1. Transient errors are retried until the call succeeds.
	attempts := 0
	err := retryWithBackoff(context.Background(), policy, func() error {
		attempts++
		if attempts < 3 {
			return fmt.Errorf("api throttled, request limit exceeded")
		}
		return nil
	}, isTransientError)
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)

	// 2. Permanent errors fail immediately.
	attempts = 0
	err = retryWithBackoff(context.Background(), policy, func() error {
		attempts++
		return fmt.Errorf("invalid parameter")
	}, isTransientError)
	require.Error(t, err)
	assert.Equal(t, 1, attempts)

	// 3. Exhausting the budget reports the last error.
	attempts = 0
	err = retryWithBackoff(context.Background(), policy, func() error {
		attempts++
		return fmt.Errorf("connection reset by peer")
	}, isTransientError)
	require.Error(t, err)
	assert.Equal(t, 4, attempts)
	assert.Contains(t, err.Error(), "max retries")
}

func TestExecuteObservedValuesLandInState(t *testing.T) {
	// An adapter that reports computed attributes alongside the configured
	// ones, the way cloud providers surface ARNs and endpoints.
	observing := &observingAdapter{}
	reg := provider.NewRegistry()
	reg.Register("test", observing)
	store := state.NewMemStore()

	db := decl("test_db", "db", map[string]ir.Expr{
		"engine": lit(cty.StringVal("postgres")),
	})
	consumer := decl("test_app", "app", map[string]ir.Expr{
		"dsn": ref("db", -1, "endpoint"),
	})

	p := plan(t, reg, store.Snapshot(), db, consumer)
	report, err := New(reg, Options{}).Execute(context.Background(), p, store)
	require.NoError(t, err)
	require.True(t, report.Converged())

	dbEntry, ok := store.Get("test_db.db")
	require.True(t, ok)
	assert.Equal(t, cty.StringVal("postgres"), dbEntry.Attributes["engine"])
	assert.Equal(t, cty.StringVal("db.internal:5432"), dbEntry.Attributes["endpoint"])

	appEntry, ok := store.Get("test_app.app")
	require.True(t, ok)
	assert.Equal(t, cty.StringVal("db.internal:5432"), appEntry.Attributes["dsn"])
}

type observingAdapter struct {
	serial int
	mu     sync.Mutex
}

func (o *observingAdapter) Schema(typ string) *ir.Schema { return nil }

func (o *observingAdapter) Create(ctx context.Context, typ string, attrs []byte) (string, []byte, error) {
	o.mu.Lock()
	o.serial++
	id := fmt.Sprintf("%s-%d", typ, o.serial)
	o.mu.Unlock()

	observed := map[string]string{}
	if typ == "test_db" {
		observed["endpoint"] = "db.internal:5432"
	}
	data, err := json.Marshal(observed)
	return id, data, err
}

func (o *observingAdapter) Read(ctx context.Context, typ, id string, prior []byte) ([]byte, error) {
	return prior, nil
}

func (o *observingAdapter) Update(ctx context.Context, typ, id string, attrs, prior []byte) ([]byte, error) {
	return attrs, nil
}

func (o *observingAdapter) Destroy(ctx context.Context, typ, id string, prior []byte) error {
	return nil
}
