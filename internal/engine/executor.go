// Package engine walks a plan in dependency order and applies each change
// action through the provider adapters, updating the state store as actions
// complete. Failures are local: an unrelated subtree keeps executing while
// dependents of a failed action are skipped.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/zclconf/go-cty/cty"

	"github.com/stackform-io/stackform/internal/ir"
	"github.com/stackform-io/stackform/internal/logging"
	"github.com/stackform-io/stackform/internal/provider"
	"github.com/stackform-io/stackform/internal/state"
)

const defaultParallelism = 10

// Options configure one execution.
type Options struct {
	// Parallelism bounds how many adapter calls run at once.
	Parallelism int

	// Targets restricts execution to these addresses (family addresses
	// match all their instances) and their transitive dependencies.
	Targets []string

	// DefaultTimeout bounds each adapter call; Timeouts overrides it per
	// resource type.
	DefaultTimeout time.Duration
	Timeouts       map[string]time.Duration

	Retry *RetryPolicy
}

// Event reports per-action progress to an optional callback.
type Event struct {
	Address  string
	Kind     ir.ActionKind
	Status   string // "started", "completed", "failed", "skipped"
	Duration time.Duration
	Err      error
}

// Callback receives execution events; it must be safe for concurrent calls.
type Callback func(Event)

// Executor applies plans.
type Executor struct {
	registry *provider.Registry
	opts     Options
	callback Callback
}

func New(registry *provider.Registry, opts Options) *Executor {
	if opts.Parallelism <= 0 {
		opts.Parallelism = defaultParallelism
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultTimeout
	}
	if opts.Retry == nil {
		opts.Retry = DefaultRetryPolicy()
	}
	return &Executor{registry: registry, opts: opts}
}

// OnEvent installs a progress callback.
func (e *Executor) OnEvent(cb Callback) {
	e.callback = cb
}

func (e *Executor) emit(ev Event) {
	if e.callback != nil {
		e.callback(ev)
	}
}

// Execute runs the plan with a bounded worker pool. The plan's topological
// order is advisory: any action whose dependencies have completed may run,
// so independent subtrees proceed in parallel. Cancelling the context stops
// dispatching new actions but lets in-flight adapter calls finish, so a
// provider-side mutation is never killed mid-flight.
//
// The returned error covers engine-level problems only; per-resource
// outcomes live in the report and must be inspected by the caller.
func (e *Executor) Execute(ctx context.Context, plan *ir.Plan, store state.Store) (*ir.Report, error) {
	n := len(plan.Actions)
	deps := make([][]int, n)
	for _, edge := range plan.Edges {
		if edge.From < 0 || edge.From >= n || edge.To < 0 || edge.To >= n {
			return nil, fmt.Errorf("plan edge %d->%d out of range", edge.From, edge.To)
		}
		deps[edge.To] = append(deps[edge.To], edge.From)
	}

	include := e.targetClosure(plan, deps)

	statuses := make([]ir.Status, n)
	errs := make([]error, n)
	ids := make([]string, n)
	durations := make([]time.Duration, n)

	var mu sync.Mutex
	cond := sync.NewCond(&mu)

	// Wake dependency waiters when the run is cancelled.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			cond.Broadcast()
		case <-watchDone:
		}
	}()

	sem := make(chan struct{}, e.opts.Parallelism)
	var wg sync.WaitGroup

	for i := range plan.Actions {
		if !include[i] {
			continue
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			action := plan.Actions[i]

			mu.Lock()
			for {
				blocked, badDep := depState(deps[i], statuses, include)
				if badDep >= 0 {
					statuses[i] = ir.StatusSkipped
					errs[i] = fmt.Errorf("dependency %s did not complete", plan.Actions[badDep].Address)
					mu.Unlock()
					cond.Broadcast()
					e.emit(Event{Address: action.Address, Kind: action.Kind, Status: "skipped", Err: errs[i]})
					return
				}
				if ctx.Err() != nil {
					statuses[i] = ir.StatusSkipped
					errs[i] = fmt.Errorf("run cancelled: %w", ctx.Err())
					mu.Unlock()
					cond.Broadcast()
					e.emit(Event{Address: action.Address, Kind: action.Kind, Status: "skipped", Err: errs[i]})
					return
				}
				if !blocked {
					break
				}
				cond.Wait()
			}
			mu.Unlock()

			if action.Kind == ir.ActionNoop {
				mu.Lock()
				statuses[i] = ir.StatusNoop
				mu.Unlock()
				cond.Broadcast()
				return
			}

			sem <- struct{}{}
			if ctx.Err() != nil {
				<-sem
				mu.Lock()
				statuses[i] = ir.StatusSkipped
				errs[i] = fmt.Errorf("run cancelled: %w", ctx.Err())
				mu.Unlock()
				cond.Broadcast()
				e.emit(Event{Address: action.Address, Kind: action.Kind, Status: "skipped", Err: errs[i]})
				return
			}

			start := time.Now()
			e.emit(Event{Address: action.Address, Kind: action.Kind, Status: "started"})
			id, err := e.applyAction(ctx, plan, i, deps[i], store)
			<-sem

			mu.Lock()
			durations[i] = time.Since(start)
			if err != nil {
				statuses[i] = ir.StatusFailed
				errs[i] = err
			} else {
				statuses[i] = ir.StatusSuccess
				ids[i] = id
			}
			mu.Unlock()
			cond.Broadcast()

			if err != nil {
				e.emit(Event{Address: action.Address, Kind: action.Kind, Status: "failed", Duration: time.Since(start), Err: err})
			} else {
				e.emit(Event{Address: action.Address, Kind: action.Kind, Status: "completed", Duration: time.Since(start)})
			}
		}(i)
	}

	wg.Wait()

	return buildReport(plan, include, statuses, errs, ids, durations), nil
}

// depState inspects the dependencies of one action. It returns whether the
// action is still blocked and, when a dependency failed or was skipped, that
// dependency's index (-1 otherwise). Callers hold the mutex.
func depState(deps []int, statuses []ir.Status, include []bool) (bool, int) {
	blocked := false
	for _, d := range deps {
		if !include[d] {
			continue
		}
		switch statuses[d] {
		case ir.StatusFailed, ir.StatusSkipped:
			return false, d
		case ir.StatusSuccess, ir.StatusNoop:
		default:
			blocked = true
		}
	}
	return blocked, -1
}

// targetClosure marks the actions to execute: all of them without targets,
// otherwise the targeted addresses plus their transitive dependencies.
func (e *Executor) targetClosure(plan *ir.Plan, deps [][]int) []bool {
	include := make([]bool, len(plan.Actions))
	if len(e.opts.Targets) == 0 {
		for i := range include {
			include[i] = true
		}
		return include
	}

	targeted := make(map[string]bool, len(e.opts.Targets))
	for _, t := range e.opts.Targets {
		targeted[t] = true
	}

	var mark func(i int)
	mark = func(i int) {
		if include[i] {
			return
		}
		include[i] = true
		for _, d := range deps[i] {
			mark(d)
		}
	}
	for i, action := range plan.Actions {
		family, _ := ir.SplitIndex(action.Address)
		if targeted[action.Address] || targeted[family] {
			mark(i)
		}
	}
	return include
}

// applyAction invokes the adapter operation matching the action kind and
// updates the state store on success, so later actions in the same run
// resolve references against up-to-date values.
func (e *Executor) applyAction(ctx context.Context, plan *ir.Plan, i int, actionDeps []int, store state.Store) (string, error) {
	action := plan.Actions[i]

	var provName, typ string
	if action.After != nil {
		provName, typ = action.After.Provider, action.After.Type
	} else if action.Before != nil {
		provName, typ = action.Before.Provider, action.Before.Type
	}
	adp, err := e.registry.Get(provName)
	if err != nil {
		return "", fmt.Errorf("provider not loaded for %s: %w", action.Address, err)
	}

	timeout := e.opts.DefaultTimeout
	if t, ok := e.opts.Timeouts[typ]; ok && t > 0 {
		timeout = t
	}
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	logging.Debug("applying action", "address", action.Address, "kind", action.Kind)

	switch action.Kind {
	case ir.ActionCreate:
		desired, err := e.resolveDesired(plan, action.After, store)
		if err != nil {
			return "", err
		}
		payload, err := ir.MarshalValues(desired)
		if err != nil {
			return "", fmt.Errorf("%s: %w", action.Address, err)
		}
		var id string
		var observed []byte
		err = retryWithBackoff(callCtx, e.opts.Retry, func() error {
			var apErr error
			id, observed, apErr = adp.Create(callCtx, typ, payload)
			return apErr
		}, isTransientError)
		if err != nil {
			return "", fmt.Errorf("create failed for %s: %w", action.Address, err)
		}
		entry, err := e.newEntry(plan, action, actionDeps, id, desired, observed)
		if err != nil {
			return id, err
		}
		if err := store.Put(entry); err != nil {
			return id, fmt.Errorf("failed to record state for %s: %w", action.Address, err)
		}
		return id, nil

	case ir.ActionUpdate:
		prior, ok := store.Get(action.Address)
		if !ok {
			prior = action.Before
		}
		if prior == nil {
			return "", fmt.Errorf("update for %s has no prior state", action.Address)
		}
		desired, err := e.resolveDesired(plan, action.After, store)
		if err != nil {
			return "", err
		}
		payload, err := ir.MarshalValues(desired)
		if err != nil {
			return "", fmt.Errorf("%s: %w", action.Address, err)
		}
		priorJSON, err := ir.MarshalValues(prior.Attributes)
		if err != nil {
			return "", fmt.Errorf("%s: %w", action.Address, err)
		}
		var observed []byte
		err = retryWithBackoff(callCtx, e.opts.Retry, func() error {
			var apErr error
			observed, apErr = adp.Update(callCtx, typ, prior.ProviderID, payload, priorJSON)
			return apErr
		}, isTransientError)
		if err != nil {
			return "", fmt.Errorf("update failed for %s: %w", action.Address, err)
		}
		entry, err := e.newEntry(plan, action, actionDeps, prior.ProviderID, desired, observed)
		if err != nil {
			return prior.ProviderID, err
		}
		if err := store.Put(entry); err != nil {
			return prior.ProviderID, fmt.Errorf("failed to record state for %s: %w", action.Address, err)
		}
		return prior.ProviderID, nil

	case ir.ActionDestroy:
		prior, ok := store.Get(action.Address)
		if !ok {
			prior = action.Before
		}
		if prior == nil {
			return "", nil // nothing recorded, nothing to destroy
		}
		priorJSON, err := ir.MarshalValues(prior.Attributes)
		if err != nil {
			return "", fmt.Errorf("%s: %w", action.Address, err)
		}
		err = retryWithBackoff(callCtx, e.opts.Retry, func() error {
			return adp.Destroy(callCtx, typ, prior.ProviderID, priorJSON)
		}, isTransientError)
		if err != nil {
			return "", fmt.Errorf("destroy failed for %s: %w", action.Address, err)
		}
		if err := store.Remove(action.Address); err != nil {
			return "", fmt.Errorf("failed to remove state for %s: %w", action.Address, err)
		}
		return "", nil
	}

	return "", fmt.Errorf("unexpected action kind %q for %s", action.Kind, action.Address)
}

// newEntry builds the state entry recorded after a successful create or
// update: desired values overlaid with whatever the adapter observed, plus
// the dependency addresses used later to order destroys.
func (e *Executor) newEntry(plan *ir.Plan, action *ir.ChangeAction, actionDeps []int, id string, desired map[string]cty.Value, observed []byte) (*ir.StateEntry, error) {
	attrs := make(map[string]cty.Value, len(desired))
	for k, v := range desired {
		attrs[k] = v
	}
	obs, err := ir.UnmarshalValues(observed)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", action.Address, err)
	}
	for k, v := range obs {
		attrs[k] = v
	}

	depAddrs := make([]string, 0, len(actionDeps))
	seen := make(map[string]bool, len(actionDeps))
	for _, d := range actionDeps {
		addr := plan.Actions[d].Address
		if addr == action.Address || seen[addr] {
			continue
		}
		seen[addr] = true
		depAddrs = append(depAddrs, addr)
	}
	sort.Strings(depAddrs)

	inst := action.After
	return &ir.StateEntry{
		Address:      action.Address,
		Type:         inst.Type,
		Name:         inst.Name,
		Index:        inst.Index,
		Provider:     inst.Provider,
		ProviderID:   id,
		Attributes:   attrs,
		Dependencies: depAddrs,
		LastSuccess:  time.Now().UTC(),
	}, nil
}

// resolveDesired resolves an instance's attributes against the live store,
// so values written by earlier actions in this run are visible.
func (e *Executor) resolveDesired(plan *ir.Plan, inst *ir.Instance, store state.Store) (map[string]cty.Value, error) {
	lookup := func(ref ir.Ref) (cty.Value, error) {
		addrs := plan.Families[ref.Name]
		if ref.Index >= 0 {
			for _, addr := range addrs {
				if _, idx := ir.SplitIndex(addr); idx == ref.Index {
					return storeValue(store, addr, ref.Attribute), nil
				}
			}
			return cty.NullVal(cty.DynamicPseudoType), nil
		}
		switch len(addrs) {
		case 0:
			return cty.NullVal(cty.DynamicPseudoType), nil
		case 1:
			return storeValue(store, addrs[0], ref.Attribute), nil
		}
		sorted := append([]string(nil), addrs...)
		sort.Slice(sorted, func(i, j int) bool {
			_, a := ir.SplitIndex(sorted[i])
			_, b := ir.SplitIndex(sorted[j])
			return a < b
		})
		vals := make([]cty.Value, len(sorted))
		for i, addr := range sorted {
			vals[i] = storeValue(store, addr, ref.Attribute)
		}
		return cty.TupleVal(vals), nil
	}

	rc := &ir.ResolveContext{Index: inst.Index, Lookup: lookup}
	out := make(map[string]cty.Value, len(inst.Attributes))
	names := make([]string, 0, len(inst.Attributes))
	for name := range inst.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v, err := inst.Attributes[name].Resolve(rc)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to resolve %q: %w", inst.Address, name, err)
		}
		out[name] = v
	}
	return out, nil
}

func storeValue(store state.Store, addr, attribute string) cty.Value {
	entry, ok := store.Get(addr)
	if !ok {
		return cty.NullVal(cty.DynamicPseudoType)
	}
	if attribute == "" {
		return entry.Object()
	}
	return entry.Attribute(attribute)
}

// buildReport merges per-action outcomes into per-address results. A replace
// pair collapses into one row: any failure or skip wins, and the create
// member supplies the kind and provider identifier.
func buildReport(plan *ir.Plan, include []bool, statuses []ir.Status, errs []error, ids []string, durations []time.Duration) *ir.Report {
	report := ir.NewReport()
	for i, action := range plan.Actions {
		if !include[i] {
			continue
		}
		res, ok := report.Results[action.Address]
		if !ok {
			report.Results[action.Address] = &ir.ActionResult{
				Address:    action.Address,
				Kind:       action.Kind,
				Status:     statuses[i],
				ProviderID: ids[i],
				Err:        errs[i],
				Duration:   durations[i],
			}
			continue
		}

		res.Duration += durations[i]
		if statusRank(statuses[i]) > statusRank(res.Status) {
			res.Status = statuses[i]
			res.Err = errs[i]
		}
		if ids[i] != "" {
			res.ProviderID = ids[i]
		}
		if action.Replacing && action.Kind == ir.ActionCreate {
			res.Kind = action.Kind
		}
	}
	return report
}

func statusRank(s ir.Status) int {
	switch s {
	case ir.StatusFailed:
		return 3
	case ir.StatusSkipped:
		return 2
	case ir.StatusSuccess:
		return 1
	default:
		return 0
	}
}
