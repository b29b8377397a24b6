package workflow

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shailesh-ag78/Inspecta/internal/checkpoint"
	"go.uber.org/zap"
)

// Pseudo nodes around the real ones.
const (
	NodeQueued    = "queued"
	NodeCompleted = "completed"
)

var (
	ErrNotFound     = errors.New("incident not found")
	ErrCanceled     = errors.New("workflow canceled")
	ErrNotRetryable = errors.New("workflow run is not failed")
	ErrBusy         = errors.New("workflow run is in progress")
)

// NodeFunc does a node's work and returns the state fields it changed.
type NodeFunc func(ctx context.Context, state State) (State, error)

type Node struct {
	Name  string
	Run   NodeFunc
	Retry RetryPolicy
	// Timeout bounds each attempt. Zero means no limit.
	Timeout time.Duration
}

// Engine runs incidents through a fixed sequence of nodes, checkpointing the
// merged state after every node so a run can continue after a restart
// without repeating finished nodes.
type Engine struct {
	store    checkpoint.Store
	nodes    []Node
	policies Policies
	logger   *zap.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	active map[string]*run
	wg     sync.WaitGroup
}

type run struct {
	canceled atomic.Bool
	lease    checkpoint.Lease
}

type Option func(*Engine)

func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithPolicies(p Policies) Option {
	return func(e *Engine) { e.policies = p }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithSleep replaces the backoff wait, mainly for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) { e.sleep = sleep }
}

func New(store checkpoint.Store, nodes []Node, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, errors.New("checkpoint store is required")
	}
	if len(nodes) == 0 {
		return nil, errors.New("at least one node is required")
	}
	seen := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		switch {
		case n.Name == "":
			return nil, errors.New("node name is required")
		case n.Name == NodeQueued || n.Name == NodeCompleted:
			return nil, fmt.Errorf("node name %q is reserved", n.Name)
		case seen[n.Name]:
			return nil, fmt.Errorf("duplicate node %q", n.Name)
		case n.Run == nil:
			return nil, fmt.Errorf("node %q has no run function", n.Name)
		}
		seen[n.Name] = true
	}

	e := &Engine{
		store:  store,
		nodes:  slices.Clone(nodes),
		logger: zap.NewNop(),
		now:    time.Now,
		sleep:  sleepContext,
		active: make(map[string]*run),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Engine) Nodes() []string {
	names := make([]string, len(e.nodes))
	for i, n := range e.nodes {
		names[i] = n.Name
	}
	return names
}

// Start begins or continues the run for incidentID and returns once the run
// is durably queued; the nodes execute in the background. initial is only
// used when no checkpoint exists yet. Starting a finished run or one that is
// already executing, here or in another process, does nothing.
func (e *Engine) Start(ctx context.Context, incidentID string, initial State) error {
	r, ok, err := e.claim(ctx, incidentID)
	if err != nil {
		return err
	}
	if !ok {
		e.logger.Debug("run already active", zap.String("incident", incidentID))
		return nil
	}

	cp, err := e.loadOrQueue(ctx, incidentID, initial)
	if err != nil || cp.Status.Terminal() {
		e.release(incidentID)
		return err
	}

	e.launch(ctx, incidentID, r, cp)
	return nil
}

// Enqueue records a queued run for incidentID without executing it. A later
// Start or Resume picks it up.
func (e *Engine) Enqueue(ctx context.Context, incidentID string, initial State) error {
	_, ok, err := e.claim(ctx, incidentID)
	if err != nil || !ok {
		return err
	}
	defer e.release(incidentID)

	_, err = e.loadOrQueue(ctx, incidentID, initial)
	return err
}

func (e *Engine) loadOrQueue(ctx context.Context, incidentID string, initial State) (checkpoint.Checkpoint, error) {
	cp, err := e.store.Get(ctx, incidentID)
	if err == nil {
		return cp, nil
	}
	if !errors.Is(err, checkpoint.ErrNotFound) {
		return checkpoint.Checkpoint{}, fmt.Errorf("load checkpoint %s: %w", incidentID, err)
	}

	state, err := initial.clone()
	if err != nil {
		return checkpoint.Checkpoint{}, err
	}
	now := e.now()
	cp = checkpoint.Checkpoint{
		IncidentID: incidentID,
		Node:       NodeQueued,
		Status:     checkpoint.StatusQueued,
		State:      state,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := e.store.Put(ctx, cp); err != nil {
		return checkpoint.Checkpoint{}, fmt.Errorf("queue incident %s: %w", incidentID, err)
	}
	return cp, nil
}

// Resume restarts every unfinished run found in the store, typically after a
// process restart. Runs held by a live owner are skipped. It returns how many
// runs were started.
func (e *Engine) Resume(ctx context.Context) (int, error) {
	cps, err := e.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list checkpoints: %w", err)
	}

	started := 0
	for _, listed := range cps {
		if listed.Status.Terminal() {
			continue
		}
		id := listed.IncidentID
		r, ok, err := e.claim(ctx, id)
		if err != nil {
			return started, err
		}
		if !ok {
			e.logger.Debug("run held elsewhere", zap.String("incident", id))
			continue
		}

		// The previous owner may have moved on between List and Claim.
		cp, err := e.store.Get(ctx, id)
		if err != nil {
			e.release(id)
			return started, fmt.Errorf("load checkpoint %s: %w", id, err)
		}
		if cp.Status.Terminal() {
			e.release(id)
			continue
		}

		e.logger.Info("resuming run", zap.String("incident", id), zap.String("node", cp.Node))
		e.launch(ctx, id, r, cp)
		started++
	}
	return started, nil
}

// Retry re-enters a failed run at the node that failed, with a fresh attempt
// budget.
func (e *Engine) Retry(ctx context.Context, incidentID string) error {
	r, ok, err := e.claim(ctx, incidentID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrBusy, incidentID)
	}

	cp, err := e.load(ctx, incidentID)
	if err != nil {
		e.release(incidentID)
		return err
	}
	if cp.Status != checkpoint.StatusFailed {
		e.release(incidentID)
		return fmt.Errorf("%w: %s is %s", ErrNotRetryable, incidentID, cp.Status)
	}

	if err := e.store.SetCancel(ctx, incidentID, false); err != nil {
		e.release(incidentID)
		return err
	}
	cp.Status = checkpoint.StatusQueued
	cp.Error = ""
	cp.Attempts = 0
	cp.UpdatedAt = e.now()
	if err := e.store.Put(ctx, cp); err != nil {
		e.release(incidentID)
		return fmt.Errorf("requeue incident %s: %w", incidentID, err)
	}

	e.launch(ctx, incidentID, r, cp)
	return nil
}

// Cancel stops a run before its next node. A run executing in another
// process gets a cancel request that its owner acts on; an unfinished run
// nobody is executing is marked failed right away.
func (e *Engine) Cancel(ctx context.Context, incidentID string) error {
	e.mu.Lock()
	if r, ok := e.active[incidentID]; ok {
		r.canceled.Store(true)
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	cp, err := e.load(ctx, incidentID)
	if err != nil || cp.Status.Terminal() {
		return err
	}

	_, ok, err := e.claim(ctx, incidentID)
	if err != nil {
		return err
	}
	if !ok {
		return e.store.SetCancel(ctx, incidentID, true)
	}
	defer e.release(incidentID)

	// Re-read under the lease; the last owner may have finished meanwhile.
	cp, err = e.load(ctx, incidentID)
	if err != nil || cp.Status.Terminal() {
		return err
	}
	cp.Status = checkpoint.StatusFailed
	cp.Error = ErrCanceled.Error()
	cp.UpdatedAt = e.now()
	return e.store.Put(ctx, cp)
}

// Active reports whether a run for incidentID is executing in this process.
func (e *Engine) Active(incidentID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.active[incidentID]
	return ok
}

// Wait blocks until every background run has returned.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Shutdown waits for background runs until ctx ends. Unfinished runs keep
// their checkpoint and continue on the next Resume.
func (e *Engine) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) load(ctx context.Context, incidentID string) (checkpoint.Checkpoint, error) {
	cp, err := e.store.Get(ctx, incidentID)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			return cp, fmt.Errorf("%w: %s", ErrNotFound, incidentID)
		}
		return cp, fmt.Errorf("load checkpoint %s: %w", incidentID, err)
	}
	return cp, nil
}

// claim reserves incidentID for this engine: first against runs in this
// process, then through the store lease against every other process. ok is
// false when someone else holds the run.
func (e *Engine) claim(ctx context.Context, incidentID string) (*run, bool, error) {
	e.mu.Lock()
	if _, busy := e.active[incidentID]; busy {
		e.mu.Unlock()
		return nil, false, nil
	}
	r := &run{}
	e.active[incidentID] = r
	e.mu.Unlock()

	lease, err := e.store.Claim(ctx, incidentID)
	if err != nil {
		e.mu.Lock()
		delete(e.active, incidentID)
		e.mu.Unlock()
		if errors.Is(err, checkpoint.ErrLeased) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("claim incident %s: %w", incidentID, err)
	}
	r.lease = lease
	return r, true, nil
}

func (e *Engine) release(incidentID string) {
	e.mu.Lock()
	r := e.active[incidentID]
	delete(e.active, incidentID)
	e.mu.Unlock()

	if r == nil || r.lease == nil {
		return
	}
	if err := r.lease.Release(); err != nil {
		e.logger.Warn("release run lease", zap.String("incident", incidentID), zap.Error(err))
	}
}

func (e *Engine) launch(ctx context.Context, incidentID string, r *run, cp checkpoint.Checkpoint) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.release(incidentID)
		e.execute(context.WithoutCancel(ctx), r, cp)
	}()
}

func (e *Engine) nodeIndex(name string) int {
	if name == NodeQueued {
		return 0
	}
	return slices.IndexFunc(e.nodes, func(n Node) bool { return n.Name == name })
}

func (e *Engine) execute(ctx context.Context, r *run, cp checkpoint.Checkpoint) {
	logger := e.logger.With(zap.String("incident", cp.IncidentID))

	start := e.nodeIndex(cp.Node)
	if start < 0 {
		e.fail(ctx, logger, cp, cp.Node, fmt.Errorf("unknown node %q in checkpoint", cp.Node), cp.Attempts)
		return
	}

	for i := start; i < len(e.nodes); i++ {
		node := e.nodes[i]

		if e.cancelRequested(ctx, logger, r, cp.IncidentID) {
			e.fail(ctx, logger, cp, node.Name, ErrCanceled, 0)
			if err := e.store.SetCancel(ctx, cp.IncidentID, false); err != nil {
				logger.Warn("clear cancel request", zap.Error(err))
			}
			return
		}

		if cp.Node != node.Name || cp.Status != checkpoint.StatusRunning {
			cp.Node = node.Name
			cp.Status = checkpoint.StatusRunning
			cp.Attempts = 0
			cp.UpdatedAt = e.now()
			if err := e.store.Put(ctx, cp); err != nil {
				logger.Error("checkpoint write failed", zap.String("node", node.Name), zap.Error(err))
				return
			}
		}

		logger.Info("node started", zap.String("node", node.Name))
		delta, attempts, err := e.runNode(ctx, logger, node, cp)
		if err != nil {
			e.fail(ctx, logger, cp, node.Name, err, attempts)
			return
		}

		merged, err := e.policies.Merge(cp.State, delta)
		if err == nil {
			merged, err = merged.clone()
		}
		if err != nil {
			e.fail(ctx, logger, cp, node.Name, err, attempts)
			return
		}

		next, status := NodeCompleted, checkpoint.StatusCompleted
		if i+1 < len(e.nodes) {
			next, status = e.nodes[i+1].Name, checkpoint.StatusRunning
		}
		cp.Node = next
		cp.Status = status
		cp.State = merged
		cp.Attempts = 0
		cp.Error = ""
		cp.UpdatedAt = e.now()
		if err := e.store.Put(ctx, cp); err != nil {
			// The node will run again on resume.
			logger.Error("checkpoint write failed", zap.String("node", node.Name), zap.Error(err))
			return
		}
		logger.Info("node completed", zap.String("node", node.Name), zap.Int("attempts", attempts))
	}

	logger.Info("run completed")
}

func (e *Engine) cancelRequested(ctx context.Context, logger *zap.Logger, r *run, incidentID string) bool {
	if r.canceled.Load() {
		return true
	}
	requested, err := e.store.CancelRequested(ctx, incidentID)
	if err != nil {
		logger.Warn("read cancel request", zap.Error(err))
		return false
	}
	return requested
}

func (e *Engine) runNode(ctx context.Context, logger *zap.Logger, node Node, cp checkpoint.Checkpoint) (State, int, error) {
	maxAttempts := node.Retry.attempts()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			wait := node.Retry.Backoff(attempt - 1)
			logger.Warn("retrying node",
				zap.String("node", node.Name),
				zap.Int("attempt", attempt),
				zap.Int("max", maxAttempts),
				zap.Duration("backoff", wait),
				zap.Error(lastErr))
			if err := e.sleep(ctx, wait); err != nil {
				return nil, attempt - 1, err
			}
		}

		input, err := State(cp.State).clone()
		if err != nil {
			return nil, attempt - 1, err
		}

		delta, err := e.attempt(ctx, node, input)
		if err == nil {
			return delta, attempt, nil
		}
		lastErr = err

		if !retryable(err) {
			logger.Warn("node failed permanently", zap.String("node", node.Name), zap.Error(err))
			return nil, attempt, err
		}

		cp.Attempts = attempt
		cp.UpdatedAt = e.now()
		if perr := e.store.Put(ctx, cp); perr != nil {
			logger.Warn("checkpoint attempt count", zap.Error(perr))
		}
	}

	return nil, maxAttempts, fmt.Errorf("%s failed after %d attempts: %w", node.Name, maxAttempts, lastErr)
}

func (e *Engine) attempt(ctx context.Context, node Node, state State) (delta State, err error) {
	if node.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, node.Timeout)
		defer cancel()
	}

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("node %s panicked: %v", node.Name, p)
		}
	}()
	return node.Run(ctx, state)
}

func (e *Engine) fail(ctx context.Context, logger *zap.Logger, cp checkpoint.Checkpoint, node string, cause error, attempts int) {
	cp.Node = node
	cp.Status = checkpoint.StatusFailed
	cp.Error = cause.Error()
	cp.Attempts = attempts
	cp.UpdatedAt = e.now()
	if err := e.store.Put(ctx, cp); err != nil {
		logger.Error("checkpoint write failed", zap.String("node", node), zap.Error(err))
	}
	logger.Error("run failed", zap.String("node", node), zap.Int("attempts", attempts), zap.Error(cause))
}
