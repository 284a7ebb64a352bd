// Package client is the optimistic side of the sync engine: it applies
// mutations locally, queues them durably and reconciles with the server
// through push and pull.
package client

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/devrev/storesync/internal/errors"
	"github.com/devrev/storesync/internal/model"
	"github.com/devrev/storesync/internal/mutator"
)

// EventType distinguishes observer notifications.
type EventType string

const (
	// EventChange fires whenever the local state of a key changes.
	EventChange EventType = "change"
	// EventRejection fires when the server rejects a mutation and its
	// optimistic effect is rolled back.
	EventRejection EventType = "rejection"
)

// Event is delivered to observers.
type Event struct {
	Type       EventType
	Key        string
	MutationID int64
	Code       errors.ErrorCode
	Reason     string
}

// View is what readers see of one key.
type View struct {
	Key     string
	Payload model.Payload
	// Version is the last confirmed version; pending layers do not bump it.
	Version    int64
	Pending    bool
	MutationID int64
}

// MutateOption adjusts a single Mutate call.
type MutateOption func(*model.Mutation)

// WithSubspace scopes a record created by the mutation.
func WithSubspace(subspaceID string) MutateOption {
	return func(m *model.Mutation) {
		m.SubspaceID = subspaceID
	}
}

// Client owns the local view of one client group.
type Client struct {
	cfg       *Config
	registry  *mutator.Registry
	transport Transport
	local     LocalStore
	logger    *zap.Logger

	mu             sync.Mutex
	view           *localView
	queue          []model.Mutation
	clientGroupID  string
	subspaceIDs    []string
	cursor         int64
	epoch          uint64
	lastMutationID int64
	// pushedThrough is the highest mutation id the server has disposed of.
	pushedThrough int64

	pushMu sync.Mutex
	pullMu sync.Mutex
	wake   chan struct{}
	// pushed wakes the pull loop after a push round trip.
	pushed chan struct{}

	obsMu     sync.RWMutex
	observers map[int]func(Event)
	nextObs   int

	now func() time.Time
}

// NewClient restores the persisted state of the client group and replays
// its queued mutations on top of the confirmed records.
func NewClient(
	ctx context.Context,
	cfg *Config,
	registry *mutator.Registry,
	transport Transport,
	local LocalStore,
	logger *zap.Logger,
) (*Client, error) {
	st, err := local.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load local state: %w", err)
	}

	c := &Client{
		cfg:       cfg,
		registry:  registry,
		transport: transport,
		local:     local,
		logger:    logger,
		view:      newLocalView(registry),
		cursor:    st.Cursor,
		wake:      make(chan struct{}, 1),
		pushed:    make(chan struct{}, 1),
		observers: make(map[int]func(Event)),
		now:       time.Now,
	}

	c.clientGroupID = st.ClientGroupID
	if c.clientGroupID == "" {
		c.clientGroupID = cfg.ClientGroupID
	}
	if c.clientGroupID == "" {
		c.clientGroupID = uuid.NewString()
	}
	if c.clientGroupID != st.ClientGroupID {
		if err := local.SetClientGroupID(ctx, c.clientGroupID); err != nil {
			return nil, fmt.Errorf("failed to persist client group id: %w", err)
		}
	}

	for k, v := range st.Watermarks {
		c.view.watermarks[k] = v
	}
	for _, r := range st.Records {
		c.view.confirmed[r.Key] = r
	}

	c.lastMutationID = st.LastMutationID
	for _, m := range st.Queue {
		payload, _, _ := c.view.base(m.Key)
		next, err := registry.Apply(m.MutatorName, payload, m.Args)
		if err != nil {
			next = payload
		}
		c.view.push(m, next)
		c.queue = append(c.queue, m)
		if m.ClientMutationID > c.lastMutationID {
			c.lastMutationID = m.ClientMutationID
		}
	}

	c.subspaceIDs = normalize(st.SubspaceIDs)
	if want := normalize(cfg.SubspaceIDs); !equalStrings(want, c.subspaceIDs) {
		if err := c.rescope(ctx, want); err != nil {
			return nil, err
		}
	}

	logger.Info("sync client ready",
		zap.String("client_group_id", c.clientGroupID),
		zap.String("space_id", cfg.SpaceID),
		zap.Int("queued_mutations", len(c.queue)),
		zap.Int64("cursor", c.cursor))

	return c, nil
}

// ClientGroupID returns the id the client syncs under.
func (c *Client) ClientGroupID() string {
	return c.clientGroupID
}

// Mutate runs a registered mutator against the local view of key. The
// mutation is queued durably before its optimistic result becomes visible;
// a failing mutator changes nothing. It returns the client mutation id.
func (c *Client) Mutate(ctx context.Context, name, key string, args model.Args, opts ...MutateOption) (int64, error) {
	if key == "" {
		return 0, errors.InvalidArgument("mutation key is required", nil)
	}
	if !c.registry.Has(name) {
		return 0, errors.UnknownMutator(name)
	}

	c.mu.Lock()

	payload, version, layers := c.view.base(key)
	next, err := c.registry.Apply(name, payload, args)
	if err != nil {
		c.mu.Unlock()
		return 0, err
	}

	m := model.Mutation{
		ClientMutationID: c.lastMutationID + 1,
		MutatorName:      name,
		Args:             args,
		SpaceID:          c.cfg.SpaceID,
		Key:              key,
		SubspaceID:       c.defaultSubspace(key),
		CreatedAt:        c.now().UTC(),
	}
	for _, opt := range opts {
		opt(&m)
	}
	if c.registry.Guarded(name) {
		expected := version + int64(layers)
		m.ExpectedVersion = &expected
	}

	if err := c.local.Enqueue(ctx, m); err != nil {
		c.mu.Unlock()
		return 0, fmt.Errorf("failed to queue mutation: %w", err)
	}

	c.lastMutationID = m.ClientMutationID
	c.queue = append(c.queue, m)
	c.view.push(m, next)
	c.mu.Unlock()

	c.logger.Debug("mutation applied locally",
		zap.String("mutator", name),
		zap.String("key", key),
		zap.Int64("client_mutation_id", m.ClientMutationID))

	c.emit(Event{Type: EventChange, Key: key, MutationID: m.ClientMutationID})
	c.kick()
	return m.ClientMutationID, nil
}

func (c *Client) defaultSubspace(key string) string {
	if r, ok := c.view.confirmed[key]; ok {
		return r.SubspaceID
	}
	if len(c.subspaceIDs) == 1 {
		return c.subspaceIDs[0]
	}
	return ""
}

// Get returns the local state of key. Optimistically deleted keys are absent.
func (c *Client) Get(key string) (View, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.get(key)
}

func (c *Client) get(key string) (View, bool) {
	e, ok := c.view.entry(key)
	if !ok {
		return View{}, false
	}
	switch e := e.(type) {
	case Confirmed:
		return View{Key: key, Payload: e.Record.Payload.Clone(), Version: e.Record.Version}, true
	case Pending:
		if e.Payload == nil {
			return View{}, false
		}
		var version int64
		if r, ok := c.view.confirmed[key]; ok {
			version = r.Version
		}
		return View{Key: key, Payload: e.Payload.Clone(), Version: version, Pending: true, MutationID: e.MutationID}, true
	}
	return View{}, false
}

// List returns the local state of every key under prefix, sorted by key.
func (c *Client) List(prefix string) []View {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []View
	for _, key := range c.view.keys(prefix) {
		if v, ok := c.get(key); ok {
			out = append(out, v)
		}
	}
	return out
}

// Subscribe registers fn for every event. The returned function removes it.
func (c *Client) Subscribe(fn func(Event)) func() {
	c.obsMu.Lock()
	id := c.nextObs
	c.nextObs++
	c.observers[id] = fn
	c.obsMu.Unlock()

	return func() {
		c.obsMu.Lock()
		delete(c.observers, id)
		c.obsMu.Unlock()
	}
}

func (c *Client) emit(events ...Event) {
	if len(events) == 0 {
		return
	}
	c.obsMu.RLock()
	observers := make([]func(Event), 0, len(c.observers))
	for _, fn := range c.observers {
		observers = append(observers, fn)
	}
	c.obsMu.RUnlock()

	for _, ev := range events {
		for _, fn := range observers {
			fn(ev)
		}
	}
}

func (c *Client) kick() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Push sends every queued mutation the server has not disposed of yet.
// Rejected mutations are rolled back; accepted ones stay pending until a
// pull confirms them. A transport failure leaves the queue intact.
func (c *Client) Push(ctx context.Context) error {
	_, err := c.push(ctx)
	return err
}

// push reports whether a batch reached the server.
func (c *Client) push(ctx context.Context) (bool, error) {
	c.pushMu.Lock()
	defer c.pushMu.Unlock()

	c.mu.Lock()
	var batch []model.Mutation
	for _, m := range c.queue {
		if m.ClientMutationID > c.pushedThrough {
			batch = append(batch, m)
		}
	}
	req := &model.PushRequest{
		ClientGroupID: c.clientGroupID,
		SpaceID:       c.cfg.SpaceID,
		SubspaceIDs:   append([]string(nil), c.subspaceIDs...),
		Mutations:     batch,
	}
	c.mu.Unlock()

	if len(batch) == 0 {
		return false, nil
	}

	resp, err := c.transport.Push(ctx, req)
	if err != nil {
		return false, fmt.Errorf("push failed: %w", err)
	}

	var (
		rejected []int64
		events   []Event
	)

	c.mu.Lock()
	for _, o := range resp.Outcomes {
		switch o.Status {
		case model.OutcomeAccepted:
			c.advancePushed(o.ClientMutationID)
		case model.OutcomeRejected:
			c.advancePushed(o.ClientMutationID)
			rejected = append(rejected, o.ClientMutationID)
			for _, key := range c.view.rollback(o.ClientMutationID) {
				events = append(events, Event{Type: EventChange, Key: key, MutationID: o.ClientMutationID})
			}
			events = append(events, Event{
				Type:       EventRejection,
				Key:        o.Key,
				MutationID: o.ClientMutationID,
				Code:       errors.ErrorCode(o.Code),
				Reason:     o.Reason,
			})
			c.logger.Warn("mutation rejected",
				zap.Int64("client_mutation_id", o.ClientMutationID),
				zap.String("key", o.Key),
				zap.String("code", o.Code),
				zap.String("reason", o.Reason))
		}
	}
	c.dropQueued(rejected)
	c.mu.Unlock()

	if err := c.local.Ack(ctx, rejected); err != nil {
		c.logger.Error("failed to ack rejected mutations", zap.Error(err))
	}

	c.emit(events...)
	return true, nil
}

func (c *Client) advancePushed(id int64) {
	if id > c.pushedThrough {
		c.pushedThrough = id
	}
}

func (c *Client) dropQueued(ids []int64) {
	if len(ids) == 0 {
		return
	}
	drop := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	kept := c.queue[:0]
	for _, m := range c.queue {
		if _, ok := drop[m.ClientMutationID]; !ok {
			kept = append(kept, m)
		}
	}
	c.queue = kept
}

// SetSubspaces rebinds the client group to a new subspace set. Confirmed
// records outside it are dropped and the next pull starts from scratch.
func (c *Client) SetSubspaces(ctx context.Context, subspaceIDs []string) error {
	c.pullMu.Lock()
	defer c.pullMu.Unlock()

	c.mu.Lock()
	ids := normalize(subspaceIDs)
	if equalStrings(ids, c.subspaceIDs) {
		c.mu.Unlock()
		return nil
	}
	err := c.rescope(ctx, ids)
	c.mu.Unlock()
	return err
}

func (c *Client) rescope(ctx context.Context, ids []string) error {
	allowed := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		allowed[id] = struct{}{}
	}
	keep := func(r *model.Record) bool {
		if r.SubspaceID == "" {
			return true
		}
		_, ok := allowed[r.SubspaceID]
		return ok
	}

	var drop []string
	for key, r := range c.view.confirmed {
		if !keep(r) {
			drop = append(drop, key)
		}
	}
	sort.Strings(drop)

	if err := c.local.ResetScope(ctx, ids, drop); err != nil {
		return fmt.Errorf("failed to reset scope: %w", err)
	}

	c.view.evict(keep)
	c.subspaceIDs = ids
	c.cursor = 0
	c.epoch++

	c.logger.Info("client rebound",
		zap.String("client_group_id", c.clientGroupID),
		zap.Strings("subspace_ids", ids),
		zap.Int("dropped_records", len(drop)))
	return nil
}

// Sync pushes queued mutations and then pulls.
func (c *Client) Sync(ctx context.Context) error {
	if err := c.Push(ctx); err != nil {
		return err
	}
	return c.Pull(ctx)
}

// Run pushes and pulls on the configured intervals until ctx is done. Every
// push that reaches the server is followed by a pull so accepted mutations
// are confirmed without waiting for the pull interval. Failures are logged
// and retried on the next tick.
func (c *Client) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := time.NewTicker(c.cfg.PushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			case <-c.wake:
			}
			sent, err := c.push(ctx)
			if err != nil && ctx.Err() == nil {
				c.logger.Warn("push failed", zap.Error(err))
			}
			if sent {
				select {
				case c.pushed <- struct{}{}:
				default:
				}
			}
		}
	})

	g.Go(func() error {
		ticker := time.NewTicker(c.cfg.PullInterval)
		defer ticker.Stop()
		for {
			if err := c.Pull(ctx); err != nil && ctx.Err() == nil {
				c.logger.Warn("pull failed", zap.Error(err))
			}
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			case <-c.pushed:
			}
		}
	})

	return g.Wait()
}

// Close releases the local store.
func (c *Client) Close() error {
	return c.local.Close()
}

func normalize(ids []string) []string {
	out := dedupe(append([]string(nil), ids...))
	sort.Strings(out)
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
