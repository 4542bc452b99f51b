package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marcus/boardsync/internal/events"
	"github.com/marcus/boardsync/internal/models"
	"github.com/marcus/boardsync/internal/position"
)

// TempPrefix marks ids assigned locally to optimistic creates.
const TempPrefix = "tmp-"

// DefaultMarkerTTL bounds how long an unanswered correlation marker is kept.
const DefaultMarkerTTL = 30 * time.Second

const (
	reconnectMin = 250 * time.Millisecond
	reconnectMax = 5 * time.Second
)

// Backend is the server surface the reconciler needs. *Client implements it.
type Backend interface {
	Lists(ctx context.Context) ([]models.List, error)
	Items(ctx context.Context) ([]models.Item, error)
	CreateList(ctx context.Context, title string, pos *int) (models.List, error)
	DeleteList(ctx context.Context, id string) (models.DeleteListResult, error)
	CreateItem(ctx context.Context, listID, title, description string) (models.Item, error)
	UpdateItem(ctx context.Context, id string, patch models.ItemPatch) (models.Item, error)
	DeleteItem(ctx context.Context, id string) (models.Item, error)
	Subscribe(ctx context.Context) (EventStream, error)
}

// Notifier presents reconciler outcomes to the user.
type Notifier interface {
	// Presented is called for every inbound event not caused by this viewer.
	Presented(ev events.Envelope)
	// Failed is called after a local action was rolled back.
	Failed(action string, err error)
}

type nopNotifier struct{}

func (nopNotifier) Presented(events.Envelope) {}
func (nopNotifier) Failed(string, error)      {}

// marker ties an in-flight local action to the event it will cause.
type marker struct {
	id     string
	kind   events.Kind
	tempID string // optimistic id to replace, creates only
	at     time.Time
}

// Reconciler keeps a viewer's mirror of the board consistent with the
// server. Local actions are applied optimistically and rolled back on
// failure; inbound events are merged last-applied-wins.
type Reconciler struct {
	backend Backend
	notify  Notifier

	// MarkerTTL overrides DefaultMarkerTTL when positive.
	MarkerTTL time.Duration
	now       func() time.Time

	mu       sync.Mutex
	lists    map[string]models.List
	items    map[string]models.Item
	markers  map[string]marker
	replaced map[string]string // temp id -> server id
	stale    bool

	// inflight holds the pre-action snapshot of every request still
	// awaiting its response. journal records each mirror change made
	// since the oldest of them began; a failed request restores its
	// snapshot and replays the changes recorded after it.
	inflight  map[string]inflight
	journal   []func()
	journaled int // changes already dropped from the front of journal
	replaying bool

	readyOnce sync.Once
	ready     chan struct{}
}

// NewReconciler creates a reconciler with an empty mirror. A nil notifier
// discards notifications.
func NewReconciler(b Backend, n Notifier) *Reconciler {
	if n == nil {
		n = nopNotifier{}
	}
	return &Reconciler{
		backend:  b,
		notify:   n,
		now:      time.Now,
		lists:    make(map[string]models.List),
		items:    make(map[string]models.Item),
		markers:  make(map[string]marker),
		replaced: make(map[string]string),
		inflight: make(map[string]inflight),
		ready:    make(chan struct{}),
	}
}

// Ready is closed once Run has subscribed and loaded the first snapshot.
func (r *Reconciler) Ready() <-chan struct{} {
	return r.ready
}

// --- Snapshot ---

// Load replaces the mirror with the server's current state. In-flight
// markers are kept so their echoes are still recognized.
func (r *Reconciler) Load(ctx context.Context) error {
	lists, err := r.backend.Lists(ctx)
	if err != nil {
		return fmt.Errorf("load lists: %w", err)
	}
	items, err := r.backend.Items(ctx)
	if err != nil {
		return fmt.Errorf("load items: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.doLocked(func() {
		r.lists = make(map[string]models.List, len(lists))
		for _, l := range lists {
			r.lists[l.ID] = l
		}
		r.items = make(map[string]models.Item, len(items))
		for _, it := range items {
			r.items[it.ID] = it
		}
	})
	r.stale = false
	return nil
}

// Resync reloads the mirror after it may have missed events.
func (r *Reconciler) Resync(ctx context.Context) error {
	slog.Debug("reconciler: resync")
	return r.Load(ctx)
}

// Lists returns the mirrored lists ordered by position.
func (r *Reconciler) Lists() []models.List {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.List, 0, len(r.lists))
	for _, l := range r.lists {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Items returns the mirrored items of one list in display order. An empty
// listID returns every item.
func (r *Reconciler) Items(listID string) []models.Item {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Item, 0, len(r.items))
	for _, it := range r.items {
		if listID == "" || it.ListID == listID {
			out = append(out, it)
		}
	}
	position.Sort(out)
	return out
}

// Item returns one mirrored item.
func (r *Reconciler) Item(id string) (models.Item, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[r.resolve(id)]
	return it, ok
}

// Pending returns the number of local actions still awaiting their echo.
func (r *Reconciler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked()
	return len(r.markers)
}

// --- Local actions ---

type snapshot struct {
	lists map[string]models.List
	items map[string]models.Item
}

func (r *Reconciler) snapshotLocked() snapshot {
	s := snapshot{
		lists: make(map[string]models.List, len(r.lists)),
		items: make(map[string]models.Item, len(r.items)),
	}
	for k, v := range r.lists {
		s.lists[k] = v
	}
	for k, v := range r.items {
		s.items[k] = v
	}
	return s
}

type inflight struct {
	snap snapshot
	seq  int // journal position of the first change after the action
}

// doLocked applies step to the mirror and journals it while any request
// is in flight.
func (r *Reconciler) doLocked(step func()) {
	step()
	if len(r.inflight) > 0 && !r.replaying {
		r.journal = append(r.journal, step)
	}
}

// beginLocked records a marker and the action's pre-change snapshot, and
// returns a context that carries the marker id.
func (r *Reconciler) beginLocked(ctx context.Context, kind events.Kind, tempID string, snap snapshot) (context.Context, string) {
	id := uuid.NewString()
	r.markers[id] = marker{id: id, kind: kind, tempID: tempID, at: r.now()}
	r.inflight[id] = inflight{snap: snap, seq: r.journaled + len(r.journal)}
	return WithCorrelationID(ctx, id), id
}

// settleLocked forgets the snapshot of a request that got its response.
func (r *Reconciler) settleLocked(corr string) {
	delete(r.inflight, corr)
	r.trimLocked()
}

// trimLocked drops journal entries no in-flight request can replay.
func (r *Reconciler) trimLocked() {
	if len(r.inflight) == 0 {
		r.journaled += len(r.journal)
		r.journal = nil
		return
	}
	oldest := r.journaled + len(r.journal)
	for _, f := range r.inflight {
		oldest = min(oldest, f.seq)
	}
	r.journal = append([]func(){}, r.journal[oldest-r.journaled:]...)
	r.journaled = oldest
}

// rollback undoes the failed action only: it restores the action's
// snapshot and replays every change recorded since, so peer events merged
// while the request was in flight survive. It then reports the failure.
func (r *Reconciler) rollback(corr, action string, err error) error {
	r.mu.Lock()
	if f, ok := r.inflight[corr]; ok {
		r.lists = f.snap.lists
		r.items = f.snap.items
		r.replaying = true
		for _, step := range r.journal[f.seq-r.journaled:] {
			step()
		}
		r.replaying = false
		delete(r.inflight, corr)
		r.trimLocked()
	}
	delete(r.markers, corr)
	r.mu.Unlock()

	slog.Debug("reconciler: rolled back", "action", action, "err", err)
	r.notify.Failed(action, err)
	return err
}

// CreateList adds a list optimistically at the tail.
func (r *Reconciler) CreateList(ctx context.Context, title string) (models.List, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return models.List{}, fmt.Errorf("%w: title is required", ErrValidation)
	}

	r.mu.Lock()
	snap := r.snapshotLocked()
	tmp := models.List{ID: TempPrefix + uuid.NewString(), Title: title, Position: len(r.lists)}
	r.doLocked(func() {
		if _, done := r.replaced[tmp.ID]; !done {
			r.lists[tmp.ID] = tmp
		}
	})
	ctx, corr := r.beginLocked(ctx, events.ListAdded, tmp.ID, snap)
	r.mu.Unlock()

	l, err := r.backend.CreateList(ctx, title, nil)
	if err != nil {
		return models.List{}, r.rollback(corr, "create list", err)
	}

	r.mu.Lock()
	r.doLocked(func() { r.replaceListLocked(tmp.ID, l) })
	r.settleLocked(corr)
	r.mu.Unlock()
	return l, nil
}

// DeleteList removes a list and its items optimistically.
func (r *Reconciler) DeleteList(ctx context.Context, id string) error {
	r.mu.Lock()
	id = r.resolve(id)
	snap := r.snapshotLocked()
	r.doLocked(func() { r.dropListLocked(id) })
	ctx, corr := r.beginLocked(ctx, events.ListDeleted, "", snap)
	r.mu.Unlock()

	if _, err := r.backend.DeleteList(ctx, id); err != nil {
		return r.rollback(corr, "delete list", err)
	}
	r.mu.Lock()
	r.settleLocked(corr)
	r.mu.Unlock()
	return nil
}

// CreateItem appends an item optimistically under a temporary id and
// returns the server's item.
func (r *Reconciler) CreateItem(ctx context.Context, listID, title, description string) (models.Item, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return models.Item{}, fmt.Errorf("%w: title is required", ErrValidation)
	}

	r.mu.Lock()
	listID = r.resolve(listID)
	snap := r.snapshotLocked()
	tmp := models.Item{
		ID:          TempPrefix + uuid.NewString(),
		Title:       title,
		Description: description,
		ListID:      listID,
	}
	r.doLocked(func() {
		if _, done := r.replaced[tmp.ID]; !done {
			r.applyLocked(position.Insert(tmp, r.countLocked(listID)))
		}
	})
	ctx, corr := r.beginLocked(ctx, events.ItemAdded, tmp.ID, snap)
	r.mu.Unlock()

	it, err := r.backend.CreateItem(ctx, listID, title, description)
	if err != nil {
		return models.Item{}, r.rollback(corr, "create item", err)
	}

	r.mu.Lock()
	r.doLocked(func() { r.replaceItemLocked(tmp.ID, it) })
	r.settleLocked(corr)
	r.mu.Unlock()
	return it, nil
}

// UpdateItem applies patch optimistically, moving the item the way the
// server will, and merges the server's result.
func (r *Reconciler) UpdateItem(ctx context.Context, id string, patch models.ItemPatch) (models.Item, error) {
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return models.Item{}, fmt.Errorf("%w: title must not be empty", ErrValidation)
	}

	r.mu.Lock()
	id = r.resolve(id)
	if patch.ListID != nil {
		resolved := r.resolve(*patch.ListID)
		patch.ListID = &resolved
	}
	before, ok := r.items[id]
	if !ok {
		r.mu.Unlock()
		return models.Item{}, fmt.Errorf("%w: item %q not in mirror", ErrNotFound, id)
	}

	b := r.planLocked(before, patch)
	moved := b.Moves(before)
	b.Item = mergeScalars(b.Item, patch)
	if !moved && b.Item == before {
		r.mu.Unlock()
		return before, nil
	}

	kind := events.ItemUpdated
	if moved {
		kind = events.ItemMoved
	}
	snap := r.snapshotLocked()
	r.doLocked(func() {
		cur, ok := r.items[id]
		if !ok {
			return
		}
		plan := r.planLocked(cur, patch)
		plan.Item = mergeScalars(plan.Item, patch)
		r.applyLocked(plan)
	})
	ctx, corr := r.beginLocked(ctx, kind, "", snap)
	r.mu.Unlock()

	it, err := r.backend.UpdateItem(ctx, id, patch)
	if err != nil {
		return models.Item{}, r.rollback(corr, "update item", err)
	}

	r.mu.Lock()
	r.doLocked(func() { r.placeItemLocked(it) })
	r.settleLocked(corr)
	r.mu.Unlock()
	return it, nil
}

// MoveItem moves an item to (listID, pos).
func (r *Reconciler) MoveItem(ctx context.Context, id, listID string, pos int) (models.Item, error) {
	return r.UpdateItem(ctx, id, models.ItemPatch{ListID: &listID, Position: &pos})
}

// DeleteItem removes an item optimistically, closing the gap it leaves.
func (r *Reconciler) DeleteItem(ctx context.Context, id string) error {
	r.mu.Lock()
	id = r.resolve(id)
	if _, ok := r.items[id]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: item %q not in mirror", ErrNotFound, id)
	}
	snap := r.snapshotLocked()
	r.doLocked(func() {
		if cur, ok := r.items[id]; ok {
			r.applyLocked(position.Remove(cur))
		}
	})
	ctx, corr := r.beginLocked(ctx, events.ItemDeleted, "", snap)
	r.mu.Unlock()

	if _, err := r.backend.DeleteItem(ctx, id); err != nil {
		return r.rollback(corr, "delete item", err)
	}
	r.mu.Lock()
	r.settleLocked(corr)
	r.mu.Unlock()
	return nil
}

// planLocked mirrors the server's choice between a cross-list move, a
// within-list move and a plain update, including position clamping.
func (r *Reconciler) planLocked(before models.Item, patch models.ItemPatch) position.Batch {
	if patch.ListID != nil && *patch.ListID != before.ListID {
		pos := 0
		if patch.Position != nil {
			pos = *patch.Position
		}
		pos = position.Clamp(pos, r.countLocked(*patch.ListID))
		return position.Move(before, *patch.ListID, pos)
	}
	if patch.Position != nil {
		pos := position.Clamp(*patch.Position, r.countLocked(before.ListID)-1)
		if pos != before.Position {
			return position.Move(before, before.ListID, pos)
		}
	}
	return position.Batch{Op: position.OpUpdate, Item: before}
}

func mergeScalars(it models.Item, patch models.ItemPatch) models.Item {
	if patch.Title != nil {
		it.Title = strings.TrimSpace(*patch.Title)
	}
	if patch.Description != nil {
		it.Description = *patch.Description
	}
	return it
}

// --- Inbound events ---

// Apply merges one inbound event into the mirror. It reports whether the
// event was presented, which is false for echoes of this viewer's actions.
func (r *Reconciler) Apply(ev events.Envelope) bool {
	if err := ev.Validate(); err != nil {
		slog.Warn("reconciler: rejected event", "err", err)
		return false
	}

	r.mu.Lock()
	m, own := r.markers[ev.CorrelationID]
	if own {
		delete(r.markers, m.id)
	}
	err := r.mergeLocked(ev, m, own)
	if err == nil && len(r.inflight) > 0 {
		r.journal = append(r.journal, func() { r.mergeLocked(ev, m, own) })
	}
	r.pruneLocked()
	r.mu.Unlock()

	if err != nil {
		slog.Warn("reconciler: bad event", "type", ev.Type, "err", err)
		return false
	}
	if own {
		return false
	}
	r.notify.Presented(ev)
	return true
}

func (r *Reconciler) mergeLocked(ev events.Envelope, m marker, own bool) error {
	switch ev.Type {
	case events.ItemAdded, events.ItemUpdated:
		it, err := ev.Item()
		if err != nil {
			return err
		}
		if own && m.tempID != "" {
			r.replaceItemLocked(m.tempID, it)
			return nil
		}
		if _, known := r.items[it.ID]; !known && ev.Type == events.ItemUpdated {
			// Updates never place an item; this mirror missed its creation.
			r.stale = true
			return nil
		}
		r.placeItemLocked(it)

	case events.ItemMoved:
		var p events.ItemMovedPayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		cur, ok := r.items[p.ItemID]
		switch {
		case p.Item != nil:
			r.placeItemLocked(*p.Item)
		case ok:
			r.applyLocked(position.Move(cur, p.NewListID, p.NewPosition))
		default:
			r.stale = true
		}

	case events.ItemDeleted:
		var p events.ItemDeletedPayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		if cur, ok := r.items[p.ItemID]; ok {
			r.applyLocked(position.Remove(cur))
		}

	case events.ListAdded:
		l, err := ev.List()
		if err != nil {
			return err
		}
		if own && m.tempID != "" {
			r.replaceListLocked(m.tempID, l)
			return nil
		}
		r.lists[l.ID] = l

	case events.ListDeleted:
		var p events.ListDeletedPayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		r.dropListLocked(p.ListID)

	default:
		return fmt.Errorf("unknown event type %q", ev.Type)
	}
	return nil
}

// --- Mirror mutation helpers (r.mu held) ---

func (r *Reconciler) countLocked(listID string) int {
	n := 0
	for _, it := range r.items {
		if it.ListID == listID {
			n++
		}
	}
	return n
}

func (r *Reconciler) contiguousLocked(listID string) bool {
	var in []models.Item
	for _, it := range r.items {
		if it.ListID == listID {
			in = append(in, it)
		}
	}
	return len(position.Check(in)) == 0
}

func (r *Reconciler) applyLocked(b position.Batch) {
	cur := make([]models.Item, 0, len(r.items))
	for _, it := range r.items {
		cur = append(cur, it)
	}
	next := position.Apply(cur, b)
	r.items = make(map[string]models.Item, len(next))
	for _, it := range next {
		r.items[it.ID] = it
	}
}

// placeItemLocked puts it at its server placement, shifting siblings. A
// copy at least as new as it is kept.
func (r *Reconciler) placeItemLocked(it models.Item) {
	cur, ok := r.items[it.ID]
	if !ok {
		r.applyLocked(position.Batch{
			Shifts: []position.Shift{{ListID: it.ListID, From: it.Position, To: position.Open, Delta: +1}},
			Op:     position.OpInsert,
			Item:   it,
		})
		return
	}
	if cur.UpdatedAt.After(it.UpdatedAt) {
		return
	}
	if !r.contiguousLocked(cur.ListID) || !r.contiguousLocked(it.ListID) {
		// A list being repaired; shifting would scramble it further.
		r.items[it.ID] = it
		return
	}
	b := position.Move(cur, it.ListID, it.Position)
	b.Item = it
	r.applyLocked(b)
}

// replaceItemLocked swaps an optimistic item for the server's copy. It is
// idempotent: the response and the echoed event may both deliver it.
func (r *Reconciler) replaceItemLocked(tempID string, it models.Item) {
	if tmp, ok := r.items[tempID]; ok {
		r.applyLocked(position.Remove(tmp))
	}
	r.replaced[tempID] = it.ID
	r.placeItemLocked(it)
}

func (r *Reconciler) replaceListLocked(tempID string, l models.List) {
	delete(r.lists, tempID)
	r.replaced[tempID] = l.ID
	for id, it := range r.items {
		if it.ListID == tempID {
			it.ListID = l.ID
			r.items[id] = it
		}
	}
	if cur, ok := r.lists[l.ID]; ok && cur.UpdatedAt.After(l.UpdatedAt) {
		return
	}
	r.lists[l.ID] = l
}

func (r *Reconciler) dropListLocked(listID string) {
	delete(r.lists, listID)
	for id, it := range r.items {
		if it.ListID == listID {
			delete(r.items, id)
		}
	}
}

// resolve maps a replaced temporary id to its server id.
func (r *Reconciler) resolve(id string) string {
	if serverID, ok := r.replaced[id]; ok {
		return serverID
	}
	return id
}

func (r *Reconciler) pruneLocked() {
	ttl := r.MarkerTTL
	if ttl <= 0 {
		ttl = DefaultMarkerTTL
	}
	cutoff := r.now().Add(-ttl)
	for id, m := range r.markers {
		if m.at.Before(cutoff) {
			delete(r.markers, id)
		}
	}
}

// --- Streaming ---

// Run subscribes to the realtime stream, loads a snapshot and merges events
// until ctx ends. A dropped stream is redialed with backoff and followed by
// a resync, since no replay exists.
func (r *Reconciler) Run(ctx context.Context) error {
	backoff := reconnectMin
	for {
		err := r.runOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil && !r.isReady() {
			return err
		}
		slog.Warn("reconciler: stream lost, reconnecting", "err", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > reconnectMax {
			backoff = reconnectMax
		}
	}
}

func (r *Reconciler) isReady() bool {
	select {
	case <-r.ready:
		return true
	default:
		return false
	}
}

func (r *Reconciler) runOnce(ctx context.Context) error {
	stream, err := r.backend.Subscribe(ctx)
	if err != nil {
		return err
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		stream.Close()
	}()

	// Subscribe first so nothing committed after the snapshot is missed.
	if err := r.Load(ctx); err != nil {
		return err
	}
	r.readyOnce.Do(func() { close(r.ready) })

	for {
		ev, err := stream.Next()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		r.Apply(ev)

		r.mu.Lock()
		stale := r.stale
		r.mu.Unlock()
		if stale {
			if err := r.Resync(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Warn("reconciler: resync failed", "err", err)
			}
		}
	}
}
