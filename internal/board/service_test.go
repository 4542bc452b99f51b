package board

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/marcus/boardsync/internal/events"
	"github.com/marcus/boardsync/internal/models"
	"github.com/marcus/boardsync/internal/position"
	"github.com/marcus/boardsync/internal/store"
)

// recorder collects published events.
type recorder struct {
	mu     sync.Mutex
	events []events.Envelope
}

func (r *recorder) Publish(ev events.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) take() []events.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.events
	r.events = nil
	return out
}

func (r *recorder) kinds() []events.Kind {
	var out []events.Kind
	for _, ev := range r.take() {
		out = append(out, ev.Type)
	}
	return out
}

func openStore(t *testing.T) Store {
	t.Helper()
	st, err := store.Open(store.DriverModernc, filepath.Join(t.TempDir(), "board.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return SQLStore(st)
}

func newTestService(t *testing.T) (*Service, *recorder) {
	t.Helper()
	rec := &recorder{}
	return NewService(openStore(t), rec), rec
}

func mustList(t *testing.T, svc *Service, title string) models.List {
	t.Helper()
	l, err := svc.CreateList(context.Background(), title, nil)
	if err != nil {
		t.Fatalf("create list %q: %v", title, err)
	}
	return l
}

func mustItem(t *testing.T, svc *Service, listID, title string) models.Item {
	t.Helper()
	it, err := svc.CreateItem(context.Background(), listID, title, "")
	if err != nil {
		t.Fatalf("create item %q: %v", title, err)
	}
	return it
}

// layout returns item titles per list id in position order, failing the
// test if any list breaks contiguity.
func layout(t *testing.T, svc *Service) map[string][]string {
	t.Helper()
	items, err := svc.Items(context.Background())
	if err != nil {
		t.Fatalf("items: %v", err)
	}
	if v := position.Check(items); v != nil {
		t.Fatalf("contiguity broken: %v", v)
	}
	out := make(map[string][]string)
	for _, it := range items {
		out[it.ListID] = append(out[it.ListID], it.Title)
	}
	return out
}

func intp(v int) *int       { return &v }
func strp(v string) *string { return &v }

func TestCreateItemAppendsAtTail(t *testing.T) {
	svc, rec := newTestService(t)
	a := mustList(t, svc, "A")
	rec.take()

	for i := 0; i < 4; i++ {
		it := mustItem(t, svc, a.ID, fmt.Sprintf("card%d", i))
		if it.Position != i {
			t.Fatalf("item %d got position %d", i, it.Position)
		}
	}

	evs := rec.take()
	if len(evs) != 4 {
		t.Fatalf("expected 4 events, got %d", len(evs))
	}
	for _, ev := range evs {
		if ev.Type != events.ItemAdded {
			t.Errorf("unexpected event %s", ev.Type)
		}
	}
}

func TestCreateItemValidation(t *testing.T) {
	svc, rec := newTestService(t)
	a := mustList(t, svc, "A")
	rec.take()
	ctx := context.Background()

	var ve *ValidationError
	if _, err := svc.CreateItem(ctx, a.ID, "   ", ""); !errors.As(err, &ve) {
		t.Errorf("blank title: expected ValidationError, got %v", err)
	}
	if _, err := svc.CreateItem(ctx, "", "x", ""); !errors.As(err, &ve) {
		t.Errorf("missing list: expected ValidationError, got %v", err)
	}

	var nf *NotFoundError
	if _, err := svc.CreateItem(ctx, "ls-missing", "x", ""); !errors.As(err, &nf) {
		t.Errorf("unknown list: expected NotFoundError, got %v", err)
	} else if nf.Kind != "list" {
		t.Errorf("NotFoundError kind = %q", nf.Kind)
	}

	if evs := rec.take(); len(evs) != 0 {
		t.Errorf("failed creates emitted %d events", len(evs))
	}
}

// A=[item1,item2,item3], B=[]: moving item3 to B lands it at 0 and leaves
// A=[item1,item2].
func TestMoveToEmptyList(t *testing.T) {
	svc, rec := newTestService(t)
	a := mustList(t, svc, "A")
	b := mustList(t, svc, "B")
	mustItem(t, svc, a.ID, "item1")
	mustItem(t, svc, a.ID, "item2")
	it3 := mustItem(t, svc, a.ID, "item3")
	rec.take()

	moved, err := svc.UpdateItem(context.Background(), it3.ID, models.ItemPatch{ListID: &b.ID, Position: intp(0)})
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if moved.ListID != b.ID || moved.Position != 0 {
		t.Fatalf("moved item = %+v", moved)
	}

	want := map[string][]string{a.ID: {"item1", "item2"}, b.ID: {"item3"}}
	if diff := cmp.Diff(want, layout(t, svc)); diff != "" {
		t.Errorf("layout mismatch (-want +got):\n%s", diff)
	}

	evs := rec.take()
	if len(evs) != 1 || evs[0].Type != events.ItemMoved {
		t.Fatalf("expected one itemMoved, got %v", evs)
	}
	var p events.ItemMovedPayload
	if err := evs[0].Decode(&p); err != nil {
		t.Fatal(err)
	}
	if p.ItemID != it3.ID || p.NewListID != b.ID || p.NewPosition != 0 {
		t.Errorf("payload = %+v", p)
	}
}

func TestCrossListMoveDefaultsToHeadAndClamps(t *testing.T) {
	svc, _ := newTestService(t)
	a := mustList(t, svc, "A")
	b := mustList(t, svc, "B")
	x := mustItem(t, svc, a.ID, "x")
	y := mustItem(t, svc, a.ID, "y")
	mustItem(t, svc, b.ID, "b0")
	mustItem(t, svc, b.ID, "b1")
	ctx := context.Background()

	// No position: head of destination.
	if _, err := svc.UpdateItem(ctx, x.ID, models.ItemPatch{ListID: &b.ID}); err != nil {
		t.Fatal(err)
	}
	// Past the end: clamped to destCount.
	got, err := svc.UpdateItem(ctx, y.ID, models.ItemPatch{ListID: &b.ID, Position: intp(99)})
	if err != nil {
		t.Fatal(err)
	}
	if got.Position != 3 {
		t.Errorf("clamped position = %d, want 3", got.Position)
	}

	want := map[string][]string{b.ID: {"x", "b0", "b1", "y"}}
	if diff := cmp.Diff(want, layout(t, svc)); diff != "" {
		t.Errorf("layout mismatch (-want +got):\n%s", diff)
	}
}

func TestMoveToMissingListIsNotFound(t *testing.T) {
	svc, rec := newTestService(t)
	a := mustList(t, svc, "A")
	it := mustItem(t, svc, a.ID, "x")
	rec.take()

	var nf *NotFoundError
	_, err := svc.UpdateItem(context.Background(), it.ID, models.ItemPatch{ListID: strp("ls-gone")})
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if len(rec.take()) != 0 {
		t.Error("failed move emitted an event")
	}
}

func TestMoveWithinList(t *testing.T) {
	tests := []struct {
		name string
		from string
		to   int
		want []string
	}{
		{"down", "a", 2, []string{"b", "c", "a", "d"}},
		{"up", "d", 1, []string{"a", "d", "b", "c"}},
		{"to head", "c", 0, []string{"c", "a", "b", "d"}},
		{"clamped high", "a", 50, []string{"b", "c", "d", "a"}},
		{"clamped low", "c", -3, []string{"c", "a", "b", "d"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, rec := newTestService(t)
			l := mustList(t, svc, "L")
			ids := map[string]string{}
			for _, title := range []string{"a", "b", "c", "d"} {
				ids[title] = mustItem(t, svc, l.ID, title).ID
			}
			rec.take()

			if _, err := svc.UpdateItem(context.Background(), ids[tt.from], models.ItemPatch{Position: intp(tt.to)}); err != nil {
				t.Fatalf("move: %v", err)
			}
			if diff := cmp.Diff(tt.want, layout(t, svc)[l.ID]); diff != "" {
				t.Errorf("order mismatch (-want +got):\n%s", diff)
			}
			if kinds := rec.kinds(); len(kinds) != 1 || kinds[0] != events.ItemMoved {
				t.Errorf("events = %v", kinds)
			}
		})
	}
}

func TestNoOpMoveWritesNothing(t *testing.T) {
	svc, rec := newTestService(t)
	l := mustList(t, svc, "L")
	mustItem(t, svc, l.ID, "a")
	b := mustItem(t, svc, l.ID, "b")
	rec.take()
	ctx := context.Background()

	got, err := svc.UpdateItem(ctx, b.ID, models.ItemPatch{Position: intp(1), ListID: &l.ID})
	if err != nil {
		t.Fatal(err)
	}
	if !got.UpdatedAt.Equal(b.UpdatedAt) {
		t.Errorf("no-op move touched updatedAt: %v -> %v", b.UpdatedAt, got.UpdatedAt)
	}
	if evs := rec.take(); len(evs) != 0 {
		t.Errorf("no-op move emitted %v", evs)
	}

	// Clamping onto the current slot is a no-op too.
	if _, err := svc.UpdateItem(ctx, b.ID, models.ItemPatch{Position: intp(7)}); err != nil {
		t.Fatal(err)
	}
	if evs := rec.take(); len(evs) != 0 {
		t.Errorf("clamped no-op move emitted %v", evs)
	}
}

func TestNoOpMoveWithTitleEmitsUpdate(t *testing.T) {
	svc, rec := newTestService(t)
	l := mustList(t, svc, "L")
	it := mustItem(t, svc, l.ID, "old")
	rec.take()

	got, err := svc.UpdateItem(context.Background(), it.ID, models.ItemPatch{Position: intp(0), Title: strp("new")})
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "new" || got.Position != 0 {
		t.Errorf("updated item = %+v", got)
	}
	if kinds := rec.kinds(); len(kinds) != 1 || kinds[0] != events.ItemUpdated {
		t.Errorf("events = %v", kinds)
	}
}

func TestMoveMergesScalars(t *testing.T) {
	svc, rec := newTestService(t)
	a := mustList(t, svc, "A")
	b := mustList(t, svc, "B")
	it := mustItem(t, svc, a.ID, "old")
	rec.take()

	got, err := svc.UpdateItem(context.Background(), it.ID, models.ItemPatch{
		ListID:      &b.ID,
		Title:       strp("renamed"),
		Description: strp("details"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "renamed" || got.Description != "details" || got.ListID != b.ID {
		t.Errorf("item = %+v", got)
	}

	evs := rec.take()
	if len(evs) != 1 || evs[0].Type != events.ItemMoved {
		t.Fatalf("events = %v", evs)
	}
	var p events.ItemMovedPayload
	evs[0].Decode(&p)
	if p.Item == nil || p.Item.Title != "renamed" {
		t.Errorf("moved payload lacks merged item: %+v", p)
	}
}

func TestUpdateValidation(t *testing.T) {
	svc, _ := newTestService(t)
	l := mustList(t, svc, "L")
	it := mustItem(t, svc, l.ID, "x")
	ctx := context.Background()

	var ve *ValidationError
	if _, err := svc.UpdateItem(ctx, it.ID, models.ItemPatch{Title: strp("  ")}); !errors.As(err, &ve) {
		t.Errorf("empty title: expected ValidationError, got %v", err)
	}
	var nf *NotFoundError
	if _, err := svc.UpdateItem(ctx, "it-missing", models.ItemPatch{Title: strp("y")}); !errors.As(err, &nf) {
		t.Errorf("missing item: expected NotFoundError, got %v", err)
	}
}

// A=[x,y,z]: deleting y leaves x at 0 and z at 1.
func TestDeleteMiddleItem(t *testing.T) {
	svc, rec := newTestService(t)
	a := mustList(t, svc, "A")
	mustItem(t, svc, a.ID, "x")
	y := mustItem(t, svc, a.ID, "y")
	mustItem(t, svc, a.ID, "z")
	rec.take()

	removed, err := svc.DeleteItem(context.Background(), y.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if removed.ID != y.ID {
		t.Errorf("returned %+v", removed)
	}
	if diff := cmp.Diff([]string{"x", "z"}, layout(t, svc)[a.ID]); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}

	evs := rec.take()
	if len(evs) != 1 || evs[0].Type != events.ItemDeleted {
		t.Fatalf("events = %v", evs)
	}
	var p events.ItemDeletedPayload
	evs[0].Decode(&p)
	if p.ItemID != y.ID {
		t.Errorf("payload = %+v", p)
	}

	var nf *NotFoundError
	if _, err := svc.DeleteItem(context.Background(), y.ID); !errors.As(err, &nf) {
		t.Errorf("second delete: expected NotFoundError, got %v", err)
	}
}

func TestCreateList(t *testing.T) {
	svc, rec := newTestService(t)
	ctx := context.Background()

	first := mustList(t, svc, "todo")
	second := mustList(t, svc, "done")
	if first.Position != 0 || second.Position != 1 {
		t.Errorf("positions = %d, %d", first.Position, second.Position)
	}
	pinned, err := svc.CreateList(ctx, "pinned", intp(7))
	if err != nil || pinned.Position != 7 {
		t.Errorf("explicit position: %+v, %v", pinned, err)
	}

	var ve *ValidationError
	if _, err := svc.CreateList(ctx, "", nil); !errors.As(err, &ve) {
		t.Errorf("empty title: expected ValidationError, got %v", err)
	}
	if _, err := svc.CreateList(ctx, "neg", intp(-1)); !errors.As(err, &ve) {
		t.Errorf("negative position: expected ValidationError, got %v", err)
	}

	if diff := cmp.Diff([]events.Kind{events.ListAdded, events.ListAdded, events.ListAdded}, rec.kinds()); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestFanoutPublishesToEverySink(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	svc := NewService(openStore(t), Fanout(a, nil, b))

	mustList(t, svc, "todo")
	want := []events.Kind{events.ListAdded}
	if diff := cmp.Diff(want, a.kinds()); diff != "" {
		t.Errorf("first sink (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, b.kinds()); diff != "" {
		t.Errorf("second sink (-want +got):\n%s", diff)
	}
}

func TestDeleteListCascades(t *testing.T) {
	svc, rec := newTestService(t)
	a := mustList(t, svc, "A")
	b := mustList(t, svc, "B")
	mustItem(t, svc, a.ID, "a1")
	mustItem(t, svc, a.ID, "a2")
	mustItem(t, svc, b.ID, "b1")
	rec.take()
	ctx := context.Background()

	res, err := svc.DeleteList(ctx, a.ID)
	if err != nil {
		t.Fatalf("delete list: %v", err)
	}
	if !res.Success || res.Message == "" {
		t.Errorf("result = %+v", res)
	}
	if diff := cmp.Diff(map[string][]string{b.ID: {"b1"}}, layout(t, svc)); diff != "" {
		t.Errorf("layout mismatch (-want +got):\n%s", diff)
	}
	if kinds := rec.kinds(); len(kinds) != 1 || kinds[0] != events.ListDeleted {
		t.Errorf("events = %v", kinds)
	}

	var nf *NotFoundError
	if _, err := svc.DeleteList(ctx, a.ID); !errors.As(err, &nf) {
		t.Errorf("second delete: expected NotFoundError, got %v", err)
	}
}

func TestCorrelationIDIsEchoed(t *testing.T) {
	svc, rec := newTestService(t)
	ctx := WithCorrelationID(context.Background(), "corr-42")

	l, err := svc.CreateList(ctx, "L", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CreateItem(ctx, l.ID, "x", ""); err != nil {
		t.Fatal(err)
	}
	mustItem(t, svc, l.ID, "uncorrelated")

	evs := rec.take()
	if len(evs) != 3 {
		t.Fatalf("expected 3 events, got %d", len(evs))
	}
	if evs[0].CorrelationID != "corr-42" || evs[1].CorrelationID != "corr-42" {
		t.Errorf("correlation not echoed: %q, %q", evs[0].CorrelationID, evs[1].CorrelationID)
	}
	if evs[2].CorrelationID != "" {
		t.Errorf("unexpected correlation on plain call: %q", evs[2].CorrelationID)
	}
}

// hookedStore wraps every transaction handed to the service.
type hookedStore struct {
	Store
	wrap func(Tx) Tx
}

func (h hookedStore) Update(ctx context.Context, fn func(Tx) error) error {
	return h.Store.Update(ctx, func(tx Tx) error { return fn(h.wrap(tx)) })
}

// failingTx performs the batch and then reports a failure, so every write
// of the batch must be rolled back.
type failingTx struct {
	Tx
	err error
}

func (f failingTx) ApplyBatch(b *position.Batch) error {
	if err := f.Tx.ApplyBatch(b); err != nil {
		return err
	}
	return f.err
}

func TestTransactionFailureRollsBack(t *testing.T) {
	base := openStore(t)
	seed := NewService(base, nil)
	a := mustList(t, seed, "A")
	b := mustList(t, seed, "B")
	mustItem(t, seed, a.ID, "a0")
	a1 := mustItem(t, seed, a.ID, "a1")
	mustItem(t, seed, a.ID, "a2")
	mustItem(t, seed, b.ID, "b0")
	before := layout(t, seed)

	injected := errors.New("disk full")
	rec := &recorder{}
	svc := NewService(hookedStore{Store: base, wrap: func(tx Tx) Tx { return failingTx{tx, injected} }}, rec)
	ctx := context.Background()

	_, err := svc.UpdateItem(ctx, a1.ID, models.ItemPatch{ListID: &b.ID, Position: intp(0)})
	var te *TransactionError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransactionError, got %v", err)
	}
	if !errors.Is(err, injected) {
		t.Errorf("TransactionError does not wrap the cause: %v", err)
	}

	if _, err := svc.DeleteItem(ctx, a1.ID); !errors.As(err, &te) {
		t.Fatalf("delete: expected TransactionError, got %v", err)
	}

	if diff := cmp.Diff(before, layout(t, seed)); diff != "" {
		t.Errorf("failed mutations leaked writes (-want +got):\n%s", diff)
	}
	if evs := rec.take(); len(evs) != 0 {
		t.Errorf("failed mutations emitted %v", evs)
	}
}

// gapTx deletes without closing the gap, as a faulty external writer would.
type gapTx struct{ Tx }

func (g gapTx) ApplyBatch(b *position.Batch) error {
	if b.Op == position.OpDelete {
		b.Shifts = nil
	}
	return g.Tx.ApplyBatch(b)
}

func TestRepairListRestoresContiguity(t *testing.T) {
	base := openStore(t)
	rec := &recorder{}
	svc := NewService(base, rec)
	faulty := NewService(hookedStore{Store: base, wrap: func(tx Tx) Tx { return gapTx{tx} }}, nil)
	ctx := context.Background()

	l := mustList(t, svc, "L")
	mustItem(t, svc, l.ID, "a")
	b := mustItem(t, svc, l.ID, "b")
	mustItem(t, svc, l.ID, "c")
	mustItem(t, svc, l.ID, "d")
	if _, err := faulty.DeleteItem(ctx, b.ID); err != nil {
		t.Fatal(err)
	}
	items, _ := svc.Items(ctx)
	if position.Check(items) == nil {
		t.Fatal("expected a gap after faulty delete")
	}
	rec.take()

	changes, err := svc.RepairList(ctx, l.ID)
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	if len(changes) != 2 {
		t.Errorf("expected 2 renumbered items, got %+v", changes)
	}
	if diff := cmp.Diff([]string{"a", "c", "d"}, layout(t, svc)[l.ID]); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
	if kinds := rec.kinds(); len(kinds) != 2 {
		t.Errorf("expected 2 itemMoved events, got %v", kinds)
	}

	again, err := svc.RepairList(ctx, l.ID)
	if err != nil || len(again) != 0 {
		t.Errorf("repair of healthy list: %v, %v", again, err)
	}
	if len(rec.take()) != 0 {
		t.Error("repair of healthy list emitted events")
	}
}

func TestConcurrentMovesKeepContiguity(t *testing.T) {
	svc, rec := newTestService(t)
	lists := []models.List{mustList(t, svc, "A"), mustList(t, svc, "B"), mustList(t, svc, "C")}
	var ids []string
	for i := 0; i < 12; i++ {
		ids = append(ids, mustItem(t, svc, lists[i%3].ID, fmt.Sprintf("card%d", i)).ID)
	}
	rec.take()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < 25; i++ {
				id := ids[rng.Intn(len(ids))]
				patch := models.ItemPatch{Position: intp(rng.Intn(6))}
				if rng.Intn(2) == 0 {
					patch.ListID = &lists[rng.Intn(len(lists))].ID
				}
				if _, err := svc.UpdateItem(context.Background(), id, patch); err != nil {
					t.Errorf("move: %v", err)
					return
				}
			}
		}(int64(w))
	}
	wg.Wait()

	items := layout(t, svc)
	total := 0
	for _, titles := range items {
		total += len(titles)
	}
	if total != len(ids) {
		t.Errorf("item count changed: %d", total)
	}
}

// Random create/move/delete sequences checked against the in-memory
// planner after every step.
func TestRandomSequencesMatchModel(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	lists := []models.List{mustList(t, svc, "A"), mustList(t, svc, "B")}
	var model []models.Item

	for step := 0; step < 150; step++ {
		switch op := rng.Intn(3); {
		case op == 0 || len(model) == 0:
			l := lists[rng.Intn(len(lists))]
			it := mustItem(t, svc, l.ID, fmt.Sprintf("s%d", step))
			model = append(model, it)

		case op == 1:
			victim := model[rng.Intn(len(model))]
			dest := lists[rng.Intn(len(lists))].ID
			req := rng.Intn(8) - 1
			got, err := svc.UpdateItem(ctx, victim.ID, models.ItemPatch{ListID: &dest, Position: &req})
			if err != nil {
				t.Fatalf("step %d move: %v", step, err)
			}
			model = position.Apply(model, position.Move(victim, got.ListID, got.Position))

		default:
			victim := model[rng.Intn(len(model))]
			if _, err := svc.DeleteItem(ctx, victim.ID); err != nil {
				t.Fatalf("step %d delete: %v", step, err)
			}
			model = position.Apply(model, position.Remove(victim))
		}

		// Refresh the model's copies so later plans start from stored state.
		got, err := svc.Items(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if v := position.Check(got); v != nil {
			t.Fatalf("step %d: %v", step, v)
		}
		position.Sort(model)
		if diff := cmp.Diff(placements(model), placements(got)); diff != "" {
			t.Fatalf("step %d: store diverged from model (-model +store):\n%s", step, diff)
		}
		model = got
	}
}

func placements(items []models.Item) map[string][2]any {
	out := make(map[string][2]any, len(items))
	for _, it := range items {
		out[it.ID] = [2]any{it.ListID, it.Position}
	}
	return out
}
