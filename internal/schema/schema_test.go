package schema

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/nicodishanthj/fieldq/internal/query"
)

type fakeIntrospector struct {
	collections map[string][]query.Document
	listErr     error
	listCalls   atomic.Int32
	gate        chan struct{}
}

func (f *fakeIntrospector) ListCollections(ctx context.Context) ([]string, error) {
	f.listCalls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	if f.listErr != nil {
		return nil, f.listErr
	}
	names := make([]string, 0, len(f.collections))
	for name := range f.collections {
		names = append(names, name)
	}
	return names, nil
}

func (f *fakeIntrospector) Sample(ctx context.Context, collection string, limit int) ([]query.Document, error) {
	docs := f.collections[collection]
	if len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

func (f *fakeIntrospector) EstimatedCount(ctx context.Context, collection string) (int64, error) {
	return int64(len(f.collections[collection])), nil
}

func farmFixture() *fakeIntrospector {
	return &fakeIntrospector{collections: map[string][]query.Document{
		"farms": {
			{"_id": "f1", "name": "North", "ownerId": "7f1d2c3b-4a5e-4f60-8a7b-9c0d1e2f3a4b", "acres": 12.5, "createdAt": "2024-02-01T10:00:00Z"},
			{"_id": "f2", "name": 42, "ownerId": "U2", "organic": true, "blockIds": []any{"b1"}},
		},
		"blocks": {
			{"_id": "b1", "farmId": "f1", "rows": int64(10), "soil": map[string]any{"ph": 6.5}, "notes": nil},
		},
		"users":             {{"_id": "u1", "email": "a@example.com"}},
		"empty":             {},
		"system.profile":    {{"op": "query"}},
		"_internal_markers": {{"k": "v"}},
		"migrations":        {{"version": int64(3)}},
	}}
}

func TestInferType(t *testing.T) {
	cases := []struct {
		value any
		want  TypeTag
	}{
		{nil, TypeNull},
		{true, TypeBoolean},
		{int64(3), TypeInteger},
		{3.0, TypeInteger},
		{3.25, TypeNumber},
		{"plain", TypeString},
		{"7f1d2c3b-4a5e-4f60-8a7b-9c0d1e2f3a4b", TypeUUID},
		{"2024-02-01", TypeDatetime},
		{"2024-02-01T10:00:00.123+02:00", TypeDatetime},
		{"2024-02-01 is a date", TypeString},
		{[]any{}, ArrayOf(TypeUnknown)},
		{[]any{"2024-02-01T10:00:00Z"}, ArrayOf(TypeDatetime)},
		{[]any{[]any{int64(1)}}, ArrayOf(ArrayOf(TypeInteger))},
		{map[string]any{"a": 1}, TypeObject},
		{struct{}{}, TypeUnknown},
	}
	for _, tc := range cases {
		if got := InferType(tc.value); got != tc.want {
			t.Errorf("InferType(%#v) = %s, want %s", tc.value, got, tc.want)
		}
	}
}

func TestCaptureFirstSampleFixesType(t *testing.T) {
	svc := NewService(farmFixture(), Options{InternalCollections: []string{"migrations"}})
	snap, err := svc.Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	farms := snap.Collections["farms"]
	if farms.Types["name"] != TypeString {
		t.Fatalf("name type = %s, want string from first sample", farms.Types["name"])
	}
	if farms.Types["ownerId"] != TypeUUID {
		t.Fatalf("ownerId type = %s", farms.Types["ownerId"])
	}
	wantFields := []string{"_id", "acres", "createdAt", "name", "ownerId", "blockIds", "organic"}
	if diff := cmp.Diff(wantFields, farms.Fields); diff != "" {
		t.Fatalf("field order (-want +got):\n%s", diff)
	}
	if farms.SampleCount != 2 || farms.DocumentCount != 2 {
		t.Fatalf("counts = %d/%d", farms.SampleCount, farms.DocumentCount)
	}
}

func TestCaptureSkipsHiddenAndEmptyCollections(t *testing.T) {
	svc := NewService(farmFixture(), Options{InternalCollections: []string{"migrations"}})
	snap, err := svc.Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if diff := cmp.Diff([]string{"blocks", "farms", "users"}, snap.Names()); diff != "" {
		t.Fatalf("collections (-want +got):\n%s", diff)
	}
}

func TestCaptureIsIdempotent(t *testing.T) {
	svc := NewService(farmFixture(), Options{})
	first, err := svc.Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	second, err := svc.Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if diff := cmp.Diff(first.Collections, second.Collections); diff != "" {
		t.Fatalf("snapshots differ (-first +second):\n%s", diff)
	}
	opts := RenderOptions{PriorityCollections: []string{"farms"}, OwnershipField: "ownerId"}
	if Render(first, opts) != Render(second, opts) {
		t.Fatalf("renders differ")
	}
}

func TestSnapshotCachesUntilExpiry(t *testing.T) {
	fake := farmFixture()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	svc := NewService(fake, Options{TTL: time.Hour, Now: func() time.Time { return now }})

	first, err := svc.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	second, err := svc.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if first != second {
		t.Fatalf("expected cached snapshot to be reused")
	}
	if calls := fake.listCalls.Load(); calls != 1 {
		t.Fatalf("ListCollections calls = %d, want 1", calls)
	}

	now = now.Add(2 * time.Hour)
	if _, err := svc.Snapshot(context.Background()); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if calls := fake.listCalls.Load(); calls != 2 {
		t.Fatalf("ListCollections calls after expiry = %d, want 2", calls)
	}

	svc.Invalidate()
	if _, err := svc.Snapshot(context.Background()); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if calls := fake.listCalls.Load(); calls != 3 {
		t.Fatalf("ListCollections calls after invalidate = %d, want 3", calls)
	}
}

func TestSnapshotCollapsesConcurrentMisses(t *testing.T) {
	fake := farmFixture()
	fake.gate = make(chan struct{})
	svc := NewService(fake, Options{})

	var wg sync.WaitGroup
	results := make([]*Snapshot, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snap, err := svc.Snapshot(context.Background())
			if err != nil {
				t.Errorf("Snapshot: %v", err)
				return
			}
			results[i] = snap
		}(i)
	}
	for fake.listCalls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(fake.gate)
	wg.Wait()

	if calls := fake.listCalls.Load(); calls != 1 {
		t.Fatalf("ListCollections calls = %d, want 1", calls)
	}
	for _, snap := range results {
		if snap != results[0] {
			t.Fatalf("callers received different snapshots")
		}
	}
}

func TestInvalidateDuringCaptureIsNotUndone(t *testing.T) {
	fake := farmFixture()
	fake.gate = make(chan struct{})
	svc := NewService(fake, Options{})

	done := make(chan error, 1)
	go func() {
		_, err := svc.Snapshot(context.Background())
		done <- err
	}()
	for fake.listCalls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	svc.Invalidate()
	close(fake.gate)
	if err := <-done; err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	if svc.cached() != nil {
		t.Fatalf("capture started before Invalidate was cached")
	}
	if _, err := svc.Snapshot(context.Background()); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if calls := fake.listCalls.Load(); calls != 2 {
		t.Fatalf("ListCollections calls = %d, want 2", calls)
	}
}

func TestSnapshotReportsIntrospectionError(t *testing.T) {
	svc := NewService(&fakeIntrospector{listErr: errors.New("connection refused")}, Options{})
	_, err := svc.Snapshot(context.Background())
	if query.KindOf(err) != query.KindIntrospection {
		t.Fatalf("error kind = %v, want introspection (%v)", query.KindOf(err), err)
	}
}

func TestRenderOrdersAndAnnotates(t *testing.T) {
	svc := NewService(farmFixture(), Options{InternalCollections: []string{"migrations"}})
	snap, err := svc.Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	text := Render(snap, RenderOptions{PriorityCollections: []string{"farms", "missing"}, OwnershipField: "ownerId"})

	farmsAt := strings.Index(text, "\nfarms (")
	blocksAt := strings.Index(text, "\nblocks (")
	usersAt := strings.Index(text, "\nusers (")
	if farmsAt < 0 || blocksAt < 0 || usersAt < 0 {
		t.Fatalf("missing collections in render:\n%s", text)
	}
	if !(farmsAt < blocksAt && blocksAt < usersAt) {
		t.Fatalf("unexpected order: farms=%d blocks=%d users=%d", farmsAt, blocksAt, usersAt)
	}
	if strings.Contains(text, "missing") {
		t.Fatalf("priority entry without collection should not render")
	}
	if !strings.Contains(text, "ownerId: uuid-like-string  [OWNERSHIP FIELD: must filter by this for non-privileged access]") {
		t.Fatalf("ownership annotation missing:\n%s", text)
	}
	if !strings.Contains(text, "farmId: string  [relationship: references farms]") {
		t.Fatalf("relationship hint missing:\n%s", text)
	}
	if !strings.Contains(text, "blockIds: array<string>  [relationship: references blocks]") {
		t.Fatalf("plural relationship hint missing:\n%s", text)
	}
}

func TestIdentifierBase(t *testing.T) {
	cases := map[string]string{
		"farmId":        "farm",
		"salesOrderId":  "sales_order",
		"customer_id":   "customer",
		"blockIds":      "block",
		"inventory_ids": "inventory",
	}
	for field, want := range cases {
		got, ok := identifierBase(field)
		if !ok || got != want {
			t.Errorf("identifierBase(%q) = %q, %v; want %q", field, got, ok, want)
		}
	}
	for _, field := range []string{"_id", "id", "Id", "paid", "valid"} {
		if _, ok := identifierBase(field); ok {
			t.Errorf("identifierBase(%q) unexpectedly matched", field)
		}
	}
}
