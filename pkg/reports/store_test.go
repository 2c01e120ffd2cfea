package reports

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/jllopis/reportcard/pkg/kvstore"
)

// recordingKV counts writes on top of an in-memory store.
type recordingKV struct {
	*kvstore.Memory
	mu      sync.Mutex
	sets    int
	removes int
	getErr  error
	setErr  error
}

func newRecordingKV() *recordingKV {
	return &recordingKV{Memory: kvstore.NewMemory()}
}

func (r *recordingKV) Get(ctx context.Context, key string) (string, bool, error) {
	if r.getErr != nil {
		return "", false, r.getErr
	}
	return r.Memory.Get(ctx, key)
}

func (r *recordingKV) Set(ctx context.Context, key, value string) error {
	r.mu.Lock()
	r.sets++
	r.mu.Unlock()
	if r.setErr != nil {
		return r.setErr
	}
	return r.Memory.Set(ctx, key, value)
}

func (r *recordingKV) Remove(ctx context.Context, key string) error {
	r.mu.Lock()
	r.removes++
	r.mu.Unlock()
	return r.Memory.Remove(ctx, key)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixedClock(ms int64) func() time.Time {
	return func() time.Time { return time.UnixMilli(ms) }
}

func stored(t *testing.T, kv kvstore.Store) ([]Report, bool) {
	t.Helper()
	raw, ok, err := kv.Get(context.Background(), DefaultStorageKey)
	if err != nil {
		t.Fatalf("storage get: %v", err)
	}
	if !ok {
		return nil, false
	}
	list, err := Normalize([]byte(raw))
	if err != nil {
		t.Fatalf("stored data unreadable: %v", err)
	}
	return list, true
}

func TestNewWithoutStorage(t *testing.T) {
	s := New(nil, WithLogger(quietLogger()), WithClock(fixedClock(1700000000000)))
	list := s.Value()
	if len(list) != 1 || list[0].ID != "1700000000000" {
		t.Fatalf("expected one default report, got %+v", list)
	}
	s.Add()
	if len(s.Value()) != 2 {
		t.Fatal("Add should still work without storage")
	}
}

func TestFirstRunPersistsDefault(t *testing.T) {
	kv := newRecordingKV()
	s := New(kv, WithLogger(quietLogger()))
	if len(s.Value()) != 1 {
		t.Fatalf("expected one default report, got %d", len(s.Value()))
	}
	list, ok := stored(t, kv)
	if !ok || len(list) != 1 || list[0].ID != s.Value()[0].ID {
		t.Fatalf("default report not persisted: %v %v", list, ok)
	}
}

func TestLoadNormalizesStoredReports(t *testing.T) {
	kv := newRecordingKV()
	_ = kv.Memory.Set(context.Background(), DefaultStorageKey, `[{"id":"5","fullName":"Ada","gender":"F"}]`)

	s := New(kv, WithLogger(quietLogger()))
	r, ok := s.Get("5")
	if !ok || r.FullName != "Ada" || len(r.Psychomotor) != 8 || len(r.Cognitive) != 11 {
		t.Fatalf("unexpected loaded report %+v", r)
	}
	if _, has := r.Extra["gender"]; has {
		t.Fatal("deprecated field survived load")
	}
}

func TestLoadCorruptedDataFallsBack(t *testing.T) {
	kv := newRecordingKV()
	_ = kv.Memory.Set(context.Background(), DefaultStorageKey, `{broken`)

	s := New(kv, WithLogger(quietLogger()))
	if kv.removes == 0 {
		t.Fatal("corrupted slot should be cleared")
	}
	list := s.Value()
	if len(list) != 1 || list[0].Class != DefaultClass {
		t.Fatalf("expected default report after corruption, got %+v", list)
	}
	if got, _ := stored(t, kv); len(got) != 1 {
		t.Fatalf("default should be persisted after clearing, got %v", got)
	}
}

func TestLoadReadErrorFallsBack(t *testing.T) {
	kv := newRecordingKV()
	kv.getErr = fmt.Errorf("disk unavailable")
	s := New(kv, WithLogger(quietLogger()))
	if len(s.Value()) != 1 {
		t.Fatal("expected default report on read error")
	}
}

func TestEveryMutationPersists(t *testing.T) {
	kv := newRecordingKV()
	s := New(kv, WithLogger(quietLogger()))
	base := kv.sets

	a := s.Add()
	b := s.Add()
	if kv.sets != base+2 {
		t.Fatalf("expected one write per mutation, got %d", kv.sets-base)
	}
	if a.ID == b.ID {
		t.Fatal("report ids must be unique")
	}
	list, _ := stored(t, kv)
	if len(list) != 3 {
		t.Fatalf("expected 3 stored reports, got %d", len(list))
	}

	if !s.Remove(a.ID) {
		t.Fatal("Remove should find the report")
	}
	if s.Remove("nope") {
		t.Fatal("Remove of unknown id should report false")
	}
	list, _ = stored(t, kv)
	if len(list) != 2 {
		t.Fatalf("expected 2 stored reports, got %d", len(list))
	}
}

func TestRemovingLastReportClearsSlot(t *testing.T) {
	kv := newRecordingKV()
	s := New(kv, WithLogger(quietLogger()))
	id := s.Value()[0].ID

	s.Remove(id)
	if len(s.Value()) != 0 {
		t.Fatal("list should be empty")
	}
	if _, ok, _ := kv.Get(context.Background(), DefaultStorageKey); ok {
		t.Fatal("slot should be removed, not written as an empty list")
	}
	if kv.removes != 1 {
		t.Fatalf("expected one remove, got %d", kv.removes)
	}
}

func TestSetAndUpdate(t *testing.T) {
	kv := newRecordingKV()
	s := New(kv, WithLogger(quietLogger()))

	r := NewReport("42")
	r.FullName = "Bola"
	s.Set([]Report{r})
	if got := s.Value(); len(got) != 1 || got[0].ID != "42" {
		t.Fatalf("Set not applied: %+v", got)
	}

	s.Update(func(list []Report) []Report {
		list[0].FullName = "Bola Ade"
		return list
	})
	got, _ := s.Get("42")
	if got.FullName != "Bola Ade" {
		t.Fatalf("Update not applied: %+v", got)
	}

	s.Set(nil)
	if v := s.Value(); v == nil || len(v) != 0 {
		t.Fatalf("Set(nil) should leave an empty list, got %#v", v)
	}
	if _, ok, _ := kv.Get(context.Background(), DefaultStorageKey); ok {
		t.Fatal("slot should be cleared")
	}
}

func TestSubscribe(t *testing.T) {
	s := New(nil, WithLogger(quietLogger()))
	var seen []int
	unsubscribe := s.Subscribe(func(list []Report) { seen = append(seen, len(list)) })

	s.Add()
	s.Add()
	unsubscribe()
	s.Add()

	want := []int{1, 2, 3}
	if fmt.Sprint(seen) != fmt.Sprint(want) {
		t.Fatalf("unexpected notifications %v, want %v", seen, want)
	}
}

func TestSubscribersGetCopies(t *testing.T) {
	s := New(nil, WithLogger(quietLogger()))
	s.Subscribe(func(list []Report) {
		if len(list) > 0 {
			list[0].FullName = "mutated"
			list[0].Psychomotor["WRITING"] = "E"
		}
	})
	s.Add()
	r := s.Value()[0]
	if r.FullName == "mutated" || r.Psychomotor["WRITING"] != "A" {
		t.Fatal("subscriber mutated store state")
	}
}

func TestPersistErrorsAreSwallowed(t *testing.T) {
	kv := newRecordingKV()
	kv.setErr = fmt.Errorf("quota exceeded")
	s := New(kv, WithLogger(quietLogger()))
	s.Add()
	if len(s.Value()) != 2 {
		t.Fatal("mutation must apply even when saving fails")
	}
}

func TestIDsStrictlyIncrease(t *testing.T) {
	s := New(nil, WithLogger(quietLogger()), WithClock(fixedClock(1000)))
	prev := int64(0)
	for i := 0; i < 5; i++ {
		n, err := strconv.ParseInt(s.NewID(), 10, 64)
		if err != nil {
			t.Fatalf("id not numeric: %v", err)
		}
		if n <= prev {
			t.Fatalf("id %d not greater than %d", n, prev)
		}
		prev = n
	}
}

func TestIDsSkipStoredIDs(t *testing.T) {
	kv := newRecordingKV()
	_ = kv.Memory.Set(context.Background(), DefaultStorageKey, `[{"id":"5000"}]`)
	s := New(kv, WithLogger(quietLogger()), WithClock(fixedClock(1000)))
	if r := s.Add(); r.ID != "5001" {
		t.Fatalf("expected id after stored ones, got %s", r.ID)
	}
}

func TestConcurrentMutations(t *testing.T) {
	kv := newRecordingKV()
	s := New(kv, WithLogger(quietLogger()))

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Add()
		}()
	}
	wg.Wait()

	if len(s.Value()) != 26 {
		t.Fatalf("expected 26 reports, got %d", len(s.Value()))
	}
	raw, _, _ := kv.Get(context.Background(), DefaultStorageKey)
	var list []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &list); err != nil || len(list) != 26 {
		t.Fatalf("last persisted state should hold 26 reports, got %d (%v)", len(list), err)
	}
}

func TestCustomStorageKey(t *testing.T) {
	kv := newRecordingKV()
	New(kv, WithLogger(quietLogger()), WithStorageKey("term2"), WithStorageTimeout(time.Second))
	if _, ok, _ := kv.Get(context.Background(), "term2"); !ok {
		t.Fatal("expected reports under custom key")
	}
}

func TestLoadKeepsReportsWithMistypedFields(t *testing.T) {
	kv := newRecordingKV()
	_ = kv.Memory.Set(context.Background(), DefaultStorageKey,
		`[{"id":"1","fullName":"Ada"},{"id":"2","fullName":"Bo","psychomotor":{"WRITING":5}}]`)

	s := New(kv, WithLogger(quietLogger()))
	if kv.removes != 0 {
		t.Fatal("readable data must not be cleared")
	}
	list := s.Value()
	if len(list) != 2 || list[0].FullName != "Ada" || list[1].FullName != "Bo" {
		t.Fatalf("stored reports lost: %+v", list)
	}
	if list[1].Psychomotor["WRITING"] != "5" {
		t.Fatalf("skill value not kept: %v", list[1].Psychomotor)
	}
}

func TestLoadNonListFallsBack(t *testing.T) {
	for _, raw := range []string{`null`, `{"id":"1"}`, `"x"`} {
		kv := newRecordingKV()
		_ = kv.Memory.Set(context.Background(), DefaultStorageKey, raw)

		s := New(kv, WithLogger(quietLogger()))
		list := s.Value()
		if len(list) != 1 || list[0].ID == "" || list[0].Class != DefaultClass {
			t.Fatalf("%s: expected one default report, got %+v", raw, list)
		}
		if got, ok := stored(t, kv); !ok || len(got) != 1 {
			t.Fatalf("%s: default report should be persisted, got %v", raw, got)
		}
	}
}

func TestLoadAssignsMissingIDs(t *testing.T) {
	kv := newRecordingKV()
	_ = kv.Memory.Set(context.Background(), DefaultStorageKey, `[{"id":"5000"},{"fullName":"Ada"}]`)

	s := New(kv, WithLogger(quietLogger()), WithClock(fixedClock(10)))
	list := s.Value()
	if len(list) != 2 || list[1].ID != "5001" {
		t.Fatalf("expected id after the stored ones, got %+v", list)
	}
}
