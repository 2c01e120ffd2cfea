package records

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	pb "github.com/qdrant/go-client/qdrant"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/jllopis/reportcard/pkg/embedding"
	"github.com/jllopis/reportcard/pkg/errors"
	"github.com/jllopis/reportcard/pkg/telemetry"
)

const testDim = 8

func newTestStore(t *testing.T, opts ...Option) (*Store, *fakePoints) {
	t.Helper()
	points := newFakePoints()
	seq := 0
	base := []Option{
		WithDimension(testDim),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("00000000-0000-7000-8000-%012d", seq)
		}),
	}
	return New(points, &fakeCollections{}, append(base, opts...)...), points
}

func lastVector(t *testing.T, f *fakePoints) []float32 {
	t.Helper()
	if len(f.upserts) == 0 {
		t.Fatal("no upsert recorded")
	}
	return f.upserts[len(f.upserts)-1].GetPoints()[0].GetVectors().GetVector().GetData() //nolint:staticcheck
}

func TestCreateZeroVector(t *testing.T) {
	s, f := newTestStore(t)
	ctx := context.Background()

	id, err := s.Create(ctx, Payload{"name": "Ada"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if id != "00000000-0000-7000-8000-000000000001" {
		t.Fatalf("unexpected generated id %q", id)
	}
	vec := lastVector(t, f)
	if len(vec) != testDim {
		t.Fatalf("expected %d dimensions, got %d", testDim, len(vec))
	}
	for i, v := range vec {
		if v != 0 {
			t.Fatalf("expected zero vector, index %d = %v", i, v)
		}
	}
	if !f.upserts[0].GetWait() {
		t.Fatal("expected acknowledged write")
	}
}

func TestCreateWithTextStoresEmbedding(t *testing.T) {
	want := []float32{1, 2, 3, 4, 5, 6, 7, 8}
	var gotText string
	s, f := newTestStore(t, WithEmbedder(embedding.Func(func(_ context.Context, text string) ([]float32, error) {
		gotText = text
		return want, nil
	})))

	id, err := s.Create(context.Background(), Payload{"k": 1}, WithText("hello"), WithID("fixed-id"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if id != "fixed-id" || gotText != "hello" {
		t.Fatalf("unexpected id %q or text %q", id, gotText)
	}
	vec := lastVector(t, f)
	for i := range want {
		if vec[i] != want[i] {
			t.Fatalf("vector modified at %d: %v", i, vec)
		}
	}
}

func TestCreateEmbeddingErrors(t *testing.T) {
	failing := embedding.Func(func(context.Context, string) ([]float32, error) {
		return nil, fmt.Errorf("rate limited")
	})
	s, f := newTestStore(t, WithEmbedder(failing))
	if _, err := s.Create(context.Background(), Payload{}, WithText("x")); !errors.IsCode(err, errors.CodeUpstream) {
		t.Fatalf("expected UPSTREAM_FAILURE, got %v", err)
	}

	short := embedding.Func(func(context.Context, string) ([]float32, error) {
		return []float32{1}, nil
	})
	s2, _ := newTestStore(t, WithEmbedder(short))
	if _, err := s2.Create(context.Background(), Payload{}, WithText("x")); !errors.IsCode(err, errors.CodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}

	s3, _ := newTestStore(t)
	if _, err := s3.Create(context.Background(), Payload{}, WithText("x")); !errors.IsCode(err, errors.CodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT without embedder, got %v", err)
	}
	if len(f.upserts) != 0 {
		t.Fatal("no write expected after embedding failure")
	}
}

func TestCreateUpstreamError(t *testing.T) {
	s, f := newTestStore(t)
	f.err = fmt.Errorf("unavailable")
	_, err := s.Create(context.Background(), Payload{"a": "b"})
	if !errors.IsCode(err, errors.CodeUpstream) {
		t.Fatalf("expected UPSTREAM_FAILURE, got %v", err)
	}
}

func TestGetMissingReturnsFalse(t *testing.T) {
	s, _ := newTestStore(t)
	if p, ok := s.Get(context.Background(), "missing"); ok || p != nil {
		t.Fatalf("expected miss, got %v %v", p, ok)
	}
}

func TestGetSwallowsErrors(t *testing.T) {
	s, f := newTestStore(t)
	f.err = fmt.Errorf("connection refused")
	if p, ok := s.Get(context.Background(), "any"); ok || p != nil {
		t.Fatalf("expected miss on error, got %v %v", p, ok)
	}
	if s.Exists(context.Background(), "any") {
		t.Fatal("expected Exists false on error")
	}
}

func TestGetSelectorsAndVector(t *testing.T) {
	s, f := newTestStore(t)
	ctx := context.Background()
	id, err := s.Create(ctx, Payload{"u": "Ada", "age": 36, "nested": map[string]any{"ok": true}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	all, ok := s.Get(ctx, id)
	if !ok || all["u"] != "Ada" || all["age"] != int64(36) {
		t.Fatalf("unexpected payload %v", all)
	}
	if nested, _ := all["nested"].(map[string]any); nested["ok"] != true {
		t.Fatalf("nested payload lost: %v", all["nested"])
	}
	if _, has := all[VectorField]; has {
		t.Fatal("vector must not be attached by default")
	}

	subset, ok := s.Get(ctx, id, WithPayload(Fields("age")))
	if !ok || len(subset) != 1 || subset["age"] != int64(36) {
		t.Fatalf("unexpected subset %v", subset)
	}
	if inc := f.gets[len(f.gets)-1].GetWithPayload().GetInclude().GetFields(); len(inc) != 1 || inc[0] != "age" {
		t.Fatalf("unexpected include selector %v", inc)
	}

	withVec, ok := s.Get(ctx, id, WithVector())
	if !ok {
		t.Fatal("expected point")
	}
	if vec, _ := withVec[VectorField].([]float32); len(vec) != testDim {
		t.Fatalf("expected vector of %d, got %v", testDim, withVec[VectorField])
	}

	name, ok := s.GetField(ctx, id, "u")
	if !ok || name != "Ada" {
		t.Fatalf("GetField = %v %v", name, ok)
	}
	if !s.Exists(ctx, id) {
		t.Fatal("expected Exists")
	}
	if f.gets[len(f.gets)-1].GetWithPayload().GetEnable() {
		t.Fatal("Exists must not request payload")
	}
}

func TestEditPointReplacesPayload(t *testing.T) {
	s, f := newTestStore(t, WithEmbedder(embedding.Func(func(context.Context, string) ([]float32, error) {
		return []float32{1, 1, 1, 1, 1, 1, 1, 1}, nil
	})))
	ctx := context.Background()
	id, _ := s.Create(ctx, Payload{"a": "1", "b": "2"}, WithText("x"))

	out, err := s.EditPoint(ctx, id, Payload{"c": "3"})
	if err != nil {
		t.Fatalf("EditPoint: %v", err)
	}
	if out[IDField] != id || out["c"] != "3" {
		t.Fatalf("unexpected edit result %v", out)
	}
	got, _ := s.Get(ctx, id)
	if _, has := got["a"]; has || got["c"] != "3" {
		t.Fatalf("expected full replace, got %v", got)
	}
	for _, v := range lastVector(t, f) {
		if v != 0 {
			t.Fatal("EditPoint must reset the vector to zeros")
		}
	}
}

func TestUpdatePointMerges(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	id, _ := s.Create(ctx, Payload{"a": "old", "b": "keep"})

	if err := s.UpdatePoint(ctx, id, Payload{"a": "new", "c": "added"}); err != nil {
		t.Fatalf("UpdatePoint: %v", err)
	}
	got, ok := s.Get(ctx, id)
	if !ok {
		t.Fatal("point vanished")
	}
	if got["a"] != "new" || got["b"] != "keep" || got["c"] != "added" {
		t.Fatalf("unexpected merge %v", got)
	}
}

func TestUpdatePointNotFound(t *testing.T) {
	s, f := newTestStore(t)
	err := s.UpdatePoint(context.Background(), "missing", Payload{"a": 1})
	if !errors.IsCode(err, errors.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
	if len(f.upserts) != 0 {
		t.Fatal("UpdatePoint on a missing id must not write")
	}
}

func TestUpdatePointReadErrorIsUpstream(t *testing.T) {
	s, f := newTestStore(t)
	f.err = fmt.Errorf("timeout")
	if err := s.UpdatePoint(context.Background(), "x", Payload{}); !errors.IsCode(err, errors.CodeUpstream) {
		t.Fatalf("expected UPSTREAM_FAILURE, got %v", err)
	}
}

func TestUpdatePointConcurrentSameID(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	id, _ := s.Create(ctx, Payload{})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := s.UpdatePoint(ctx, id, Payload{fmt.Sprintf("k%d", i): i}); err != nil {
				t.Errorf("UpdatePoint: %v", err)
			}
		}(i)
	}
	wg.Wait()

	got, _ := s.Get(ctx, id)
	for i := 0; i < 20; i++ {
		if _, ok := got[fmt.Sprintf("k%d", i)]; !ok {
			t.Fatalf("lost update for k%d: %v", i, got)
		}
	}
}

func TestDeleteByID(t *testing.T) {
	s, f := newTestStore(t)
	ctx := context.Background()
	id, _ := s.Create(ctx, Payload{"a": "b"})
	if err := s.DeleteByID(ctx, id); err != nil {
		t.Fatalf("DeleteByID: %v", err)
	}
	if s.Exists(ctx, id) {
		t.Fatal("point still exists")
	}
	if !f.deletes[0].GetWait() {
		t.Fatal("expected acknowledged delete")
	}
}

func TestSetPayloadMerges(t *testing.T) {
	s, f := newTestStore(t)
	ctx := context.Background()
	id, _ := s.Create(ctx, Payload{"a": "1"})
	if err := s.SetPayload(ctx, id, Payload{"b": "2"}); err != nil {
		t.Fatalf("SetPayload: %v", err)
	}
	got, _ := s.Get(ctx, id)
	if got["a"] != "1" || got["b"] != "2" {
		t.Fatalf("unexpected payload %v", got)
	}
	if !f.setPayload[0].GetWait() {
		t.Fatal("expected acknowledged set payload")
	}
}

func TestSearchByPayload(t *testing.T) {
	s, f := newTestStore(t)
	ctx := context.Background()
	a, _ := s.Create(ctx, Payload{"s": "u", "t": "ada", "u": "Ada"})
	_, _ = s.Create(ctx, Payload{"s": "u", "t": "bob", "u": "Bob"})
	_, _ = s.Create(ctx, Payload{"s": "c", "t": "ada"})

	results, err := s.SearchByPayload(ctx, Filter{"s": "u", "t": "ada", "ignored": ""})
	if err != nil {
		t.Fatalf("SearchByPayload: %v", err)
	}
	if len(results) != 1 || results[0][IDField] != a {
		t.Fatalf("unexpected results %v", results)
	}
	req := f.scrolls[0]
	if req.GetLimit() != DefaultScrollLimit {
		t.Fatalf("expected default limit %d, got %d", DefaultScrollLimit, req.GetLimit())
	}
	if len(req.GetFilter().GetMust()) != 2 {
		t.Fatalf("expected 2 conditions, got %d", len(req.GetFilter().GetMust()))
	}
	if req.OrderBy != nil {
		t.Fatal("no ordering expected by default")
	}

	_, _ = s.SearchByPayload(ctx, Filter{}, WithLimit(2), WithOrderBy("t", Desc), WithPayload(Fields("u")))
	req = f.scrolls[1]
	if req.GetLimit() != 2 || req.GetOrderBy().GetKey() != "t" || req.GetOrderBy().GetDirection() != pb.Direction_Desc {
		t.Fatalf("unexpected scroll request %v", req)
	}
	if req.GetFilter() != nil {
		t.Fatal("empty filter must not be sent")
	}
}

func TestSearchByPayloadError(t *testing.T) {
	s, f := newTestStore(t)
	f.err = fmt.Errorf("bad request: no index for t")
	_, err := s.SearchByPayload(context.Background(), Filter{"t": "x"}, WithOrderBy("t", Asc))
	if !errors.IsCode(err, errors.CodeUpstream) {
		t.Fatalf("expected UPSTREAM_FAILURE, got %v", err)
	}
}

func TestSearchByVector(t *testing.T) {
	s, f := newTestStore(t)
	ctx := context.Background()
	a, _ := s.Create(ctx, Payload{"kind": "report"})
	_, _ = s.Create(ctx, Payload{"kind": "user"})

	vec := make([]float32, testDim)
	results, err := s.SearchByVector(ctx, VectorQuery{Vector: vec, Filter: Filter{"kind": "report"}})
	if err != nil {
		t.Fatalf("SearchByVector: %v", err)
	}
	if len(results) != 1 || results[0][IDField] != a {
		t.Fatalf("unexpected results %v", results)
	}
	if f.searches[0].GetLimit() != DefaultSearchLimit {
		t.Fatalf("expected default limit %d, got %d", DefaultSearchLimit, f.searches[0].GetLimit())
	}

	sel := NoFields()
	_, _ = s.SearchByVector(ctx, VectorQuery{Vector: vec, Limit: 3, Payload: &sel})
	if f.searches[1].GetLimit() != 3 || f.searches[1].GetWithPayload().GetEnable() {
		t.Fatalf("unexpected search request %v", f.searches[1])
	}

	f.err = fmt.Errorf("wrong dimension")
	if _, err := s.SearchByVector(ctx, VectorQuery{Vector: vec}); !errors.IsCode(err, errors.CodeUpstream) {
		t.Fatalf("expected UPSTREAM_FAILURE, got %v", err)
	}
}

func TestSearchByText(t *testing.T) {
	s, f := newTestStore(t, WithEmbedder(embedding.Func(func(context.Context, string) ([]float32, error) {
		return []float32{0, 0, 0, 0, 0, 0, 0, 1}, nil
	})))
	if _, err := s.SearchByText(context.Background(), "grade one", VectorQuery{Limit: 5}); err != nil {
		t.Fatalf("SearchByText: %v", err)
	}
	if got := f.searches[0].GetVector(); len(got) != testDim || got[7] != 1 {
		t.Fatalf("embedding not forwarded: %v", got)
	}
}

func TestGetFirstAndFindByTag(t *testing.T) {
	s, f := newTestStore(t)
	ctx := context.Background()

	if _, ok, err := s.GetFirst(ctx, Filter{"t": "none"}); ok || err != nil {
		t.Fatalf("expected no match, got %v %v", ok, err)
	}
	if f.scrolls[0].GetLimit() != 1 {
		t.Fatalf("GetFirst must use limit 1, got %d", f.scrolls[0].GetLimit())
	}

	id, _ := s.Create(ctx, Payload{"s": "u", "t": "ada", "u": "Ada"})
	user, ok, err := s.FindByTag(ctx, "ada")
	if err != nil || !ok || user[IDField] != id {
		t.Fatalf("FindByTag = %v %v %v", user, ok, err)
	}
	if _, ok, _ := s.FindByTag(ctx, ""); ok {
		t.Fatal("empty tag must not match")
	}
}

func TestUsernameFromLabel(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	id, _ := s.Create(ctx, Payload{"u": "Ada"})
	noName, _ := s.Create(ctx, Payload{"t": "x"})

	if got := s.UsernameFromLabel(ctx, id); got != "Ada" {
		t.Fatalf("expected Ada, got %q", got)
	}
	if got := s.UsernameFromLabel(ctx, noName); got != UnknownUser {
		t.Fatalf("expected %q, got %q", UnknownUser, got)
	}
	if got := s.UsernameFromLabel(ctx, "missing"); got != UnknownUser {
		t.Fatalf("expected %q, got %q", UnknownUser, got)
	}
}

func TestEnsureCollection(t *testing.T) {
	cols := &fakeCollections{}
	s := New(newFakePoints(), cols, WithCollection("reports"), WithDimension(16))
	ctx := context.Background()

	if err := s.EnsureCollection(ctx); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	if len(cols.created) != 1 || cols.created[0].GetVectorsConfig().GetParams().GetSize() != 16 {
		t.Fatalf("unexpected create calls %v", cols.created)
	}
	if err := s.EnsureCollection(ctx); err != nil {
		t.Fatalf("second EnsureCollection: %v", err)
	}
	if len(cols.created) != 1 {
		t.Fatal("existing collection must not be recreated")
	}

	cols.err = fmt.Errorf("down")
	if err := s.EnsureCollection(ctx); !errors.IsCode(err, errors.CodeUpstream) {
		t.Fatalf("expected UPSTREAM_FAILURE, got %v", err)
	}
}

func TestStoreRecordsMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := telemetry.NewStoreMetricsWithMeter(provider.Meter("test"))
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	s, _ := newTestStore(t, WithMetrics(m))
	ctx := context.Background()

	_, _ = s.Create(ctx, Payload{"a": "b"})
	_ = s.UpdatePoint(ctx, "missing", Payload{})

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	found := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, metric := range sm.Metrics {
			found[metric.Name] = true
		}
	}
	for _, name := range []string{"reportcard.records.operations", "reportcard.records.duration", "reportcard.errors.total"} {
		if !found[name] {
			t.Fatalf("metric %s not recorded (have %v)", name, found)
		}
	}
}

func TestSearchFindsDecodedJSONNumbers(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	var payload Payload
	if err := json.Unmarshal([]byte(`{"name":"Ada","age":10}`), &payload); err != nil {
		t.Fatal(err)
	}
	id, err := s.Create(ctx, payload)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	var filter Filter
	if err := json.Unmarshal([]byte(`{"age":10}`), &filter); err != nil {
		t.Fatal(err)
	}
	results, err := s.SearchByPayload(ctx, filter)
	if err != nil {
		t.Fatalf("SearchByPayload: %v", err)
	}
	if len(results) != 1 || results[0][IDField] != id {
		t.Fatalf("expected %s, got %v", id, results)
	}
	if got := results[0]["age"]; got != int64(10) {
		t.Fatalf("age read back as %#v", got)
	}
}

func TestCreateWithEmptyTextSkipsEmbedder(t *testing.T) {
	called := false
	s, f := newTestStore(t, WithEmbedder(embedding.Func(func(context.Context, string) ([]float32, error) {
		called = true
		return nil, fmt.Errorf("must not be called")
	})))
	if _, err := s.Create(context.Background(), Payload{"k": "v"}, WithText("")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if called {
		t.Fatal("embedder called for empty text")
	}
	for i, v := range lastVector(t, f) {
		if v != 0 {
			t.Fatalf("expected zero vector, got %v at %d", v, i)
		}
	}
}

func TestGetFirstLeavesCallerOptionsAlone(t *testing.T) {
	s, _ := newTestStore(t)
	opts := make([]QueryOption, 1, 2)
	opts[0] = WithPayload(NoFields())
	if _, _, err := s.GetFirst(context.Background(), Filter{"t": "x"}, opts...); err != nil {
		t.Fatalf("GetFirst: %v", err)
	}
	if opts[:2][1] != nil {
		t.Fatal("GetFirst wrote into the caller's option slice")
	}
}
