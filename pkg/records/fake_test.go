package records

import (
	"context"
	"sync"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
)

type storedPoint struct {
	payload map[string]*pb.Value
	vector  []float32
}

// fakePoints is an in-memory stand-in for the Qdrant points service.
type fakePoints struct {
	mu     sync.Mutex
	points map[string]storedPoint
	order  []string
	err    error

	upserts    []*pb.UpsertPoints
	deletes    []*pb.DeletePoints
	setPayload []*pb.SetPayloadPoints
	gets       []*pb.GetPoints
	scrolls    []*pb.ScrollPoints
	searches   []*pb.SearchPoints
}

func newFakePoints() *fakePoints {
	return &fakePoints{points: make(map[string]storedPoint)}
}

func (f *fakePoints) Upsert(_ context.Context, in *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, in)
	if f.err != nil {
		return nil, f.err
	}
	for _, p := range in.GetPoints() {
		id := pointIDString(p.GetId())
		if _, ok := f.points[id]; !ok {
			f.order = append(f.order, id)
		}
		f.points[id] = storedPoint{
			payload: p.GetPayload(),
			vector:  p.GetVectors().GetVector().GetData(), //nolint:staticcheck
		}
	}
	return &pb.PointsOperationResponse{}, nil
}

func (f *fakePoints) Delete(_ context.Context, in *pb.DeletePoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, in)
	if f.err != nil {
		return nil, f.err
	}
	for _, id := range in.GetPoints().GetPoints().GetIds() {
		delete(f.points, pointIDString(id))
	}
	return &pb.PointsOperationResponse{}, nil
}

func (f *fakePoints) Get(_ context.Context, in *pb.GetPoints, _ ...grpc.CallOption) (*pb.GetResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets = append(f.gets, in)
	if f.err != nil {
		return nil, f.err
	}
	resp := &pb.GetResponse{}
	for _, id := range in.GetIds() {
		p, ok := f.points[pointIDString(id)]
		if !ok {
			continue
		}
		rp := &pb.RetrievedPoint{Id: id, Payload: selectPayload(p.payload, in.GetWithPayload())}
		if in.GetWithVectors().GetEnable() {
			rp.Vectors = denseOutput(p.vector)
		}
		resp.Result = append(resp.Result, rp)
	}
	return resp, nil
}

func (f *fakePoints) SetPayload(_ context.Context, in *pb.SetPayloadPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setPayload = append(f.setPayload, in)
	if f.err != nil {
		return nil, f.err
	}
	for _, id := range in.GetPointsSelector().GetPoints().GetIds() {
		key := pointIDString(id)
		p, ok := f.points[key]
		if !ok {
			continue
		}
		merged := make(map[string]*pb.Value, len(p.payload))
		for k, v := range p.payload {
			merged[k] = v
		}
		for k, v := range in.GetPayload() {
			merged[k] = v
		}
		p.payload = merged
		f.points[key] = p
	}
	return &pb.PointsOperationResponse{}, nil
}

func (f *fakePoints) Search(_ context.Context, in *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches = append(f.searches, in)
	if f.err != nil {
		return nil, f.err
	}
	resp := &pb.SearchResponse{}
	for _, id := range f.order {
		p, ok := f.points[id]
		if !ok || !matches(p.payload, in.GetFilter()) {
			continue
		}
		resp.Result = append(resp.Result, &pb.ScoredPoint{
			Id:      pointID(id),
			Payload: selectPayload(p.payload, in.GetWithPayload()),
			Score:   1,
		})
		if uint64(len(resp.Result)) == in.GetLimit() {
			break
		}
	}
	return resp, nil
}

func (f *fakePoints) Scroll(_ context.Context, in *pb.ScrollPoints, _ ...grpc.CallOption) (*pb.ScrollResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scrolls = append(f.scrolls, in)
	if f.err != nil {
		return nil, f.err
	}
	resp := &pb.ScrollResponse{}
	for _, id := range f.order {
		p, ok := f.points[id]
		if !ok || !matches(p.payload, in.GetFilter()) {
			continue
		}
		rp := &pb.RetrievedPoint{Id: pointID(id), Payload: selectPayload(p.payload, in.GetWithPayload())}
		if in.GetWithVectors().GetEnable() {
			rp.Vectors = denseOutput(p.vector)
		}
		resp.Result = append(resp.Result, rp)
		if uint32(len(resp.Result)) == in.GetLimit() {
			break
		}
	}
	return resp, nil
}

func denseOutput(vec []float32) *pb.VectorsOutput {
	return &pb.VectorsOutput{
		VectorsOptions: &pb.VectorsOutput_Vector{
			Vector: &pb.VectorOutput{Vector: &pb.VectorOutput_Dense{Dense: &pb.DenseVector{Data: vec}}},
		},
	}
}

func selectPayload(p map[string]*pb.Value, sel *pb.WithPayloadSelector) map[string]*pb.Value {
	if sel.GetEnable() {
		return p
	}
	include := sel.GetInclude().GetFields()
	out := make(map[string]*pb.Value, len(include))
	for _, k := range include {
		if v, ok := p[k]; ok {
			out[k] = v
		}
	}
	return out
}

// matches evaluates keyword, integer and boolean must-conditions.
func matches(p map[string]*pb.Value, filter *pb.Filter) bool {
	for _, c := range filter.GetMust() {
		field := c.GetField()
		v, ok := p[field.GetKey()]
		if !ok {
			return false
		}
		m := field.GetMatch()
		switch m.GetMatchValue().(type) {
		case *pb.Match_Keyword:
			if v.GetStringValue() != m.GetKeyword() {
				return false
			}
		case *pb.Match_Integer:
			if v.GetIntegerValue() != m.GetInteger() {
				return false
			}
		case *pb.Match_Boolean:
			if v.GetBoolValue() != m.GetBoolean() {
				return false
			}
		default:
			r := field.GetRange()
			d := v.GetDoubleValue()
			if r == nil || d < r.GetGte() || d > r.GetLte() {
				return false
			}
		}
	}
	return true
}

type fakeCollections struct {
	names   []string
	created []*pb.CreateCollection
	err     error
}

func (f *fakeCollections) List(_ context.Context, _ *pb.ListCollectionsRequest, _ ...grpc.CallOption) (*pb.ListCollectionsResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	resp := &pb.ListCollectionsResponse{}
	for _, n := range f.names {
		resp.Collections = append(resp.Collections, &pb.CollectionDescription{Name: n})
	}
	return resp, nil
}

func (f *fakeCollections) Create(_ context.Context, in *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.created = append(f.created, in)
	f.names = append(f.names, in.GetCollectionName())
	return &pb.CollectionOperationResponse{Result: true}, nil
}
