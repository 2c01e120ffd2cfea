// SPDX-License-Identifier: Apache-2.0

package records

import (
	"context"
	"log/slog"
	"maps"

	pb "github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/jllopis/reportcard/pkg/embedding"
	"github.com/jllopis/reportcard/pkg/errors"
	"github.com/jllopis/reportcard/pkg/telemetry"
)

// Create stores a new point and returns its id. With WithText the text is
// embedded and the vector stored unmodified; otherwise the point gets the
// zero vector. The write is acknowledged before Create returns.
func (s *Store) Create(ctx context.Context, payload Payload, opts ...CreateOption) (id string, err error) {
	var o createOptions
	for _, opt := range opts {
		opt(&o)
	}
	id = o.id
	if id == "" {
		id = s.GenerateID()
	}

	ctx, finish := s.begin(ctx, "Create",
		attribute.String(telemetry.AttrPointID, id),
		attribute.Bool(telemetry.AttrEmbedded, o.hasText),
	)
	defer func() { finish(err) }()

	vector := s.zeroVector()
	if o.hasText {
		vector, err = s.embed(ctx, o.text)
		if err != nil {
			return "", err
		}
	}

	if err = s.upsert(ctx, "create", id, payload, vector); err != nil {
		return "", err
	}
	return id, nil
}

// EditPoint replaces the payload of id with data and resets its vector to
// zeros. The returned payload is data plus the IDField.
func (s *Store) EditPoint(ctx context.Context, id string, data Payload) (out Payload, err error) {
	ctx, finish := s.begin(ctx, "EditPoint", attribute.String(telemetry.AttrPointID, id))
	defer func() { finish(err) }()

	if err = s.upsert(ctx, "edit", id, data, s.zeroVector()); err != nil {
		return nil, err
	}
	out = maps.Clone(data)
	if out == nil {
		out = Payload{}
	}
	out[IDField] = id
	return out, nil
}

// UpdatePoint merges partial over the stored payload of id and rewrites the
// point through EditPoint. Updates of the same id within this process are
// serialized; concurrent writers elsewhere still race (last write wins).
func (s *Store) UpdatePoint(ctx context.Context, id string, partial Payload) (err error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	ctx, finish := s.begin(ctx, "UpdatePoint", attribute.String(telemetry.AttrPointID, id))
	defer func() { finish(err) }()

	current, found, err := s.fetch(ctx, id, AllFields(), false)
	if err != nil {
		return err
	}
	if !found {
		return errors.NotFound("point not found", id)
	}

	merged := maps.Clone(current)
	maps.Copy(merged, partial)
	_, err = s.EditPoint(ctx, id, merged)
	return err
}

// Get returns the point payload selected by the options, or (nil, false)
// when the point does not exist or cannot be read. With WithVector the
// vector is added under VectorField.
func (s *Store) Get(ctx context.Context, id string, opts ...QueryOption) (Payload, bool) {
	q := buildQuery(0, opts)

	var err error
	ctx, finish := s.begin(ctx, "Get", attribute.String(telemetry.AttrPointID, id))
	defer func() { finish(err) }()

	payload, found, err := s.fetch(ctx, id, q.selector, q.withVector)
	if err != nil {
		s.logger.DebugContext(ctx, "get failed, treating as missing",
			slog.String(telemetry.AttrPointID, id),
			slog.String("selector", q.selector.String()),
			slog.Any("error", err),
		)
		return nil, false
	}
	if !found {
		return nil, false
	}
	return payload, true
}

// GetField returns the value of a single payload field.
func (s *Store) GetField(ctx context.Context, id, name string) (any, bool) {
	payload, ok := s.Get(ctx, id, WithPayload(Field(name)))
	if !ok {
		return nil, false
	}
	v, ok := payload[name]
	return v, ok
}

// Exists reports whether a point with id is stored.
func (s *Store) Exists(ctx context.Context, id string) bool {
	_, ok := s.Get(ctx, id, WithPayload(NoFields()))
	return ok
}

// DeleteByID removes the point. Deleting a missing id is not an error.
func (s *Store) DeleteByID(ctx context.Context, id string) (err error) {
	ctx, finish := s.begin(ctx, "DeleteByID", attribute.String(telemetry.AttrPointID, id))
	defer func() { finish(err) }()

	req := &pb.DeletePoints{
		CollectionName: s.collection,
		Wait:           waitTrue(),
		Points:         selectPoints(id),
	}
	s.debugRequest(ctx, "delete", req)
	if _, err = s.points.Delete(ctx, req); err != nil {
		s.logger.ErrorContext(ctx, "delete failed",
			slog.String(telemetry.AttrPointID, id), slog.Any("error", err))
		return errors.Upstream("delete", err).WithContext("id", id)
	}
	return nil
}

// SetPayload writes the keys of payload onto the point, leaving other keys
// and the vector untouched.
func (s *Store) SetPayload(ctx context.Context, id string, payload Payload) (err error) {
	ctx, finish := s.begin(ctx, "SetPayload", attribute.String(telemetry.AttrPointID, id))
	defer func() { finish(err) }()

	values, err := toPayload(payload)
	if err != nil {
		return errors.New(errors.CodeInvalidInput, "unsupported payload", err).WithContext("id", id)
	}
	req := &pb.SetPayloadPoints{
		CollectionName: s.collection,
		Wait:           waitTrue(),
		Payload:        values,
		PointsSelector: selectPoints(id),
	}
	s.debugRequest(ctx, "set payload", req)
	if _, err = s.points.SetPayload(ctx, req); err != nil {
		s.logger.ErrorContext(ctx, "set payload failed",
			slog.String(telemetry.AttrPointID, id), slog.Any("error", err))
		return errors.Upstream("set_payload", err).WithContext("id", id)
	}
	return nil
}

// EnsureCollection creates the collection with cosine distance when it
// does not exist yet.
func (s *Store) EnsureCollection(ctx context.Context) (err error) {
	ctx, finish := s.begin(ctx, "EnsureCollection")
	defer func() { finish(err) }()

	if s.collections == nil {
		return errors.New(errors.CodeInternal, "collections service not configured", nil)
	}
	list, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return errors.Upstream("list_collections", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == s.collection {
			return nil
		}
	}

	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(s.dimension),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return errors.Upstream("create_collection", err).WithContext("collection", s.collection)
	}
	s.logger.InfoContext(ctx, "collection created", slog.Int("dimension", s.dimension))
	return nil
}

func (s *Store) embed(ctx context.Context, text string) ([]float32, error) {
	if s.embedder == nil {
		return nil, errors.New(errors.CodeInvalidInput, "no embedder configured", nil)
	}
	vector, err := s.embedder.Embed(ctx, text)
	if err != nil {
		s.logger.ErrorContext(ctx, "embedding failed", slog.Int("text_length", len(text)), slog.Any("error", err))
		return nil, errors.Upstream("embed", err)
	}
	if err := embedding.CheckDimension(vector, s.dimension); err != nil {
		return nil, err
	}
	return vector, nil
}

func (s *Store) upsert(ctx context.Context, op, id string, payload Payload, vector []float32) error {
	values, err := toPayload(payload)
	if err != nil {
		return errors.New(errors.CodeInvalidInput, "unsupported payload", err).WithContext("id", id)
	}
	req := &pb.UpsertPoints{
		CollectionName: s.collection,
		Wait:           waitTrue(),
		Points: []*pb.PointStruct{{
			Id: pointID(id),
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: vector},
				},
			},
			Payload: values,
		}},
	}
	if _, err := s.points.Upsert(ctx, req); err != nil {
		s.logger.ErrorContext(ctx, op+" failed",
			slog.String(telemetry.AttrPointID, id),
			slog.Int(telemetry.AttrVectorLength, len(vector)),
			slog.Any("error", err),
		)
		return errors.Upstream(op, err).WithContext("id", id)
	}
	return nil
}

// fetch reads one point. A missing point is (nil, false, nil).
func (s *Store) fetch(ctx context.Context, id string, sel Selector, withVector bool) (Payload, bool, error) {
	req := &pb.GetPoints{
		CollectionName: s.collection,
		Ids:            []*pb.PointId{pointID(id)},
		WithPayload:    sel.proto(),
		WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: withVector}},
	}
	s.debugRequest(ctx, "get", req)
	resp, err := s.points.Get(ctx, req)
	if err != nil {
		return nil, false, errors.Upstream("get", err).WithContext("id", id)
	}
	if len(resp.GetResult()) == 0 {
		return nil, false, nil
	}
	point := resp.GetResult()[0]
	payload := fromPayload(point.GetPayload())
	if withVector {
		payload[VectorField] = vectorData(point.GetVectors())
	}
	return payload, true, nil
}

func selectPoints(ids ...string) *pb.PointsSelector {
	pids := make([]*pb.PointId, len(ids))
	for i, id := range ids {
		pids[i] = pointID(id)
	}
	return &pb.PointsSelector{
		PointsSelectorOneOf: &pb.PointsSelector_Points{
			Points: &pb.PointsIdsList{Ids: pids},
		},
	}
}

// debugRequest logs the request as JSON when debug logging is on.
func (s *Store) debugRequest(ctx context.Context, msg string, req proto.Message) {
	if !s.logger.Enabled(ctx, slog.LevelDebug) {
		return
	}
	raw, err := protojson.Marshal(req)
	if err != nil {
		return
	}
	s.logger.DebugContext(ctx, msg+" request", slog.String("request", string(raw)))
}
