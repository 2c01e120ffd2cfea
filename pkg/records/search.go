package records

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	pb "github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jllopis/reportcard/pkg/errors"
	"github.com/jllopis/reportcard/pkg/telemetry"
)

const (
	// UsernameField holds the display name of user points.
	UsernameField = "u"
	// UnknownUser is returned by UsernameFromLabel when no name is stored.
	UnknownUser = "Unknown User"

	kindField = "s"
	tagField  = "t"
	userKind  = "u"
)

// SearchByPayload scans the collection for points matching every filter
// entry. Results carry their id under IDField.
func (s *Store) SearchByPayload(ctx context.Context, filter Filter, opts ...QueryOption) (results []Payload, err error) {
	q := buildQuery(DefaultScrollLimit, opts)
	keys := filter.Keys()

	ctx, finish := s.begin(ctx, "SearchByPayload",
		attribute.StringSlice(telemetry.AttrFilterKeys, keys),
		attribute.Int(telemetry.AttrLimit, q.limit),
		attribute.String(telemetry.AttrOrderBy, q.orderBy.String()),
	)
	defer func() { finish(err) }()

	limit := uint32(q.limit)
	req := &pb.ScrollPoints{
		CollectionName: s.collection,
		Filter:         FormatFilter(filter),
		Limit:          &limit,
		WithPayload:    q.selector.proto(),
		OrderBy:        q.orderBy.proto(),
	}
	if q.withVector {
		req.WithVectors = &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true}}
	}
	s.debugRequest(ctx, "scroll", req)

	resp, err := s.points.Scroll(ctx, req)
	if err != nil {
		s.logger.ErrorContext(ctx, "search by payload failed",
			slog.Any("filter", filter),
			slog.String("selector", q.selector.String()),
			slog.Int(telemetry.AttrLimit, q.limit),
			slog.String(telemetry.AttrOrderBy, q.orderBy.String()),
			slog.Any("error", err),
		)
		return nil, errors.Upstream("scroll", err).
			WithContext("filter", strings.Join(keys, ",")).
			WithContext("limit", q.limit)
	}

	results = make([]Payload, 0, len(resp.GetResult()))
	for _, p := range resp.GetResult() {
		payload := fromPayload(p.GetPayload())
		payload[IDField] = pointIDString(p.GetId())
		if q.withVector {
			payload[VectorField] = vectorData(p.GetVectors())
		}
		results = append(results, payload)
	}
	return results, nil
}

// SearchByVector returns the points nearest to q.Vector, optionally
// restricted to those matching q.Filter.
func (s *Store) SearchByVector(ctx context.Context, q VectorQuery) (results []Payload, err error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	sel := AllFields()
	if q.Payload != nil {
		sel = *q.Payload
	}

	ctx, finish := s.begin(ctx, "SearchByVector",
		attribute.Int(telemetry.AttrVectorLength, len(q.Vector)),
		attribute.StringSlice(telemetry.AttrFilterKeys, q.Filter.Keys()),
		attribute.Int(telemetry.AttrLimit, limit),
	)
	defer func() { finish(err) }()

	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         q.Vector,
		Filter:         FormatFilter(q.Filter),
		Limit:          uint64(limit),
		WithPayload:    sel.proto(),
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "search by vector failed",
			slog.Int(telemetry.AttrVectorLength, len(q.Vector)),
			slog.Any("filter", q.Filter),
			slog.Any("error", err),
		)
		return nil, errors.Upstream("search", err).WithContext("vector_length", len(q.Vector))
	}

	results = make([]Payload, 0, len(resp.GetResult()))
	for _, p := range resp.GetResult() {
		payload := fromPayload(p.GetPayload())
		payload[IDField] = pointIDString(p.GetId())
		results = append(results, payload)
	}
	return results, nil
}

// SearchByText embeds text and runs SearchByVector with it. q.Vector is
// ignored.
func (s *Store) SearchByText(ctx context.Context, text string, q VectorQuery) ([]Payload, error) {
	vector, err := s.embed(ctx, text)
	if err != nil {
		return nil, err
	}
	q.Vector = vector
	return s.SearchByVector(ctx, q)
}

// GetFirst returns the first point matching filter.
func (s *Store) GetFirst(ctx context.Context, filter Filter, opts ...QueryOption) (Payload, bool, error) {
	results, err := s.SearchByPayload(ctx, filter, slices.Concat(opts, []QueryOption{WithLimit(1)})...)
	if err != nil {
		return nil, false, err
	}
	if len(results) == 0 {
		return nil, false, nil
	}
	return results[0], true, nil
}

// UsernameFromLabel returns the name stored on a user point, or
// UnknownUser.
func (s *Store) UsernameFromLabel(ctx context.Context, id string) string {
	v, ok := s.GetField(ctx, id, UsernameField)
	if !ok {
		return UnknownUser
	}
	name, ok := v.(string)
	if !ok || name == "" {
		return UnknownUser
	}
	return name
}

// FindByTag returns the user point carrying tag. An empty tag never
// matches.
func (s *Store) FindByTag(ctx context.Context, tag string) (Payload, bool, error) {
	if tag == "" {
		return nil, false, nil
	}
	return s.GetFirst(ctx, Filter{kindField: userKind, tagField: tag})
}
