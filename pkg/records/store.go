// Copyright 2026 © The Reportcard Authors
// SPDX-License-Identifier: Apache-2.0

// Package records is a thin CRUD and search layer over a single Qdrant
// collection. Every point carries a payload and a fixed-size vector; points
// that were never embedded hold an all-zero vector.
package records

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"

	"github.com/jllopis/reportcard/pkg/embedding"
	"github.com/jllopis/reportcard/pkg/telemetry"
)

const (
	// DefaultDimension is the vector size of text-embedding-3-large.
	DefaultDimension = 3072
	// DefaultCollection is the collection used when none is configured.
	DefaultCollection = "i"
	// DefaultScrollLimit caps SearchByPayload when no limit is given.
	DefaultScrollLimit = 144
	// DefaultSearchLimit caps SearchByVector when no limit is given.
	DefaultSearchLimit = 54

	// IDField is added to every search result and EditPoint response.
	IDField = "i"
	// VectorField holds the point vector in Get results when requested.
	VectorField = "vector"

	component = "records"
)

// PointsAPI is the subset of the Qdrant points service used by Store.
type PointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Get(ctx context.Context, in *pb.GetPoints, opts ...grpc.CallOption) (*pb.GetResponse, error)
	SetPayload(ctx context.Context, in *pb.SetPayloadPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	Scroll(ctx context.Context, in *pb.ScrollPoints, opts ...grpc.CallOption) (*pb.ScrollResponse, error)
}

// CollectionsAPI is the subset of the Qdrant collections service used by Store.
type CollectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// Store reads and writes points of one collection. It is safe for
// concurrent use.
type Store struct {
	points      PointsAPI
	collections CollectionsAPI
	collection  string
	dimension   int

	embedder embedding.Embedder
	newID    func() string

	logger  *slog.Logger
	metrics *telemetry.StoreMetrics
	tracer  trace.Tracer

	locks  *keyedMutex
	closer func() error
}

// Option configures a Store.
type Option func(*Store)

// WithEmbedder sets the embedder used by Create(WithText) and SearchByText.
func WithEmbedder(e embedding.Embedder) Option {
	return func(s *Store) { s.embedder = e }
}

// WithIDGenerator replaces the UUIDv7 generator.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// WithDimension sets the vector size of the collection.
func WithDimension(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.dimension = n
		}
	}
}

// WithCollection sets the collection name.
func WithCollection(name string) Option {
	return func(s *Store) {
		if name != "" {
			s.collection = name
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithMetrics(m *telemetry.StoreMetrics) Option {
	return func(s *Store) { s.metrics = m }
}

// New builds a Store over already connected Qdrant services.
func New(points PointsAPI, collections CollectionsAPI, opts ...Option) *Store {
	s := &Store{
		points:      points,
		collections: collections,
		collection:  DefaultCollection,
		dimension:   DefaultDimension,
		newID:       newUUIDv7,
		logger:      slog.Default(),
		tracer:      otel.Tracer("reportcard/records"),
		locks:       newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = telemetry.Component(s.logger, component).With(
		slog.String(telemetry.AttrCollection, s.collection),
	)
	return s
}

// Close releases the connection opened by Dial. It is a no-op for stores
// built with New.
func (s *Store) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

// Collection returns the collection name.
func (s *Store) Collection() string { return s.collection }

// Dimension returns the vector size every point is written with.
func (s *Store) Dimension() int { return s.dimension }

// GenerateID returns a new time-ordered unique id.
func (s *Store) GenerateID() string { return s.newID() }

func newUUIDv7() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the random source does.
		return uuid.NewString()
	}
	return id.String()
}

// begin opens a span for op and returns a finish func recording its outcome.
func (s *Store) begin(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	attrs = append(telemetry.CollectionAttrs(s.collection, op), attrs...)
	ctx, span := s.tracer.Start(ctx, "records."+op, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		s.metrics.Record(ctx, component, op, start, err)
	}
}

func (s *Store) zeroVector() []float32 {
	return make([]float32, s.dimension)
}

func waitTrue() *bool {
	wait := true
	return &wait
}

// keyedMutex serializes work per key.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
