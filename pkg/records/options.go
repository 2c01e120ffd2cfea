package records

import (
	"strings"

	pb "github.com/qdrant/go-client/qdrant"
)

// Selector chooses which payload fields a read returns.
type Selector struct {
	all    bool
	fields []string
	single bool
}

// AllFields selects the whole payload. It is the default.
func AllFields() Selector { return Selector{all: true} }

// Fields selects a subset of the payload.
func Fields(names ...string) Selector {
	return Selector{fields: append([]string(nil), names...)}
}

// NoFields selects nothing; the read only proves the point exists.
func NoFields() Selector { return Selector{} }

// Field selects one field; GetField returns its value directly.
func Field(name string) Selector {
	return Selector{fields: []string{name}, single: true}
}

func (s Selector) String() string {
	switch {
	case s.all:
		return "*"
	case len(s.fields) == 0:
		return "-"
	default:
		return strings.Join(s.fields, ",")
	}
}

func (s Selector) proto() *pb.WithPayloadSelector {
	if s.all {
		return &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}}
	}
	if len(s.fields) == 0 {
		return &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: false}}
	}
	return &pb.WithPayloadSelector{
		SelectorOptions: &pb.WithPayloadSelector_Include{
			Include: &pb.PayloadIncludeSelector{Fields: append([]string(nil), s.fields...)},
		},
	}
}

// Direction orders SearchByPayload results.
type Direction int

const (
	Asc Direction = iota
	Desc
)

func (d Direction) String() string {
	if d == Desc {
		return "desc"
	}
	return "asc"
}

// OrderBy sorts scroll results by a payload field.
type OrderBy struct {
	Key       string
	Direction Direction
}

func (o *OrderBy) proto() *pb.OrderBy {
	if o == nil || o.Key == "" {
		return nil
	}
	dir := pb.Direction_Asc
	if o.Direction == Desc {
		dir = pb.Direction_Desc
	}
	return &pb.OrderBy{Key: o.Key, Direction: &dir}
}

func (o *OrderBy) String() string {
	if o == nil || o.Key == "" {
		return ""
	}
	return o.Key + " " + o.Direction.String()
}

type queryOptions struct {
	selector   Selector
	withVector bool
	limit      int
	orderBy    *OrderBy
}

// QueryOption tunes Get and SearchByPayload.
type QueryOption func(*queryOptions)

// WithPayload sets the payload selector.
func WithPayload(sel Selector) QueryOption {
	return func(o *queryOptions) { o.selector = sel }
}

// WithVector attaches the point vector under VectorField.
func WithVector() QueryOption {
	return func(o *queryOptions) { o.withVector = true }
}

// WithLimit caps the number of results. Non-positive values keep the default.
func WithLimit(n int) QueryOption {
	return func(o *queryOptions) {
		if n > 0 {
			o.limit = n
		}
	}
}

// WithOrderBy sorts results server side. The field needs a payload index.
func WithOrderBy(key string, dir Direction) QueryOption {
	return func(o *queryOptions) { o.orderBy = &OrderBy{Key: key, Direction: dir} }
}

func buildQuery(limit int, opts []QueryOption) queryOptions {
	q := queryOptions{selector: AllFields(), limit: limit}
	for _, opt := range opts {
		opt(&q)
	}
	return q
}

type createOptions struct {
	text    string
	hasText bool
	id      string
}

// CreateOption tunes Create.
type CreateOption func(*createOptions)

// WithText embeds text and stores the result as the point vector. An empty
// text leaves the zero vector in place.
func WithText(text string) CreateOption {
	return func(o *createOptions) {
		o.text = text
		o.hasText = text != ""
	}
}

// WithID stores the point under id instead of a generated one.
func WithID(id string) CreateOption {
	return func(o *createOptions) { o.id = id }
}

// VectorQuery describes a similarity search.
type VectorQuery struct {
	Vector []float32
	// Limit defaults to DefaultSearchLimit.
	Limit int
	// Payload defaults to AllFields.
	Payload *Selector
	Filter  Filter
}
