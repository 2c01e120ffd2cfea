package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jllopis/reportcard/pkg/embedding"
	"github.com/jllopis/reportcard/pkg/records"
	"github.com/jllopis/reportcard/pkg/telemetry"
)

// recordStore is the part of records.Store the CLI drives.
type recordStore interface {
	Get(ctx context.Context, id string, opts ...records.QueryOption) (records.Payload, bool)
	GetField(ctx context.Context, id, name string) (any, bool)
	Exists(ctx context.Context, id string) bool
	Create(ctx context.Context, payload records.Payload, opts ...records.CreateOption) (string, error)
	EditPoint(ctx context.Context, id string, data records.Payload) (records.Payload, error)
	UpdatePoint(ctx context.Context, id string, partial records.Payload) error
	SetPayload(ctx context.Context, id string, payload records.Payload) error
	DeleteByID(ctx context.Context, id string) error
	SearchByPayload(ctx context.Context, filter records.Filter, opts ...records.QueryOption) ([]records.Payload, error)
	SearchByText(ctx context.Context, text string, q records.VectorQuery) ([]records.Payload, error)
	GetFirst(ctx context.Context, filter records.Filter, opts ...records.QueryOption) (records.Payload, bool, error)
	FindByTag(ctx context.Context, tag string) (records.Payload, bool, error)
	UsernameFromLabel(ctx context.Context, id string) string
	EnsureCollection(ctx context.Context) error
	Close() error
}

// dialRecords connects to Qdrant. A misconfigured embedder only disables
// text embedding; every other record operation still works.
func (a *app) dialRecords(ctx context.Context) (recordStore, error) {
	opts := []records.Option{records.WithLogger(a.logger)}

	emb, err := embedding.New(a.cfg.Embedder, a.cfg.Qdrant.Dimension)
	switch {
	case err != nil:
		a.logger.Warn("embedder unavailable, records are stored with zero vectors",
			slog.String("provider", a.cfg.Embedder.Provider), slog.Any("error", err))
	case emb != nil:
		opts = append(opts, records.WithEmbedder(emb))
	}

	metrics, err := telemetry.NewStoreMetrics()
	if err != nil {
		return nil, err
	}
	opts = append(opts, records.WithMetrics(metrics))

	store, err := records.Dial(ctx, a.cfg.Qdrant, opts...)
	if err != nil {
		return nil, err
	}
	return store, nil
}

func (a *app) withRecords(ctx context.Context, fn func(context.Context, recordStore) error) error {
	store, err := a.openRecords(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			a.logger.Debug("closing record store", slog.Any("error", err))
		}
	}()
	if a.flags.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.flags.Timeout)
		defer cancel()
	}
	return fn(ctx, store)
}

func (a *app) newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.errOut)
	return fs
}

const recordsUsage = "records <get|exists|field|create|update|edit|set|delete|search|first|similar|tag|username|ensure>"

func (a *app) runRecords(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError(recordsUsage)
	}
	sub, rest := args[0], args[1:]

	switch sub {
	case "get":
		cmd := a.newFlagSet("records get")
		fields := cmd.String("fields", "", "Comma separated payload fields")
		vector := cmd.Bool("vector", false, "Include the stored vector")
		if err := cmd.Parse(rest); err != nil {
			return err
		}
		id, err := exactArgs(cmd.Args(), "records get <id>")
		if err != nil {
			return err
		}
		opts := []records.QueryOption{}
		if names := splitList(*fields); len(names) > 0 {
			opts = append(opts, records.WithPayload(records.Fields(names...)))
		}
		if *vector {
			opts = append(opts, records.WithVector())
		}
		return a.withRecords(ctx, func(ctx context.Context, s recordStore) error {
			payload, ok := s.Get(ctx, id[0], opts...)
			if !ok {
				return NewNotFoundError("record", id[0])
			}
			payload[records.IDField] = id[0]
			return a.print(payload)
		})

	case "exists":
		id, err := exactArgs(rest, "records exists <id>")
		if err != nil {
			return err
		}
		return a.withRecords(ctx, func(ctx context.Context, s recordStore) error {
			return a.print(map[string]any{"id": id[0], "exists": s.Exists(ctx, id[0])})
		})

	case "field":
		args, err := exactArgs(rest, "records field <id> <name>", "name")
		if err != nil {
			return err
		}
		return a.withRecords(ctx, func(ctx context.Context, s recordStore) error {
			value, ok := s.GetField(ctx, args[0], args[1])
			if !ok {
				return NewNotFoundError("record", args[0])
			}
			return a.print(value)
		})

	case "create":
		cmd := a.newFlagSet("records create")
		text := cmd.String("text", "", "Text to embed as the record vector")
		id := cmd.String("id", "", "Explicit id; generated when empty")
		if err := cmd.Parse(rest); err != nil {
			return err
		}
		args, err := exactArgs(cmd.Args(), "records create [--text t] [--id id] <payload>")
		if err != nil {
			return err
		}
		payload, err := parsePayloadArg(args[0])
		if err != nil {
			return err
		}
		var opts []records.CreateOption
		if *text != "" {
			opts = append(opts, records.WithText(*text))
		}
		if *id != "" {
			opts = append(opts, records.WithID(*id))
		}
		return a.withRecords(ctx, func(ctx context.Context, s recordStore) error {
			created, err := s.Create(ctx, payload, opts...)
			if err != nil {
				return err
			}
			return a.print(map[string]string{"id": created})
		})

	case "update", "edit", "set":
		args, err := exactArgs(rest, "records "+sub+" <id> <payload>", "payload")
		if err != nil {
			return err
		}
		payload, err := parsePayloadArg(args[1])
		if err != nil {
			return err
		}
		id := args[0]
		return a.withRecords(ctx, func(ctx context.Context, s recordStore) error {
			switch sub {
			case "update":
				if err := s.UpdatePoint(ctx, id, payload); err != nil {
					return err
				}
			case "edit":
				out, err := s.EditPoint(ctx, id, payload)
				if err != nil {
					return err
				}
				return a.print(out)
			case "set":
				if err := s.SetPayload(ctx, id, payload); err != nil {
					return err
				}
			}
			return a.print(map[string]string{"id": id, "status": "saved"})
		})

	case "delete":
		id, err := exactArgs(rest, "records delete <id>")
		if err != nil {
			return err
		}
		return a.withRecords(ctx, func(ctx context.Context, s recordStore) error {
			if err := s.DeleteByID(ctx, id[0]); err != nil {
				return err
			}
			return a.print(map[string]string{"id": id[0], "status": "deleted"})
		})

	case "search":
		cmd := a.newFlagSet("records search")
		limit := cmd.Int("limit", records.DefaultScrollLimit, "Maximum results")
		orderBy := cmd.String("order-by", "", "Payload field to sort by")
		desc := cmd.Bool("desc", false, "Sort descending")
		fields := cmd.String("fields", "", "Comma separated payload fields")
		vector := cmd.Bool("vector", false, "Include stored vectors")
		if err := cmd.Parse(rest); err != nil {
			return err
		}
		filter, err := parseFilterArgs(cmd.Args())
		if err != nil {
			return err
		}
		opts := []records.QueryOption{records.WithLimit(*limit)}
		if *orderBy != "" {
			dir := records.Asc
			if *desc {
				dir = records.Desc
			}
			opts = append(opts, records.WithOrderBy(*orderBy, dir))
		}
		if names := splitList(*fields); len(names) > 0 {
			opts = append(opts, records.WithPayload(records.Fields(names...)))
		}
		if *vector {
			opts = append(opts, records.WithVector())
		}
		return a.withRecords(ctx, func(ctx context.Context, s recordStore) error {
			results, err := s.SearchByPayload(ctx, filter, opts...)
			if err != nil {
				return err
			}
			return a.print(results)
		})

	case "first":
		filter, err := parseFilterArgs(rest)
		if err != nil {
			return err
		}
		return a.withRecords(ctx, func(ctx context.Context, s recordStore) error {
			payload, ok, err := s.GetFirst(ctx, filter)
			if err != nil {
				return err
			}
			if !ok {
				return NewNotFoundError("record matching", strings.Join(filter.Keys(), ","))
			}
			return a.print(payload)
		})

	case "similar":
		cmd := a.newFlagSet("records similar")
		limit := cmd.Int("limit", records.DefaultSearchLimit, "Maximum results")
		fields := cmd.String("fields", "", "Comma separated payload fields")
		if err := cmd.Parse(rest); err != nil {
			return err
		}
		if cmd.NArg() == 0 {
			return usageError("records similar [--limit N] <text> [key=value ...]")
		}
		text := cmd.Arg(0)
		filter, err := parseFilterArgs(cmd.Args()[1:])
		if err != nil {
			return err
		}
		q := records.VectorQuery{Limit: *limit, Filter: filter}
		if names := splitList(*fields); len(names) > 0 {
			sel := records.Fields(names...)
			q.Payload = &sel
		}
		return a.withRecords(ctx, func(ctx context.Context, s recordStore) error {
			results, err := s.SearchByText(ctx, text, q)
			if err != nil {
				return err
			}
			return a.print(results)
		})

	case "tag":
		tag, err := exactArgs(rest, "records tag <tag>")
		if err != nil {
			return err
		}
		return a.withRecords(ctx, func(ctx context.Context, s recordStore) error {
			payload, ok, err := s.FindByTag(ctx, tag[0])
			if err != nil {
				return err
			}
			if !ok {
				return NewNotFoundError("user tag", tag[0])
			}
			return a.print(payload)
		})

	case "username":
		id, err := exactArgs(rest, "records username <id>")
		if err != nil {
			return err
		}
		return a.withRecords(ctx, func(ctx context.Context, s recordStore) error {
			return a.print(map[string]string{"id": id[0], "username": s.UsernameFromLabel(ctx, id[0])})
		})

	case "ensure":
		if len(rest) > 0 {
			return usageError("records ensure")
		}
		return a.withRecords(ctx, func(ctx context.Context, s recordStore) error {
			if err := s.EnsureCollection(ctx); err != nil {
				return err
			}
			return a.print(map[string]any{
				"collection": a.cfg.Qdrant.Collection,
				"dimension":  a.cfg.Qdrant.Dimension,
				"status":     "ready",
			})
		})

	default:
		return usageError(recordsUsage)
	}
}

// exactArgs checks that args holds the id plus each extra named argument.
func exactArgs(args []string, usage string, extra ...string) ([]string, error) {
	if len(args) != 1+len(extra) {
		return nil, usageError(usage)
	}
	for i, arg := range args {
		if strings.TrimSpace(arg) == "" {
			name := "id"
			if i > 0 {
				name = extra[i-1]
			}
			return nil, NewInvalidArgumentError(name, name+" must not be empty")
		}
	}
	return args, nil
}

// parsePayloadArg decodes a JSON object given inline or as @path.
func parsePayloadArg(raw string) (records.Payload, error) {
	data := []byte(raw)
	if path, ok := strings.CutPrefix(raw, "@"); ok {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, NewInvalidArgumentError("payload", err.Error())
		}
		data = b
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var payload records.Payload
	if err := dec.Decode(&payload); err != nil {
		return nil, NewInvalidArgumentError("payload", "expected a JSON object: "+err.Error())
	}
	if payload == nil {
		return nil, NewInvalidArgumentError("payload", "expected a JSON object, got null")
	}
	return payload, nil
}

// parseFilterArgs turns key=value (string) and key:=value (YAML scalar or
// JSON) arguments into a filter.
func parseFilterArgs(args []string) (records.Filter, error) {
	filter := records.Filter{}
	for _, arg := range args {
		if key, raw, ok := strings.Cut(arg, ":="); ok && key != "" && !strings.Contains(key, "=") {
			var value any
			if err := yaml.Unmarshal([]byte(raw), &value); err != nil {
				return nil, NewInvalidArgumentError(key, fmt.Sprintf("cannot parse %q: %v", raw, err))
			}
			filter[key] = value
			continue
		}
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, NewInvalidArgumentError(arg, "filters are key=value or key:=value")
		}
		filter[key] = value
	}
	return filter, nil
}

func splitList(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
