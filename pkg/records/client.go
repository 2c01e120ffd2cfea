package records

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/qdrant/go-client/qdrant"

	"github.com/jllopis/reportcard/pkg/config"
	"github.com/jllopis/reportcard/pkg/errors"
)

const (
	grpcPort = 6334
	restPort = 6333
)

// Dial connects to the Qdrant instance described by cfg and returns a Store
// over it. Callers must Close the store.
func Dial(ctx context.Context, cfg config.QdrantConfig, opts ...Option) (*Store, error) {
	host, port, useTLS, err := parseAddress(cfg.URL)
	if err != nil {
		return nil, err
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 1
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:                   host,
		Port:                   port,
		APIKey:                 cfg.APIKey,
		UseTLS:                 useTLS,
		PoolSize:               uint(poolSize),
		SkipCompatibilityCheck: true,
	})
	if err != nil {
		return nil, errors.Upstream("dial", err).WithContext("url", cfg.URL)
	}

	base := []Option{WithCollection(cfg.Collection), WithDimension(cfg.Dimension)}
	s := New(client.GetPointsClient(), client.GetCollectionsClient(), append(base, opts...)...)
	s.closer = client.Close
	s.logger.DebugContext(ctx, "qdrant client ready",
		"addr", address(host, port), "tls", useTLS, "pool_size", poolSize)
	return s, nil
}

// parseAddress turns a Qdrant base URL into a gRPC host and port. The REST
// port is mapped onto the gRPC one so that the usual QDRANT_URL values work.
func parseAddress(raw string) (host string, port int, useTLS bool, err error) {
	if raw == "" {
		return "localhost", grpcPort, false, nil
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", 0, false, errors.New(errors.CodeInvalidInput, fmt.Sprintf("invalid qdrant url %q", raw), err)
	}
	switch u.Scheme {
	case "http", "grpc":
	case "https", "grpcs":
		useTLS = true
	default:
		return "", 0, false, errors.New(errors.CodeInvalidInput, fmt.Sprintf("unsupported qdrant url scheme %q", u.Scheme), nil)
	}

	host = u.Hostname()
	if host == "" {
		host = "localhost"
	}
	port = grpcPort
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return "", 0, false, errors.New(errors.CodeInvalidInput, fmt.Sprintf("invalid qdrant port %q", p), err)
		}
		if port == restPort {
			port = grpcPort
		}
	}
	return host, port, useTLS, nil
}

func address(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
