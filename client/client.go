// Package client is the query-execution core of the bunquery document
// database client: request construction, bounded retries, lazy document
// streams, typed projection and partitioned parallel queries.
//
// Streams are Go range functions. They are single-use; breaking out of the
// range loop releases the underlying response stream.
package client

import (
	"log/slog"
	"time"

	"github.com/kartikbazzad/bunquery/pkg/config"
	"github.com/kartikbazzad/bunquery/pkg/errors"
	"github.com/kartikbazzad/bunquery/pkg/logger"
	"github.com/kartikbazzad/bunquery/wire"
)

// ConsistencySelector controls the read consistency of every query issued
// by a Client. At most one mode may be set.
type ConsistencySelector struct {
	Transaction    []byte
	NewTransaction *wire.TransactionOptions
	ReadTime       *time.Time
}

// ReadAt selects a point-in-time read.
func ReadAt(t time.Time) *ConsistencySelector {
	return &ConsistencySelector{ReadTime: &t}
}

// InTransaction selects reads within an existing transaction.
func InTransaction(id []byte) *ConsistencySelector {
	return &ConsistencySelector{Transaction: id}
}

// Client runs queries against one database over a wire.Transport.
// It is safe for concurrent use.
type Client struct {
	transport          wire.Transport
	documentsPath      string
	consistency        *ConsistencySelector
	maxRetries         int
	defaultParallelism int
	partitionCount     int64
	partitionPageSize  int32
	logger             *slog.Logger
	classifier         *errors.Classifier
}

// Option configures a Client.
type Option func(*Client)

// WithLogger overrides the process-wide logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// WithConsistency sets the session consistency selector.
func WithConsistency(sel *ConsistencySelector) Option {
	return func(c *Client) {
		c.consistency = sel
	}
}

// New creates a client for the database named by cfg.Session.
func New(transport wire.Transport, cfg *config.Config, opts ...Option) *Client {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	c := &Client{
		transport:          transport,
		documentsPath:      cfg.Session.DocumentsPath(),
		maxRetries:         cfg.Query.MaxRetries,
		defaultParallelism: cfg.Query.DefaultParallelism,
		partitionCount:     cfg.Query.PartitionCount,
		partitionPageSize:  cfg.Query.PartitionPageSize,
		logger:             logger.Get(),
		classifier:         errors.NewClassifier(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.defaultParallelism <= 0 {
		c.defaultParallelism = 1
	}
	return c
}

// DocumentsPath returns the default parent of queries that set none.
func (c *Client) DocumentsPath() string {
	return c.documentsPath
}

// Consistency returns the session consistency selector, or nil.
func (c *Client) Consistency() *ConsistencySelector {
	return c.consistency
}

// WithSessionConsistency returns a copy of the client sharing its transport
// whose queries use sel.
func (c *Client) WithSessionConsistency(sel *ConsistencySelector) *Client {
	clone := *c
	clone.consistency = sel
	return &clone
}
