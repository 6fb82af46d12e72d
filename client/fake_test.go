package client

import (
	"bytes"
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/kartikbazzad/bunquery/pkg/config"
	"github.com/kartikbazzad/bunquery/pkg/logger"
	"github.com/kartikbazzad/bunquery/wire"
)

type streamItem struct {
	resp *wire.RunQueryResponse
	err  error
}

type fakeStream struct {
	items   []streamItem
	pos     int
	closed  atomic.Bool
	onRecv  func()
	onClose func()
}

func (s *fakeStream) Recv() (*wire.RunQueryResponse, error) {
	if s.onRecv != nil {
		s.onRecv()
	}
	if s.closed.Load() || s.pos >= len(s.items) {
		return nil, io.EOF
	}
	item := s.items[s.pos]
	s.pos++
	return item.resp, item.err
}

func (s *fakeStream) Close() error {
	if s.closed.CompareAndSwap(false, true) && s.onClose != nil {
		s.onClose()
	}
	return nil
}

// fakeTransport records every request and answers through the configured
// functions.
type fakeTransport struct {
	mu                sync.Mutex
	runRequests       []*wire.RunQueryRequest
	partitionRequests []*wire.PartitionQueryRequest

	runQuery       func(req *wire.RunQueryRequest, attempt int) (wire.ResponseStream, error)
	partitionQuery func(req *wire.PartitionQueryRequest) (*wire.PartitionQueryResponse, error)
}

func (f *fakeTransport) RunQuery(ctx context.Context, req *wire.RunQueryRequest) (wire.ResponseStream, error) {
	f.mu.Lock()
	f.runRequests = append(f.runRequests, req)
	attempt := len(f.runRequests)
	f.mu.Unlock()
	return f.runQuery(req, attempt)
}

func (f *fakeTransport) PartitionQuery(ctx context.Context, req *wire.PartitionQueryRequest) (*wire.PartitionQueryResponse, error) {
	f.mu.Lock()
	f.partitionRequests = append(f.partitionRequests, req)
	f.mu.Unlock()
	return f.partitionQuery(req)
}

func (f *fakeTransport) runCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.runRequests)
}

func (f *fakeTransport) partitionCalls() []*wire.PartitionQueryRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*wire.PartitionQueryRequest(nil), f.partitionRequests...)
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Query.MaxRetries = 2
	return cfg
}

func newTestClient(t *testing.T, transport wire.Transport, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithLogger(logger.Discard())}, opts...)
	return New(transport, testConfig(), opts...)
}

// newCapturingClient returns a client whose log output lands in the buffer.
func newCapturingClient(t *testing.T, transport wire.Transport) (*Client, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	l := logger.New(logger.Config{Level: "DEBUG", Format: "text", Output: buf})
	return New(transport, testConfig(), WithLogger(l)), buf
}

func mustDoc(t *testing.T, name string, fields interface{}) *wire.Document {
	t.Helper()
	doc, err := wire.NewDocument(name, fields)
	if err != nil {
		t.Fatalf("Failed to build document %s: %v", name, err)
	}
	return doc
}

func docItem(doc *wire.Document) streamItem {
	return streamItem{resp: &wire.RunQueryResponse{Document: doc}}
}

func emptyItem() streamItem {
	return streamItem{resp: &wire.RunQueryResponse{}}
}

func errItem(err error) streamItem {
	return streamItem{err: err}
}

func docNames(docs []*wire.Document) []string {
	names := make([]string, 0, len(docs))
	for _, d := range docs {
		names = append(names, d.Name)
	}
	return names
}
