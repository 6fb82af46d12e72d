package client

import (
	"errors"
	"strings"
	"testing"

	dberrors "github.com/kartikbazzad/bunquery/pkg/errors"
	"github.com/kartikbazzad/bunquery/pkg/logger"
	"github.com/kartikbazzad/bunquery/wire"
)

// failingThen fails the first n attempts with err and then serves docs.
func failingThen(n int, err error, docs ...*wire.Document) func(*wire.RunQueryRequest, int) (wire.ResponseStream, error) {
	return func(req *wire.RunQueryRequest, attempt int) (wire.ResponseStream, error) {
		if attempt <= n {
			return nil, err
		}
		s := &fakeStream{}
		for _, d := range docs {
			s.items = append(s.items, docItem(d))
		}
		return s, nil
	}
}

func TestRetriesUpToMaxRetries(t *testing.T) {
	doc := mustDoc(t, "users/u1", map[string]interface{}{"name": "ada"})
	transport := &fakeTransport{
		runQuery: failingThen(2, dberrors.NewDatabaseError(wire.CodeUnavailable, "down"), doc),
	}
	c, logs := newCapturingClient(t, transport)

	docs, err := c.QueryDoc(t.Context(), NewQueryParams("users"))
	if err != nil {
		t.Fatalf("Expected success after retries, got %v", err)
	}
	if len(docs) != 1 || docs[0].Name != "users/u1" {
		t.Errorf("Unexpected documents %v", docNames(docs))
	}
	if transport.runCalls() != 3 {
		t.Errorf("Expected 3 attempts, got %d", transport.runCalls())
	}
	for _, want := range []string{"Retrying: 1/2", "Retrying: 2/2"} {
		if !strings.Contains(logs.String(), want) {
			t.Errorf("Expected log to contain %q, got:\n%s", want, logs.String())
		}
	}
}

func TestRetriesExhausted(t *testing.T) {
	failure := dberrors.NewDatabaseError(wire.CodeAborted, "contention")
	transport := &fakeTransport{runQuery: failingThen(10, failure)}
	c := newTestClient(t, transport)

	_, err := c.QueryDoc(t.Context(), NewQueryParams("users"))
	var dbErr *dberrors.DatabaseError
	if !errors.As(err, &dbErr) || dbErr.Code != wire.CodeAborted {
		t.Fatalf("Expected the last DatabaseError, got %v", err)
	}
	if transport.runCalls() != 3 {
		t.Errorf("Expected MaxRetries+1 = 3 attempts, got %d", transport.runCalls())
	}
}

func TestNoRetryForFinalErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
	}{
		{"database error without retry", dberrors.NewDatabaseError(wire.CodeInvalidArgument, "bad filter")},
		{"transport error", &dberrors.TransportError{Op: "dial", Err: errors.New("connection refused")}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			transport := &fakeTransport{runQuery: failingThen(10, tc.err)}
			c := newTestClient(t, transport)

			_, err := c.StreamQueryDoc(t.Context(), NewQueryParams("users"))
			if !errors.Is(err, tc.err) {
				t.Errorf("Expected %v, got %v", tc.err, err)
			}
			if transport.runCalls() != 1 {
				t.Errorf("Expected a single attempt, got %d", transport.runCalls())
			}
		})
	}
}

func TestZeroMaxRetries(t *testing.T) {
	transport := &fakeTransport{runQuery: failingThen(1, dberrors.NewDatabaseError(wire.CodeUnavailable, "down"))}
	cfg := testConfig()
	cfg.Query.MaxRetries = 0
	c := New(transport, cfg, WithLogger(logger.Discard()))

	if _, err := c.QueryDoc(t.Context(), NewQueryParams("users")); err == nil {
		t.Fatal("Expected failure with retries disabled")
	}
	if transport.runCalls() != 1 {
		t.Errorf("Expected a single attempt, got %d", transport.runCalls())
	}
}

func TestBatchRetriesFailureWhileDraining(t *testing.T) {
	doc := mustDoc(t, "users/u1", map[string]interface{}{"n": 1})
	transport := &fakeTransport{
		runQuery: func(req *wire.RunQueryRequest, attempt int) (wire.ResponseStream, error) {
			if attempt == 1 {
				return &fakeStream{items: []streamItem{
					docItem(doc),
					errItem(dberrors.NewDatabaseError(wire.CodeUnavailable, "stream reset")),
				}}, nil
			}
			return &fakeStream{items: []streamItem{docItem(doc), emptyItem()}}, nil
		},
	}
	c := newTestClient(t, transport)

	docs, err := c.QueryDoc(t.Context(), NewQueryParams("users"))
	if err != nil {
		t.Fatalf("QueryDoc failed: %v", err)
	}
	if len(docs) != 1 {
		t.Errorf("Expected the second attempt's single document, got %v", docNames(docs))
	}
	if transport.runCalls() != 2 {
		t.Errorf("Expected 2 attempts, got %d", transport.runCalls())
	}
}

func TestStreamRetriesOnlyEstablishment(t *testing.T) {
	transport := &fakeTransport{
		runQuery: func(req *wire.RunQueryRequest, attempt int) (wire.ResponseStream, error) {
			return &fakeStream{items: []streamItem{
				errItem(dberrors.NewDatabaseError(wire.CodeUnavailable, "mid-stream")),
			}}, nil
		},
	}
	c := newTestClient(t, transport)

	docs, err := c.StreamQueryDocWithErrors(t.Context(), NewQueryParams("users"))
	if err != nil {
		t.Fatalf("StreamQueryDocWithErrors failed: %v", err)
	}
	var errs int
	for _, err := range docs {
		if err != nil {
			errs++
		}
	}
	if errs != 1 {
		t.Errorf("Expected the mid-stream error to reach the consumer once, got %d", errs)
	}
	if transport.runCalls() != 1 {
		t.Errorf("Expected no retry for a mid-stream failure, got %d attempts", transport.runCalls())
	}
}
