package client

import (
	"errors"
	"testing"
	"time"

	dberrors "github.com/kartikbazzad/bunquery/pkg/errors"
	"github.com/kartikbazzad/bunquery/wire"
)

func TestCreateQueryRequestDefaultsParent(t *testing.T) {
	c := newTestClient(t, &fakeTransport{})

	req, err := c.createQueryRequest(NewQueryParams("users"))
	if err != nil {
		t.Fatalf("createQueryRequest failed: %v", err)
	}
	if req.Parent != "projects/local/databases/(default)/documents" {
		t.Errorf("Expected session documents path, got %q", req.Parent)
	}
	if req.Consistency != nil {
		t.Errorf("Expected no consistency selector, got %+v", req.Consistency)
	}
	if len(req.StructuredQuery.From) != 1 || req.StructuredQuery.From[0].CollectionID != "users" {
		t.Errorf("Unexpected from clause %+v", req.StructuredQuery.From)
	}
}

func TestCreateQueryRequestKeepsExplicitParent(t *testing.T) {
	c := newTestClient(t, &fakeTransport{})
	parent := "projects/local/databases/(default)/documents/orgs/acme"

	req, err := c.createQueryRequest(NewQueryParams("users").WithParent(parent).WithLimit(5))
	if err != nil {
		t.Fatalf("createQueryRequest failed: %v", err)
	}
	if req.Parent != parent {
		t.Errorf("Expected %q, got %q", parent, req.Parent)
	}
	if req.StructuredQuery.Limit != 5 {
		t.Errorf("Expected limit 5, got %d", req.StructuredQuery.Limit)
	}
}

func TestConsistencyEncoding(t *testing.T) {
	readTime := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("read time carries to both shapes", func(t *testing.T) {
		c := newTestClient(t, &fakeTransport{}, WithConsistency(ReadAt(readTime)))

		req, err := c.createQueryRequest(NewQueryParams("users"))
		if err != nil {
			t.Fatalf("createQueryRequest failed: %v", err)
		}
		if req.Consistency == nil || req.Consistency.ReadTime == nil || !req.Consistency.ReadTime.Equal(readTime) {
			t.Errorf("Expected read time %v in run query, got %+v", readTime, req.Consistency)
		}

		pc, err := c.consistency.partitionQueryConsistency()
		if err != nil {
			t.Fatalf("partitionQueryConsistency failed: %v", err)
		}
		if pc.ReadTime == nil || !pc.ReadTime.Equal(readTime) {
			t.Errorf("Expected read time %v in partition query, got %+v", readTime, pc)
		}
	})

	t.Run("transaction is run-query only", func(t *testing.T) {
		c := newTestClient(t, &fakeTransport{}, WithConsistency(InTransaction([]byte("tx-1"))))

		req, err := c.createQueryRequest(NewQueryParams("users"))
		if err != nil {
			t.Fatalf("createQueryRequest failed: %v", err)
		}
		if string(req.Consistency.Transaction) != "tx-1" {
			t.Errorf("Expected transaction tx-1, got %q", req.Consistency.Transaction)
		}

		_, err = c.StreamPartitionCursorsWithErrors(t.Context(), NewPartitionQueryParams(NewQueryParams("users"), 4))
		var cfgErr *dberrors.ConfigurationError
		if !errors.As(err, &cfgErr) {
			t.Errorf("Expected ConfigurationError, got %v", err)
		}
	})

	t.Run("several modes are rejected", func(t *testing.T) {
		sel := &ConsistencySelector{Transaction: []byte("tx"), ReadTime: &readTime}
		c := newTestClient(t, &fakeTransport{}, WithConsistency(sel))

		_, err := c.createQueryRequest(NewQueryParams("users"))
		var cfgErr *dberrors.ConfigurationError
		if !errors.As(err, &cfgErr) {
			t.Errorf("Expected ConfigurationError, got %v", err)
		}
	})
}

func TestCreatePartitionQueryRequestDefaults(t *testing.T) {
	c := newTestClient(t, &fakeTransport{})

	req := c.createPartitionQueryRequest(PartitionQueryParams{Query: NewQueryParams("users")}, nil)
	if req.PartitionCount != 16 {
		t.Errorf("Expected default partition count 16, got %d", req.PartitionCount)
	}
	if req.PageSize != 100 {
		t.Errorf("Expected default page size 100, got %d", req.PageSize)
	}
	if req.PageToken != "" {
		t.Errorf("Expected empty page token, got %q", req.PageToken)
	}

	params := NewPartitionQueryParams(NewQueryParams("users"), 8).WithPageSize(10).WithPageToken("p2")
	req = c.createPartitionQueryRequest(params, nil)
	if req.PartitionCount != 8 || req.PageSize != 10 || req.PageToken != "p2" {
		t.Errorf("Unexpected request %+v", req)
	}
}

func TestParamsAreCopiedOnWrite(t *testing.T) {
	base := NewQueryParams("users").WithOrderBy(wire.Order{Field: wire.FieldDocumentName})
	cursor := &wire.Cursor{Values: []interface{}{"users/u5"}, Before: true}

	bounded := base.WithStartAt(cursor)
	if base.StartAt != nil {
		t.Error("WithStartAt modified the receiver")
	}
	if bounded.StartAt != cursor {
		t.Error("WithStartAt did not set the cursor")
	}

	sq := bounded.StructuredQuery()
	sq.OrderBy[0].Field = "age"
	if bounded.OrderBy[0].Field != wire.FieldDocumentName {
		t.Error("StructuredQuery shares its order slice with the params")
	}
}

func TestWithSessionConsistency(t *testing.T) {
	transport := &fakeTransport{
		runQuery: func(req *wire.RunQueryRequest, attempt int) (wire.ResponseStream, error) {
			return &fakeStream{}, nil
		},
	}
	base := newTestClient(t, transport)
	readTime := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	pinned := base.WithSessionConsistency(ReadAt(readTime))

	if base.Consistency() != nil {
		t.Errorf("Expected original client to keep no selector, got %+v", base.Consistency())
	}
	if _, err := pinned.QueryDoc(t.Context(), NewQueryParams("users")); err != nil {
		t.Fatalf("QueryDoc failed: %v", err)
	}
	if _, err := base.QueryDoc(t.Context(), NewQueryParams("users")); err != nil {
		t.Fatalf("QueryDoc failed: %v", err)
	}

	reqs := transport.runRequests
	if len(reqs) != 2 {
		t.Fatalf("Expected 2 requests over the shared transport, got %d", len(reqs))
	}
	if reqs[0].Consistency == nil || reqs[0].Consistency.ReadTime == nil || !reqs[0].Consistency.ReadTime.Equal(readTime) {
		t.Errorf("Expected read time %v on pinned request, got %+v", readTime, reqs[0].Consistency)
	}
	if reqs[1].Consistency != nil {
		t.Errorf("Expected no selector on base request, got %+v", reqs[1].Consistency)
	}
}
