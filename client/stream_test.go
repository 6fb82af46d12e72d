package client

import (
	"errors"
	"slices"
	"testing"

	dberrors "github.com/kartikbazzad/bunquery/pkg/errors"
	"github.com/kartikbazzad/bunquery/wire"
)

func mixedStream(t *testing.T, streamErr error) (*fakeTransport, *fakeStream) {
	t.Helper()
	s := &fakeStream{items: []streamItem{
		docItem(mustDoc(t, "users/u1", map[string]interface{}{"n": 1})),
		errItem(streamErr),
		docItem(mustDoc(t, "users/u2", map[string]interface{}{"n": 2})),
		emptyItem(),
	}}
	return &fakeTransport{
		runQuery: func(*wire.RunQueryRequest, int) (wire.ResponseStream, error) { return s, nil },
	}, s
}

func TestQueryDocSkipsEmptyEntries(t *testing.T) {
	transport := &fakeTransport{
		runQuery: func(*wire.RunQueryRequest, int) (wire.ResponseStream, error) {
			return &fakeStream{items: []streamItem{
				emptyItem(),
				docItem(mustDoc(t, "users/u1", map[string]interface{}{})),
				emptyItem(),
				docItem(mustDoc(t, "users/u2", map[string]interface{}{})),
			}}, nil
		},
	}
	c := newTestClient(t, transport)

	docs, err := c.QueryDoc(t.Context(), NewQueryParams("users"))
	if err != nil {
		t.Fatalf("QueryDoc failed: %v", err)
	}
	if got := docNames(docs); !slices.Equal(got, []string{"users/u1", "users/u2"}) {
		t.Errorf("Expected [users/u1 users/u2], got %v", got)
	}
}

func TestStreamQueryDocDropsErrors(t *testing.T) {
	transport, s := mixedStream(t, errors.New("corrupt frame"))
	c := newTestClient(t, transport)

	docs, err := c.StreamQueryDoc(t.Context(), NewQueryParams("users"))
	if err != nil {
		t.Fatalf("StreamQueryDoc failed: %v", err)
	}
	var got []*wire.Document
	for doc := range docs {
		got = append(got, doc)
	}
	if names := docNames(got); !slices.Equal(names, []string{"users/u1", "users/u2"}) {
		t.Errorf("Expected [users/u1 users/u2], got %v", names)
	}
	if !s.closed.Load() {
		t.Error("Expected the response stream to be closed after draining")
	}
}

func TestStreamQueryDocWithErrorsSurfacesErrors(t *testing.T) {
	streamErr := dberrors.NewDatabaseError(wire.CodeInternal, "boom")
	transport, _ := mixedStream(t, streamErr)
	c := newTestClient(t, transport)

	docs, err := c.StreamQueryDocWithErrors(t.Context(), NewQueryParams("users"))
	if err != nil {
		t.Fatalf("StreamQueryDocWithErrors failed: %v", err)
	}

	var got []string
	for doc, err := range docs {
		if err != nil {
			if !errors.Is(err, streamErr) {
				t.Errorf("Expected %v, got %v", streamErr, err)
			}
			got = append(got, "error")
			continue
		}
		got = append(got, doc.Name)
	}
	if want := []string{"users/u1", "error", "users/u2"}; !slices.Equal(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestBreakClosesStream(t *testing.T) {
	transport, s := mixedStream(t, errors.New("unused"))
	c := newTestClient(t, transport)

	docs, err := c.StreamQueryDoc(t.Context(), NewQueryParams("users"))
	if err != nil {
		t.Fatalf("StreamQueryDoc failed: %v", err)
	}
	for range docs {
		break
	}
	if !s.closed.Load() {
		t.Error("Expected the response stream to be closed when the consumer stops early")
	}
	if s.pos != 1 {
		t.Errorf("Expected a single Recv before the break, got %d", s.pos)
	}
}

func TestClassifyEntry(t *testing.T) {
	doc := mustDoc(t, "users/u1", map[string]interface{}{})
	if e := classifyEntry(&wire.RunQueryResponse{Document: doc}, nil); e.kind != entryDocument || e.doc != doc {
		t.Errorf("Expected document entry, got %+v", e)
	}
	if e := classifyEntry(&wire.RunQueryResponse{SkippedResults: 3}, nil); e.kind != entryEmpty {
		t.Errorf("Expected empty entry, got %+v", e)
	}
	if e := classifyEntry(nil, errors.New("x")); e.kind != entryError {
		t.Errorf("Expected error entry, got %+v", e)
	}
}
