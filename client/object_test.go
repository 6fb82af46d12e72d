package client

import (
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/kartikbazzad/bunquery/internal/metrics"
	dberrors "github.com/kartikbazzad/bunquery/pkg/errors"
	"github.com/kartikbazzad/bunquery/wire"
)

type user struct {
	Name string `json:"name"`
	Age  int    `json:"age"`
}

func usersTransport(t *testing.T) *fakeTransport {
	t.Helper()
	return &fakeTransport{
		runQuery: func(*wire.RunQueryRequest, int) (wire.ResponseStream, error) {
			return &fakeStream{items: []streamItem{
				docItem(mustDoc(t, "users/u1", map[string]interface{}{"name": "ada", "age": 36})),
				docItem(mustDoc(t, "users/u2", map[string]interface{}{"name": "bob", "age": "unknown"})),
				docItem(mustDoc(t, "users/u3", map[string]interface{}{"name": "cy", "age": 41})),
			}}, nil
		},
	}
}

func TestDecode(t *testing.T) {
	doc := mustDoc(t, "users/u1", map[string]interface{}{"name": "ada", "age": 36, "extra": true})

	u, err := Decode[user](doc)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if u.Name != "ada" || u.Age != 36 {
		t.Errorf("Unexpected user %+v", u)
	}

	bad := mustDoc(t, "users/u2", map[string]interface{}{"age": "old"})
	_, err = Decode[user](bad)
	var decErr *dberrors.DeserializationError
	if !errors.As(err, &decErr) {
		t.Fatalf("Expected DeserializationError, got %v", err)
	}
	if decErr.Document != "users/u2" {
		t.Errorf("Expected error to name users/u2, got %q", decErr.Document)
	}
}

func TestQueryObjFailsOnShapeMismatch(t *testing.T) {
	c := newTestClient(t, usersTransport(t))

	_, err := QueryObj[user](t.Context(), c, NewQueryParams("users"))
	var decErr *dberrors.DeserializationError
	if !errors.As(err, &decErr) {
		t.Errorf("Expected DeserializationError, got %v", err)
	}
}

func TestStreamQueryObjSkipsUndecodable(t *testing.T) {
	c := newTestClient(t, usersTransport(t))

	users, err := StreamQueryObj[user](t.Context(), c, NewQueryParams("users"))
	if err != nil {
		t.Fatalf("StreamQueryObj failed: %v", err)
	}
	var names []string
	for u := range users {
		names = append(names, u.Name)
	}
	if len(names) != 2 || names[0] != "ada" || names[1] != "cy" {
		t.Errorf("Expected [ada cy], got %v", names)
	}
}

func TestStreamQueryObjWithErrorsSurfacesDecodeErrors(t *testing.T) {
	c := newTestClient(t, usersTransport(t))

	users, err := StreamQueryObjWithErrors[user](t.Context(), c, NewQueryParams("users"))
	if err != nil {
		t.Fatalf("StreamQueryObjWithErrors failed: %v", err)
	}
	var decoded, failed int
	for _, err := range users {
		if err != nil {
			var decErr *dberrors.DeserializationError
			if !errors.As(err, &decErr) {
				t.Errorf("Expected DeserializationError, got %v", err)
			}
			failed++
			continue
		}
		decoded++
	}
	if decoded != 2 || failed != 1 {
		t.Errorf("Expected 2 decoded and 1 failed, got %d and %d", decoded, failed)
	}
}

func TestStreamQueryObjReportsDroppedDocuments(t *testing.T) {
	c, logs := newCapturingClient(t, usersTransport(t))
	failures := metrics.QueryErrors.WithLabelValues("stream_query", "validation")
	before := counterValue(t, failures)

	users, err := StreamQueryObj[user](t.Context(), c, NewQueryParams("users"))
	if err != nil {
		t.Fatalf("StreamQueryObj failed: %v", err)
	}
	for range users {
	}

	var line string
	for _, l := range strings.Split(logs.String(), "\n") {
		if strings.Contains(l, "Error occurred while deserializing document") {
			line = l
		}
	}
	if line == "" {
		t.Fatalf("Expected a log record for the dropped document, got:\n%s", logs.String())
	}
	for _, want := range []string{"query_id=", "collection=users", "document=users/u2"} {
		if !strings.Contains(line, want) {
			t.Errorf("Expected log record to contain %q, got %q", want, line)
		}
	}
	if got := counterValue(t, failures) - before; got != 1 {
		t.Errorf("Expected 1 validation error recorded, got %v", got)
	}
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("Failed to read counter: %v", err)
	}
	return m.GetCounter().GetValue()
}
