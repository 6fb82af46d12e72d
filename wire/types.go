package wire

import (
	"fmt"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"rsc.io/ordered"
)

// FieldDocumentName is the pseudo-field that orders and bounds by document name.
const FieldDocumentName = "__name__"

// Operator is a field filter comparison.
type Operator string

const (
	OpEqual              Operator = "=="
	OpNotEqual           Operator = "!="
	OpLessThan           Operator = "<"
	OpLessThanOrEqual    Operator = "<="
	OpGreaterThan        Operator = ">"
	OpGreaterThanOrEqual Operator = ">="
)

// Direction is a sort direction.
type Direction uint8

const (
	Ascending Direction = iota
	Descending
)

// CollectionSelector names the collection a structured query reads from.
type CollectionSelector struct {
	CollectionID   string `json:"coll"`
	AllDescendants bool   `json:"all,omitempty"`
}

// Filter is either a single field comparison or, when Filters is set, the
// conjunction of its children.
type Filter struct {
	Field   string      `json:"field,omitempty"`
	Op      Operator    `json:"op,omitempty"`
	Value   interface{} `json:"value"`
	Filters []Filter    `json:"and,omitempty"`
}

// Order specifies sort order.
type Order struct {
	Field     string    `json:"field"`
	Direction Direction `json:"dir,omitempty"`
}

// Cursor is an opaque position in a query's result set. Values follow the
// query's ordering; Before selects whether the position sits before or
// after the row those values identify.
type Cursor struct {
	Values []interface{} `json:"values"`
	Before bool          `json:"before,omitempty"`
}

// Key returns an order-preserving encoding of the cursor values. Two cursors
// denote the same position iff their keys and Before flags are equal.
func (c Cursor) Key() ([]byte, error) {
	if !ordered.CanEncode(c.Values...) {
		return nil, fmt.Errorf("cursor values cannot be encoded: %v", c.Values)
	}
	return ordered.Encode(c.Values...), nil
}

func (c Cursor) String() string {
	side := "after"
	if c.Before {
		side = "before"
	}
	return fmt.Sprintf("%s%v", side, c.Values)
}

// StructuredQuery is the filter/order/projection description sent to the server.
type StructuredQuery struct {
	Select  []string             `json:"select,omitempty"`
	From    []CollectionSelector `json:"from"`
	Where   *Filter              `json:"where,omitempty"`
	OrderBy []Order              `json:"order,omitempty"`
	StartAt *Cursor              `json:"start_at,omitempty"`
	EndAt   *Cursor              `json:"end_at,omitempty"`
	Offset  int32                `json:"offset,omitempty"`
	Limit   int32                `json:"limit,omitempty"` // 0 = no limit
}

// Document is a server-side record. Fields holds the msgpack encoded field
// map and is treated as opaque by the query client.
type Document struct {
	Name       string             `json:"name"`
	Fields     msgpack.RawMessage `json:"fields"`
	CreateTime time.Time          `json:"create_time"`
	UpdateTime time.Time          `json:"update_time"`
}

// NewDocument encodes fields into a Document.
func NewDocument(name string, fields interface{}) (*Document, error) {
	raw, err := msgpack.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode fields of %s: %w", name, err)
	}
	return &Document{Name: name, Fields: raw}, nil
}

// ID returns the last segment of the document name.
func (d *Document) ID() string {
	if i := strings.LastIndexByte(d.Name, '/'); i >= 0 {
		return d.Name[i+1:]
	}
	return d.Name
}

// Map decodes the fields into a generic map.
func (d *Document) Map() (map[string]interface{}, error) {
	var m map[string]interface{}
	if len(d.Fields) == 0 {
		return map[string]interface{}{}, nil
	}
	if err := msgpack.Unmarshal(d.Fields, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// TransactionOptions asks the server to begin a read-only transaction for the query.
type TransactionOptions struct {
	ReadTime *time.Time `json:"read_time,omitempty"`
}

// RunQueryConsistency is the consistency selector accepted by RunQuery.
// At most one field is set.
type RunQueryConsistency struct {
	Transaction    []byte              `json:"txn,omitempty"`
	NewTransaction *TransactionOptions `json:"new_txn,omitempty"`
	ReadTime       *time.Time          `json:"read_time,omitempty"`
}

// PartitionQueryConsistency is the consistency selector accepted by
// PartitionQuery, which only supports point-in-time reads.
type PartitionQueryConsistency struct {
	ReadTime *time.Time `json:"read_time,omitempty"`
}

// RunQueryRequest (OpRunQuery)
type RunQueryRequest struct {
	Parent          string               `json:"parent"`
	StructuredQuery *StructuredQuery     `json:"query"`
	Consistency     *RunQueryConsistency `json:"consistency,omitempty"`
}

// RunQueryResponse (OpQueryEntry). Document is nil for progress entries
// that carry no result.
type RunQueryResponse struct {
	Document       *Document `json:"doc,omitempty"`
	Transaction    []byte    `json:"txn,omitempty"`
	ReadTime       time.Time `json:"read_time"`
	SkippedResults int32     `json:"skipped,omitempty"`
}

// PartitionQueryRequest (OpPartitionQuery)
type PartitionQueryRequest struct {
	Parent          string                     `json:"parent"`
	StructuredQuery *StructuredQuery           `json:"query"`
	PartitionCount  int64                      `json:"partition_count"`
	PageToken       string                     `json:"page_token,omitempty"`
	PageSize        int32                      `json:"page_size,omitempty"`
	Consistency     *PartitionQueryConsistency `json:"consistency,omitempty"`
}

// PartitionQueryResponse (OpPartitionReply)
type PartitionQueryResponse struct {
	Partitions    []Cursor `json:"partitions"`
	NextPageToken string   `json:"next_page_token,omitempty"`
}
