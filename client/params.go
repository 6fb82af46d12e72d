package client

import (
	"fmt"
	"slices"

	"github.com/kartikbazzad/bunquery/wire"
)

// QueryParams describes one logical query. Values are immutable in
// practice: every With method returns a modified copy.
type QueryParams struct {
	Parent         string // empty = the client's documents path
	CollectionID   string
	AllDescendants bool
	Filter         *wire.Filter
	OrderBy        []wire.Order
	Select         []string
	StartAt        *wire.Cursor
	EndAt          *wire.Cursor
	Offset         int32
	Limit          int32
}

// NewQueryParams starts a query over a collection.
func NewQueryParams(collectionID string) QueryParams {
	return QueryParams{CollectionID: collectionID}
}

func (p QueryParams) WithParent(parent string) QueryParams {
	p.Parent = parent
	return p
}

func (p QueryParams) WithFilter(f *wire.Filter) QueryParams {
	p.Filter = f
	return p
}

func (p QueryParams) WithOrderBy(orders ...wire.Order) QueryParams {
	p.OrderBy = slices.Clone(orders)
	return p
}

func (p QueryParams) WithSelect(fields ...string) QueryParams {
	p.Select = slices.Clone(fields)
	return p
}

func (p QueryParams) WithLimit(limit int32) QueryParams {
	p.Limit = limit
	return p
}

func (p QueryParams) WithOffset(offset int32) QueryParams {
	p.Offset = offset
	return p
}

func (p QueryParams) WithStartAt(c *wire.Cursor) QueryParams {
	p.StartAt = c
	return p
}

func (p QueryParams) WithEndAt(c *wire.Cursor) QueryParams {
	p.EndAt = c
	return p
}

// StructuredQuery encodes the parameters into the wire query. The result
// shares no slices with p.
func (p QueryParams) StructuredQuery() *wire.StructuredQuery {
	return &wire.StructuredQuery{
		Select:  slices.Clone(p.Select),
		From:    []wire.CollectionSelector{{CollectionID: p.CollectionID, AllDescendants: p.AllDescendants}},
		Where:   p.Filter,
		OrderBy: slices.Clone(p.OrderBy),
		StartAt: p.StartAt,
		EndAt:   p.EndAt,
		Offset:  p.Offset,
		Limit:   p.Limit,
	}
}

func (p QueryParams) parentOr(documentsPath string) string {
	if p.Parent != "" {
		return p.Parent
	}
	return documentsPath
}

// PartitionQueryParams adds partitioning knobs to a query. Zero
// PartitionCount or PageSize use the client's configured defaults.
type PartitionQueryParams struct {
	Query          QueryParams
	PartitionCount int64
	PageSize       int32
	pageToken      string
}

// NewPartitionQueryParams wraps a query for partitioned execution.
func NewPartitionQueryParams(query QueryParams, partitionCount int64) PartitionQueryParams {
	return PartitionQueryParams{Query: query, PartitionCount: partitionCount}
}

func (p PartitionQueryParams) WithPageSize(size int32) PartitionQueryParams {
	p.PageSize = size
	return p
}

// WithPageToken returns the params for the page following token.
func (p PartitionQueryParams) WithPageToken(token string) PartitionQueryParams {
	p.pageToken = token
	return p
}

// PageToken returns the continuation token, empty before the first page.
func (p PartitionQueryParams) PageToken() string {
	return p.pageToken
}

// Partition is the range of the keyspace one sub-query of a partitioned
// query covered. A Partition without bounds is the whole result set.
type Partition struct {
	StartAt *wire.Cursor
	EndAt   *wire.Cursor
}

// IsWhole reports whether the partition is unbounded on both sides.
func (p Partition) IsWhole() bool {
	return p.StartAt == nil && p.EndAt == nil
}

func (p Partition) String() string {
	bound := func(c *wire.Cursor) string {
		if c == nil {
			return "*"
		}
		return c.String()
	}
	return fmt.Sprintf("[%s, %s)", bound(p.StartAt), bound(p.EndAt))
}
