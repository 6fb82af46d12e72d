package client

import (
	"github.com/kartikbazzad/bunquery/pkg/errors"
	"github.com/kartikbazzad/bunquery/wire"
)

func (sel *ConsistencySelector) modes() int {
	n := 0
	if sel.Transaction != nil {
		n++
	}
	if sel.NewTransaction != nil {
		n++
	}
	if sel.ReadTime != nil {
		n++
	}
	return n
}

// runQueryConsistency encodes the selector for RunQuery. Transaction,
// new-transaction and read-time all carry over.
func (sel *ConsistencySelector) runQueryConsistency() (*wire.RunQueryConsistency, error) {
	if sel == nil {
		return nil, nil
	}
	if sel.modes() > 1 {
		return nil, errors.Configurationf("consistency selector sets %d modes, at most one is allowed", sel.modes())
	}
	return &wire.RunQueryConsistency{
		Transaction:    sel.Transaction,
		NewTransaction: sel.NewTransaction,
		ReadTime:       sel.ReadTime,
	}, nil
}

// partitionQueryConsistency encodes the selector for PartitionQuery, which
// only accepts a read time.
func (sel *ConsistencySelector) partitionQueryConsistency() (*wire.PartitionQueryConsistency, error) {
	if sel == nil {
		return nil, nil
	}
	if sel.modes() > 1 {
		return nil, errors.Configurationf("consistency selector sets %d modes, at most one is allowed", sel.modes())
	}
	if sel.Transaction != nil || sel.NewTransaction != nil {
		return nil, errors.Configurationf("partition queries support read-time consistency only")
	}
	return &wire.PartitionQueryConsistency{ReadTime: sel.ReadTime}, nil
}

func (c *Client) createQueryRequest(params QueryParams) (*wire.RunQueryRequest, error) {
	consistency, err := c.consistency.runQueryConsistency()
	if err != nil {
		return nil, err
	}
	return &wire.RunQueryRequest{
		Parent:          params.parentOr(c.documentsPath),
		StructuredQuery: params.StructuredQuery(),
		Consistency:     consistency,
	}, nil
}

func (c *Client) createPartitionQueryRequest(params PartitionQueryParams, consistency *wire.PartitionQueryConsistency) *wire.PartitionQueryRequest {
	count := params.PartitionCount
	if count <= 0 {
		count = c.partitionCount
	}
	pageSize := params.PageSize
	if pageSize <= 0 {
		pageSize = c.partitionPageSize
	}
	return &wire.PartitionQueryRequest{
		Parent:          params.Query.parentOr(c.documentsPath),
		StructuredQuery: params.Query.StructuredQuery(),
		PartitionCount:  count,
		PageToken:       params.pageToken,
		PageSize:        pageSize,
		Consistency:     consistency,
	}
}
