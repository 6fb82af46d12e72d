package emulator

import (
	"context"
	"strconv"
	"time"

	"github.com/openkvlab/boltdb"

	"github.com/kartikbazzad/bunquery/wire"
)

// PartitionQuery returns split points that divide the query's result set
// into up to PartitionCount ranges of roughly equal size. Each cursor sits
// before a matching document, so a cursor is the exclusive end of one range
// and the inclusive start of the next. Result sets smaller than the
// configured minimum are not split at all.
func (s *Store) PartitionQuery(ctx context.Context, req *wire.PartitionQueryRequest) (*wire.PartitionQueryResponse, error) {
	if req.PartitionCount < 1 {
		return nil, invalid("partition count must be positive, got %d", req.PartitionCount)
	}
	if q := req.StructuredQuery; q != nil && (q.Offset != 0 || q.Limit != 0) {
		return nil, invalid("partition queries do not support offset or limit")
	}
	var readTime *time.Time
	if req.Consistency != nil {
		readTime = req.Consistency.ReadTime
	}
	p, err := s.newPlan(req.Parent, req.StructuredQuery, readTime)
	if err != nil {
		return nil, err
	}

	start := 0
	if req.PageToken != "" {
		if start, err = strconv.Atoi(req.PageToken); err != nil || start < 0 {
			return nil, invalid("invalid page token %q", req.PageToken)
		}
	}

	var names []string
	err = s.db.View(func(tx *boltdb.Tx) error {
		return p.scan(ctx, tx, func(doc *wire.Document, _ map[string]interface{}) (bool, error) {
			names = append(names, doc.Name)
			return true, nil
		})
	})
	if err != nil {
		return nil, err
	}

	resp := &wire.PartitionQueryResponse{}
	if len(names) < s.minPartitionSize || len(names) < 2 || req.PartitionCount == 1 {
		s.logger.Debug("Too few documents to partition", "collection", p.path, "documents", len(names))
		return resp, nil
	}

	splits := int(min(req.PartitionCount-1, int64(len(names)-1)))
	cursors := make([]wire.Cursor, 0, splits)
	for i := 1; i <= splits; i++ {
		cursors = append(cursors, wire.Cursor{
			Values: []interface{}{names[i*len(names)/(splits+1)]},
			Before: true,
		})
	}

	if start > len(cursors) {
		return nil, invalid("page token %q is past the last partition", req.PageToken)
	}
	end := len(cursors)
	if req.PageSize > 0 && start+int(req.PageSize) < end {
		end = start + int(req.PageSize)
		resp.NextPageToken = strconv.Itoa(end)
	}
	resp.Partitions = cursors[start:end]
	return resp, nil
}
