package emulator

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openkvlab/boltdb"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/kartikbazzad/bunquery/pkg/errors"
	"github.com/kartikbazzad/bunquery/wire"
)

// plan is a validated query over one collection bucket.
type plan struct {
	path     string
	start    []byte // first key to visit, nil = bucket start
	startGt  bool   // skip start itself
	end      []byte // nil = bucket end
	endIncl  bool   // end itself is visited
	where    *wire.Filter
	selected []string
	offset   int32
	limit    int32
	readTime time.Time
}

func invalid(format string, args ...any) error {
	return errors.NewDatabaseError(wire.CodeInvalidArgument, fmt.Sprintf(format, args...))
}

func (s *Store) newPlan(parent string, q *wire.StructuredQuery, readTime *time.Time) (*plan, error) {
	if q == nil {
		return nil, invalid("missing structured query")
	}
	if len(q.From) != 1 {
		return nil, invalid("query must select exactly one collection, got %d", len(q.From))
	}
	from := q.From[0]
	if from.AllDescendants {
		return nil, invalid("collection group queries are not supported")
	}
	if from.CollectionID == "" {
		return nil, invalid("missing collection id")
	}
	for _, o := range q.OrderBy {
		if o.Field != wire.FieldDocumentName || o.Direction != wire.Ascending {
			return nil, invalid("only ascending order on %s is supported", wire.FieldDocumentName)
		}
	}
	if q.Offset < 0 || q.Limit < 0 {
		return nil, invalid("offset and limit must not be negative")
	}

	p := &plan{
		path:     CollectionPath(parent, from.CollectionID),
		where:    q.Where,
		selected: q.Select,
		offset:   q.Offset,
		limit:    q.Limit,
		readTime: s.now().UTC(),
	}
	if readTime != nil {
		p.readTime = *readTime
	}

	if q.StartAt != nil {
		key, err := p.cursorKey(q.StartAt)
		if err != nil {
			return nil, err
		}
		p.start, p.startGt = key, !q.StartAt.Before
	}
	if q.EndAt != nil {
		key, err := p.cursorKey(q.EndAt)
		if err != nil {
			return nil, err
		}
		p.end, p.endIncl = key, !q.EndAt.Before
	}
	return p, nil
}

// cursorKey maps a __name__ cursor to a bucket key. The cursor may hold a
// full document name in the collection or a bare document ID; either way it
// encodes like the cursor of the bare ID, which is how documents are keyed.
func (p *plan) cursorKey(c *wire.Cursor) ([]byte, error) {
	if len(c.Values) != 1 {
		return nil, invalid("cursor must hold one %s value, got %d", wire.FieldDocumentName, len(c.Values))
	}
	name, ok := c.Values[0].(string)
	if !ok {
		return nil, invalid("cursor value must be a document name, got %T", c.Values[0])
	}
	id := name
	if strings.Contains(name, "/") {
		prefix := p.path + "/"
		if !strings.HasPrefix(name, prefix) || strings.Contains(name[len(prefix):], "/") {
			return nil, invalid("cursor %s is outside collection %s", name, p.path)
		}
		id = name[len(prefix):]
	}
	key, err := wire.Cursor{Values: []interface{}{id}}.Key()
	if err != nil {
		return nil, invalid("%v", err)
	}
	return key, nil
}

// scan visits the visible documents inside the plan's bounds in key order,
// applying the filter. It stops early when fn returns false.
func (p *plan) scan(ctx context.Context, tx *boltdb.Tx, fn func(doc *wire.Document, fields map[string]interface{}) (bool, error)) error {
	b := tx.Bucket([]byte(p.path))
	if b == nil {
		return nil
	}

	c := b.Cursor()
	var k, v []byte
	if p.start != nil {
		k, v = c.Seek(p.start)
		if p.startGt && k != nil && bytes.Equal(k, p.start) {
			k, v = c.Next()
		}
	} else {
		k, v = c.First()
	}

	for ; k != nil; k, v = c.Next() {
		if err := ctx.Err(); err != nil {
			return errors.NewDatabaseError(wire.CodeCancelled, err.Error())
		}
		if p.end != nil {
			cmp := bytes.Compare(k, p.end)
			if cmp > 0 || cmp == 0 && !p.endIncl {
				return nil
			}
		}

		id, err := docID(k)
		if err != nil {
			return fmt.Errorf("bucket %s: %w", p.path, err)
		}
		doc, err := decodeRecord(p.path+"/"+id, v)
		if err != nil {
			return err
		}
		if doc.UpdateTime.After(p.readTime) {
			continue
		}

		var fields map[string]interface{}
		if p.where != nil || len(p.selected) > 0 {
			if err := msgpack.Unmarshal(doc.Fields, &fields); err != nil {
				return fmt.Errorf("decode fields of %s: %w", doc.Name, err)
			}
		}
		if p.where != nil {
			ok, err := matches(p.where, doc.Name, fields)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
		}

		more, err := fn(doc, fields)
		if err != nil || !more {
			return err
		}
	}
	return nil
}

// project keeps only the selected top-level fields.
func project(doc *wire.Document, fields map[string]interface{}, selected []string) error {
	out := make(map[string]interface{}, len(selected))
	for _, path := range selected {
		if path == wire.FieldDocumentName {
			continue
		}
		if v, ok := lookup(fields, path); ok {
			out[path] = v
		}
	}
	raw, err := msgpack.Marshal(out)
	if err != nil {
		return err
	}
	doc.Fields = raw
	return nil
}

func runQueryReadTime(c *wire.RunQueryConsistency) (*time.Time, error) {
	switch {
	case c == nil:
		return nil, nil
	case c.Transaction != nil:
		return nil, errors.NewDatabaseError(wire.CodeFailedPrecondition, "transactions are not supported by the emulator")
	case c.NewTransaction != nil:
		return c.NewTransaction.ReadTime, nil
	default:
		return c.ReadTime, nil
	}
}

// RunQuery streams the matching documents to send, followed by one entry
// without a document that carries the read time and skipped count.
func (s *Store) RunQuery(ctx context.Context, req *wire.RunQueryRequest, send func(*wire.RunQueryResponse) error) error {
	readTime, err := runQueryReadTime(req.Consistency)
	if err != nil {
		return err
	}
	p, err := s.newPlan(req.Parent, req.StructuredQuery, readTime)
	if err != nil {
		return err
	}

	var skipped, sent int32
	err = s.db.View(func(tx *boltdb.Tx) error {
		return p.scan(ctx, tx, func(doc *wire.Document, fields map[string]interface{}) (bool, error) {
			if skipped < p.offset {
				skipped++
				return true, nil
			}
			if len(p.selected) > 0 {
				if err := project(doc, fields, p.selected); err != nil {
					return false, err
				}
			}
			if err := send(&wire.RunQueryResponse{Document: doc, ReadTime: p.readTime}); err != nil {
				return false, err
			}
			sent++
			return p.limit == 0 || sent < p.limit, nil
		})
	})
	if err != nil {
		return err
	}

	s.logger.Debug("Query served", "collection", p.path, "documents", sent, "skipped", skipped)
	return send(&wire.RunQueryResponse{ReadTime: p.readTime, SkippedResults: skipped})
}
