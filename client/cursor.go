package client

import (
	"context"
	"io"
	"iter"

	"github.com/kartikbazzad/bunquery/wire"
)

// CursorStream pages through the partition cursors of a query. Next returns
// io.EOF once every page has been read. A failed page fetch is reported
// once, after which the stream is exhausted.
//
// A CursorStream is not safe for concurrent use.
type CursorStream struct {
	client      *Client
	ctx         context.Context
	consistency *wire.PartitionQueryConsistency
	span        *querySpan

	next   *PartitionQueryParams // params of the next page, nil when done
	page   []wire.Cursor
	peeked *cursorResult
}

type cursorResult struct {
	cursor wire.Cursor
	err    error
}

// StreamPartitionCursorsWithErrors starts paging the partition cursors of
// params. Pages are fetched lazily as the stream is read.
func (c *Client) StreamPartitionCursorsWithErrors(ctx context.Context, params PartitionQueryParams) (*CursorStream, error) {
	consistency, err := c.consistency.partitionQueryConsistency()
	if err != nil {
		return nil, err
	}
	return &CursorStream{
		client:      c,
		ctx:         ctx,
		consistency: consistency,
		span:        c.startSpan("partition_cursors", params.Query),
		next:        &params,
	}, nil
}

// Next returns the next cursor.
func (s *CursorStream) Next() (wire.Cursor, error) {
	if s.peeked != nil {
		r := *s.peeked
		s.peeked = nil
		return r.cursor, r.err
	}
	return s.advance()
}

// Peek returns the next cursor without consuming it.
func (s *CursorStream) Peek() (wire.Cursor, error) {
	if s.peeked == nil {
		cursor, err := s.advance()
		s.peeked = &cursorResult{cursor: cursor, err: err}
	}
	return s.peeked.cursor, s.peeked.err
}

// All returns the remaining cursors as a sequence ending after the first
// error.
func (s *CursorStream) All() iter.Seq2[wire.Cursor, error] {
	return func(yield func(wire.Cursor, error) bool) {
		for {
			cursor, err := s.Next()
			if err == io.EOF {
				return
			}
			if !yield(cursor, err) || err != nil {
				return
			}
		}
	}
}

// Collect reads every remaining cursor, stopping at the first error.
func (s *CursorStream) Collect() ([]wire.Cursor, error) {
	var cursors []wire.Cursor
	for cursor, err := range s.All() {
		if err != nil {
			return nil, err
		}
		cursors = append(cursors, cursor)
	}
	return cursors, nil
}

func (s *CursorStream) advance() (wire.Cursor, error) {
	for len(s.page) == 0 {
		if s.next == nil {
			return wire.Cursor{}, io.EOF
		}
		if err := s.fetchPage(); err != nil {
			return wire.Cursor{}, err
		}
	}
	cursor := s.page[0]
	s.page = s.page[1:]
	return cursor, nil
}

func (s *CursorStream) fetchPage() error {
	params := *s.next
	req := s.client.createPartitionQueryRequest(params, s.consistency)
	resp, err := s.client.transport.PartitionQuery(s.ctx, req)
	if err != nil {
		s.next = nil
		s.span.logger.Error("[DB]: Error occurred while reading partition cursors", "error", err)
		s.client.recordError(s.span, err)
		return err
	}

	s.page = resp.Partitions
	if resp.NextPageToken != "" {
		following := params.WithPageToken(resp.NextPageToken)
		s.next = &following
	} else {
		s.next = nil
	}
	return nil
}
