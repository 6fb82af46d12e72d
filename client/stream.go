package client

import (
	"context"
	"io"
	"iter"

	"github.com/kartikbazzad/bunquery/wire"
)

type entryKind uint8

const (
	entryDocument entryKind = iota
	entryEmpty              // reply frame without a document, e.g. the read-time marker
	entryError
)

// entry is one raw element of a query reply.
type entry struct {
	kind entryKind
	doc  *wire.Document
	err  error
}

func classifyEntry(resp *wire.RunQueryResponse, err error) entry {
	switch {
	case err != nil:
		return entry{kind: entryError, err: err}
	case resp == nil || resp.Document == nil:
		return entry{kind: entryEmpty}
	default:
		return entry{kind: entryDocument, doc: resp.Document}
	}
}

// entries turns a response stream into a single-use sequence. The stream is
// closed when the sequence ends or the consumer stops early.
func entries(stream wire.ResponseStream) iter.Seq[entry] {
	return func(yield func(entry) bool) {
		defer stream.Close()
		for {
			resp, err := stream.Recv()
			if err == io.EOF {
				return
			}
			if !yield(classifyEntry(resp, err)) {
				return
			}
		}
	}
}

// QueryDoc runs the query and returns every matching document.
// Any failure, including one while draining, fails the whole call after
// retries are exhausted.
func (c *Client) QueryDoc(ctx context.Context, params QueryParams) ([]*wire.Document, error) {
	span := c.startSpan("query", params)
	return c.queryDocWithRetries(ctx, params, span)
}

// StreamQueryDoc returns the documents of a query lazily. Errors that occur
// after the stream is established are logged and skipped.
func (c *Client) StreamQueryDoc(ctx context.Context, params QueryParams) (iter.Seq[*wire.Document], error) {
	return c.streamQueryDoc(ctx, params, c.startSpan("stream_query", params))
}

func (c *Client) streamQueryDoc(ctx context.Context, params QueryParams, span *querySpan) (iter.Seq[*wire.Document], error) {
	stream, err := c.streamQueryDocWithRetries(ctx, params, span)
	if err != nil {
		return nil, err
	}

	return func(yield func(*wire.Document) bool) {
		for e := range entries(stream) {
			switch e.kind {
			case entryDocument:
				if !yield(e.doc) {
					return
				}
			case entryError:
				span.logger.Error("[DB]: Error occurred while consuming query", "error", e.err)
				c.recordError(span, e.err)
			}
		}
	}, nil
}

// StreamQueryDocWithErrors is StreamQueryDoc with errors surfaced to the
// consumer as (nil, err) pairs. The sequence continues after an error.
func (c *Client) StreamQueryDocWithErrors(ctx context.Context, params QueryParams) (iter.Seq2[*wire.Document, error], error) {
	span := c.startSpan("stream_query", params)
	stream, err := c.streamQueryDocWithRetries(ctx, params, span)
	if err != nil {
		return nil, err
	}

	return func(yield func(*wire.Document, error) bool) {
		for e := range entries(stream) {
			switch e.kind {
			case entryDocument:
				if !yield(e.doc, nil) {
					return
				}
			case entryError:
				span.logger.Error("[DB]: Error occurred while consuming query", "error", e.err)
				c.recordError(span, e.err)
				if !yield(nil, e.err) {
					return
				}
			}
		}
	}, nil
}
