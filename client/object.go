package client

import (
	"bytes"
	"context"
	"iter"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/kartikbazzad/bunquery/pkg/errors"
	"github.com/kartikbazzad/bunquery/wire"
)

// Decode projects the fields of doc into a T. Struct fields are matched by
// their json tag.
func Decode[T any](doc *wire.Document) (T, error) {
	var out T
	if doc == nil {
		return out, &errors.DeserializationError{Err: errors.ErrInvalidResponse}
	}
	dec := msgpack.NewDecoder(bytes.NewReader(doc.Fields))
	dec.SetCustomStructTag("json")
	if err := dec.Decode(&out); err != nil {
		var zero T
		return zero, &errors.DeserializationError{Document: doc.Name, Err: err}
	}
	return out, nil
}

// QueryObj runs the query and decodes every document. The first document
// that does not decode fails the call.
func QueryObj[T any](ctx context.Context, c *Client, params QueryParams) ([]T, error) {
	docs, err := c.QueryDoc(ctx, params)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		v, err := Decode[T](doc)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// StreamQueryObj decodes documents lazily. Documents that fail to decode
// are logged and skipped, as are stream errors.
func StreamQueryObj[T any](ctx context.Context, c *Client, params QueryParams) (iter.Seq[T], error) {
	span := c.startSpan("stream_query", params)
	docs, err := c.streamQueryDoc(ctx, params, span)
	if err != nil {
		return nil, err
	}
	return func(yield func(T) bool) {
		for doc := range docs {
			v, err := Decode[T](doc)
			if err != nil {
				span.logger.Error("[DB]: Error occurred while deserializing document", "document", doc.Name, "error", err)
				c.recordError(span, err)
				continue
			}
			if !yield(v) {
				return
			}
		}
	}, nil
}

// StreamQueryObjWithErrors decodes documents lazily, surfacing stream and
// decode errors alike.
func StreamQueryObjWithErrors[T any](ctx context.Context, c *Client, params QueryParams) (iter.Seq2[T, error], error) {
	docs, err := c.StreamQueryDocWithErrors(ctx, params)
	if err != nil {
		return nil, err
	}
	return decodeSeq[T](docs), nil
}

func decodeSeq[T any](docs iter.Seq2[*wire.Document, error]) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		for doc, err := range docs {
			if err != nil {
				if !yield(zero, err) {
					return
				}
				continue
			}
			if !yield(Decode[T](doc)) {
				return
			}
		}
	}
}
