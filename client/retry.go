package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kartikbazzad/bunquery/internal/metrics"
	"github.com/kartikbazzad/bunquery/wire"
)

// querySpan carries the identity of one logical query through its attempts.
type querySpan struct {
	logger     *slog.Logger
	operation  string
	collection string
}

func (c *Client) startSpan(operation string, params QueryParams) *querySpan {
	return &querySpan{
		logger: c.logger.With(
			"query_id", uuid.NewString(),
			"collection", params.CollectionID,
			"operation", operation,
		),
		operation:  operation,
		collection: params.CollectionID,
	}
}

func (s *querySpan) recordResponseTime(what string, d time.Duration) {
	s.logger.Debug(fmt.Sprintf("[DB]: %s in %s took %dms", what, s.collection, d.Milliseconds()),
		"response_time_ms", d.Milliseconds())
	metrics.ObserveQuery(s.operation, s.collection, d)
}

func (c *Client) recordError(span *querySpan, err error) {
	metrics.QueryErrors.WithLabelValues(span.operation, c.classifier.Classify(err).String()).Inc()
}

// shouldRetry decides whether a failed attempt gets another go. retries is
// the number of retries already performed.
func (c *Client) shouldRetry(span *querySpan, err error, retries int) bool {
	if !c.classifier.ShouldRetry(c.classifier.Classify(err)) || retries >= c.maxRetries {
		return false
	}
	span.logger.Warn(fmt.Sprintf("[DB]: Failed with %v. Retrying: %d/%d", err, retries+1, c.maxRetries))
	metrics.QueryRetries.WithLabelValues(span.operation).Inc()
	return true
}

// queryDocWithRetries runs the query to completion, retrying the whole
// attempt, drain included. Entries without a document are dropped.
func (c *Client) queryDocWithRetries(ctx context.Context, params QueryParams, span *querySpan) ([]*wire.Document, error) {
	for retries := 0; ; retries++ {
		docs, err := c.queryDocOnce(ctx, params, span)
		if err == nil {
			return docs, nil
		}
		if !c.shouldRetry(span, err, retries) {
			c.recordError(span, err)
			return nil, err
		}
	}
}

func (c *Client) queryDocOnce(ctx context.Context, params QueryParams, span *querySpan) ([]*wire.Document, error) {
	req, err := c.createQueryRequest(params)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	stream, err := c.transport.RunQuery(ctx, req)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var docs []*wire.Document
	for {
		resp, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if resp.Document != nil {
			docs = append(docs, resp.Document)
		}
	}

	span.recordResponseTime("Querying documents", time.Since(start))
	return docs, nil
}

// streamQueryDocWithRetries retries only the establishment of the response
// stream. Failures once the stream is open belong to the consumer.
func (c *Client) streamQueryDocWithRetries(ctx context.Context, params QueryParams, span *querySpan) (wire.ResponseStream, error) {
	for retries := 0; ; retries++ {
		stream, err := c.streamQueryDocOnce(ctx, params, span)
		if err == nil {
			return stream, nil
		}
		if !c.shouldRetry(span, err, retries) {
			c.recordError(span, err)
			return nil, err
		}
	}
}

func (c *Client) streamQueryDocOnce(ctx context.Context, params QueryParams, span *querySpan) (wire.ResponseStream, error) {
	req, err := c.createQueryRequest(params)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	stream, err := c.transport.RunQuery(ctx, req)
	if err != nil {
		return nil, err
	}
	span.recordResponseTime("Querying stream of documents", time.Since(start))
	return stream, nil
}
