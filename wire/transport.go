package wire

import "context"

// Transport is the RPC surface the query client consumes. Implementations
// must be safe for concurrent use: partitioned queries issue RunQuery from
// several goroutines at once.
type Transport interface {
	RunQuery(ctx context.Context, req *RunQueryRequest) (ResponseStream, error)
	PartitionQuery(ctx context.Context, req *PartitionQueryRequest) (*PartitionQueryResponse, error)
}

// ResponseStream is a live RunQuery reply.
// Recv returns io.EOF once the server finished the reply. After Recv returns
// any other error, later calls either continue the reply or return io.EOF.
// Close releases the stream and may be called at any point, more than once.
type ResponseStream interface {
	Recv() (*RunQueryResponse, error)
	Close() error
}
