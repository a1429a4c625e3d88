// Package batch fetches many upstream queries in parallel.
//
// A Fetcher hands queries to a fixed pool of workers and collects one Result
// per query in input order. The worker pool only bounds goroutines; upstream
// load stays bounded by the client's throttle gate, so a pool larger than the
// gate's parallel limit just queues at the gate.
//
// Example usage:
//
//	fetcher := batch.NewFetcher(yf, batch.DefaultConfig(), logger)
//	results, err := fetcher.FetchAll(ctx, queries)
//	for _, r := range results {
//		if r.Err != nil {
//			// handle the failed query
//		}
//	}
//
// A failed query does not stop the others. FetchAll itself only fails when
// the context ends before every query ran.
package batch
