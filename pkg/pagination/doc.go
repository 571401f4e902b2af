// Package pagination fetches page-numbered reports in sequential batches of
// concurrent requests.
//
// The first page is fetched alone to learn the total page count. The
// remaining pages are split into batches of BatchSize; the pages of a batch
// are fetched concurrently and the next batch starts only after the previous
// one has fully resolved, with BatchPause in between.
//
// Example usage:
//
//	fetcher := pagination.NewBatchFetcher(pages, pagination.DefaultConfig())
//	result, err := fetcher.FetchAllPages(ctx)
//
// Any page error aborts the remaining batches; pages already consumed are not
// rolled back. Concurrency across the whole process is bounded separately by
// the client's admission gate.
package pagination
