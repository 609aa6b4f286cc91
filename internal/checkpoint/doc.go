// Package checkpoint persists the records a harvest has completed so far, so an
// interrupted run can resume without refetching them. Every Save rewrites the
// whole set.
package checkpoint
