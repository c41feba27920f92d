// Package indexer defines the boundary to external torrent search services
// (Jackett, Prowlarr and the like). Query formatting and HTTP communication
// live behind this interface, outside the orchestration core.
package indexer

import "context"

// Result is one search hit from a remote indexer.
type Result struct {
	Title     string
	MagnetURI string
	Size      int64
	Seeders   int
	Leechers  int
	Indexer   string
}

// Searcher queries remote indexers for torrent metadata.
type Searcher interface {
	Search(ctx context.Context, query string) ([]Result, error)
}
