package search

import (
	"context"
	"log"
)

// index is the primary engine the service prefers while it is healthy.
type index interface {
	Searcher
	Indexer
}

// fallback answers queries when the primary engine is unavailable and
// supplies records for reindexing.
type fallback interface {
	Searcher
	LoadAllRecords(ctx context.Context) ([]RevertRecord, error)
}

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili index
	pgfts fallback
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	s := &Service{}
	if meili != nil {
		s.meili = meili
	}
	if pgfts != nil {
		s.pgfts = pgfts
	}
	return s
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	if s.pgfts == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexRevert indexes an executed revert (fire-and-forget to Meilisearch).
func (s *Service) IndexRevert(r RevertRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexRevert(r); err != nil {
			log.Printf("search: index revert %s: %v", r.ID, err)
		}
	}()
}

// ReindexAll pushes records to Meilisearch in one batch.
func (s *Service) ReindexAll(records []RevertRecord) {
	if s.meili == nil || !s.meili.Healthy() || len(records) == 0 {
		return
	}
	if err := s.meili.IndexReverts(records); err != nil {
		log.Printf("search: reindex reverts: %v", err)
	}
}

// ReindexAllFromPG reindexes the whole revert log from PostgreSQL into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	records, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	s.ReindexAll(records)
	log.Printf("search: reindexed %d reverts", len(records))
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
