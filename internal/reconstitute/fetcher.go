package reconstitute

import (
	"context"
	"sync"
)

// RevisionContentFetcher is the capability per-section workers need: the
// wikitext of a given revision, split into sections and indexed the same
// way the current article was. A missing section (revision has fewer
// sections than the current article) yields an empty line sequence rather
// than an error.
type RevisionContentFetcher interface {
	FetchSection(ctx context.Context, revID int64, sectionIndex int) ([]string, error)
}

// RevisionWikitextFetcher fetches the raw wikitext of one revision id.
// SectionFetcher wraps an implementation of this to produce a
// RevisionContentFetcher that deduplicates concurrent fetches of the same
// revision across section workers.
type RevisionWikitextFetcher interface {
	FetchRevisionWikitext(ctx context.Context, revID int64) (string, error)
}

type fetchCall struct {
	done     chan struct{}
	sections []Section
	err      error
}

// SectionFetcher is the shared, concurrency-safe RevisionContentFetcher
// used across all of one request's section workers. The same revision id
// is frequently requested by several workers (each wants a different
// section of it); SectionFetcher fetches and splits it exactly once and
// lets every other caller wait on that single in-flight call rather than
// repeating the network round trip.
type SectionFetcher struct {
	content RevisionWikitextFetcher

	mu       sync.Mutex
	inflight map[int64]*fetchCall
	cache    map[int64][]Section
}

// NewSectionFetcher builds a SectionFetcher backed by content.
func NewSectionFetcher(content RevisionWikitextFetcher) *SectionFetcher {
	return &SectionFetcher{
		content:  content,
		inflight: make(map[int64]*fetchCall),
		cache:    make(map[int64][]Section),
	}
}

// FetchSection implements RevisionContentFetcher.
func (f *SectionFetcher) FetchSection(ctx context.Context, revID int64, index int) ([]string, error) {
	sections, err := f.fetchSections(ctx, revID)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(sections) {
		return nil, nil
	}
	return sections[index].Lines, nil
}

func (f *SectionFetcher) fetchSections(ctx context.Context, revID int64) ([]Section, error) {
	f.mu.Lock()
	if sections, ok := f.cache[revID]; ok {
		f.mu.Unlock()
		return sections, nil
	}
	if call, ok := f.inflight[revID]; ok {
		f.mu.Unlock()
		<-call.done
		return call.sections, call.err
	}

	call := &fetchCall{done: make(chan struct{})}
	f.inflight[revID] = call
	f.mu.Unlock()

	wikitext, err := f.content.FetchRevisionWikitext(ctx, revID)
	var sections []Section
	if err == nil {
		sections = Split(wikitext)
	}
	call.sections, call.err = sections, err
	close(call.done)

	f.mu.Lock()
	delete(f.inflight, revID)
	if err == nil {
		f.cache[revID] = sections
	}
	f.mu.Unlock()

	return sections, err
}
