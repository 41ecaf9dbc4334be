package reconstitute

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/sjpalmer/wikivandal/internal/models"
)

// Reconstitute is the single entry point for one request: given the
// current wikitext and its revision log, it splits the article into
// sections, derives the candidate pair list, fans out one worker per
// section (bounded by cfg.MaxSectionConcurrency), and reassembles their
// results in original order. It never returns an error for merge trouble;
// worst case every section comes back unmodified. onProgress, if non-nil,
// is called once per section as soon as that section's worker finishes —
// callers use it to feed a live progress channel; it may be called
// concurrently from multiple goroutines.
func Reconstitute(ctx context.Context, wikitext string, revisions []models.RevisionSummary, fetcher RevisionContentFetcher, cfg Config, onProgress func(models.SectionResult), logger zerolog.Logger) models.ReconstitutionResult {
	log := logger.With().Str("component", "reconstitute-coordinator").Logger()

	sections := Split(wikitext)
	candidates := SelectCandidates(revisions)

	maxConcurrency := cfg.MaxSectionConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = len(sections)
	}
	sem := make(chan struct{}, maxConcurrency)

	results := make([]models.SectionResult, len(sections))
	var wg sync.WaitGroup
	for _, section := range sections {
		wg.Add(1)
		sem <- struct{}{}
		go func(section Section) {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Int("section", section.Index).Msg("section worker panicked; returning unmodified section")
					results[section.Index] = models.SectionResult{
						Index: section.Index,
						Text:  section.Text(),
						State: models.SectionDone,
					}
					if onProgress != nil {
						onProgress(results[section.Index])
					}
				}
			}()

			modelSection := models.Section{Index: section.Index, Lines: section.Lines}
			result := RunSection(ctx, modelSection, candidates, fetcher, cfg, log)
			results[section.Index] = result
			if onProgress != nil {
				onProgress(result)
			}
		}(section)
	}
	wg.Wait()

	var body strings.Builder
	var abandoned, vandalismsMerged, timedOut, sizeGateSkips int
	wrote := false
	for i, r := range results {
		// A section with no lines (section 0 of an article that opens with a
		// heading) contributes nothing, not even a separator.
		if len(sections[i].Lines) > 0 || r.Text != "" {
			if wrote {
				body.WriteString("\n")
			}
			body.WriteString(r.Text)
			wrote = true
		}
		if r.State == models.SectionAbandoned {
			abandoned++
		}
		vandalismsMerged += r.VandalismsUsed
		timedOut += r.TimedOut
		sizeGateSkips += r.SizeGateSkips
	}

	return models.ReconstitutionResult{
		Body:              body.String(),
		SectionsTotal:     len(sections),
		SectionsAbandoned: abandoned,
		VandalismsMerged:  vandalismsMerged,
		MergesTimedOut:    timedOut,
		SizeGateSkips:     sizeGateSkips,
		CandidatesFound:   len(candidates),
	}
}
