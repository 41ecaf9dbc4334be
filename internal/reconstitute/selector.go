package reconstitute

import (
	"strings"

	"github.com/sjpalmer/wikivandal/internal/models"
)

// SelectCandidates scans revisions (expected newest-first, as returned by
// the revision log API) for revert-of-vandalism candidates: a revision
// whose edit summary contains "vandal" (case-insensitive, plain substring)
// is paired with the revision immediately preceding it in the slice. The
// last element of revisions can never be a candidate since it has no
// predecessor. Order is preserved, so the returned pairs process
// newest-revert-first.
func SelectCandidates(revisions []models.RevisionSummary) []models.CandidatePair {
	var pairs []models.CandidatePair
	for i := 0; i < len(revisions)-1; i++ {
		if isVandalRevert(revisions[i].Comment) {
			pairs = append(pairs, models.CandidatePair{
				Clean:  revisions[i],
				Vandal: revisions[i+1],
			})
		}
	}
	return pairs
}

func isVandalRevert(summary string) bool {
	return strings.Contains(strings.ToLower(summary), "vandal")
}
