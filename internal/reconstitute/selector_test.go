package reconstitute

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/sjpalmer/wikivandal/internal/models"
)

func rev(id int64, comment string) models.RevisionSummary {
	return models.RevisionSummary{RevID: id, Comment: comment}
}

func TestSelectCandidatesBasic(t *testing.T) {
	revisions := []models.RevisionSummary{
		rev(5, "Reverted vandalism"),
		rev(4, "destroyed the page"),
		rev(3, "fixed typo"),
		rev(2, "rvv: vandalism"),
		rev(1, "initial revision"),
	}

	pairs := SelectCandidates(revisions)
	require.Len(t, pairs, 2)
	require.Equal(t, int64(5), pairs[0].Clean.RevID)
	require.Equal(t, int64(4), pairs[0].Vandal.RevID)
	require.Equal(t, int64(2), pairs[1].Clean.RevID)
	require.Equal(t, int64(1), pairs[1].Vandal.RevID)
}

func TestSelectCandidatesCaseInsensitive(t *testing.T) {
	revisions := []models.RevisionSummary{
		rev(2, "VANDALISM removed"),
		rev(1, "oops"),
	}
	pairs := SelectCandidates(revisions)
	require.Len(t, pairs, 1)
}

func TestSelectCandidatesNone(t *testing.T) {
	revisions := []models.RevisionSummary{
		rev(3, "copyedit"),
		rev(2, "added section"),
		rev(1, "initial revision"),
	}
	require.Empty(t, SelectCandidates(revisions))
}

func TestSelectCandidatesLastRevisionCannotBeCandidate(t *testing.T) {
	revisions := []models.RevisionSummary{
		rev(1, "reverted vandalism"),
	}
	require.Empty(t, SelectCandidates(revisions))
}

func TestSelectCandidatesSubstringNotWordBounded(t *testing.T) {
	// "Vandalia" contains "vandal" as a substring; the plain-substring
	// match is intentional, not word-bounded.
	revisions := []models.RevisionSummary{
		rev(2, "moved to Vandalia Township"),
		rev(1, "initial revision"),
	}
	require.Len(t, SelectCandidates(revisions), 1)
}
