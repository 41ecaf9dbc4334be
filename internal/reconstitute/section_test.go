package reconstitute

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func reconcat(sections []Section) string {
	var lines []string
	for _, s := range sections {
		lines = append(lines, s.Lines...)
	}
	return strings.Join(lines, "\n")
}

func TestSplitBijective(t *testing.T) {
	cases := []string{
		"",
		"just one line, no headings",
		"Intro line one.\nIntro line two.\n== History ==\nSome history.\n=== Early years ===\nMore text.\n== See also ==\n* link",
		"== Leads with a heading ==\nBody.",
		"Intro.\n=\nnot a heading\n== Real heading ==\nbody",
		"Intro.\n====\nbody",
	}

	for _, wikitext := range cases {
		sections := Split(wikitext)
		require.Equal(t, wikitext, reconcat(sections))
	}
}

func TestSplitNoHeadings(t *testing.T) {
	sections := Split("one\ntwo\nthree")
	require.Len(t, sections, 1)
	require.Equal(t, 0, sections[0].Index)
	require.Empty(t, sections[0].Heading)
}

func TestSplitHeadingLevels(t *testing.T) {
	wikitext := "Intro.\n= Level one, not a section break =\n== Level two ==\nbody"
	sections := Split(wikitext)
	require.Len(t, sections, 2)
	require.Empty(t, sections[0].Heading)
	require.Contains(t, sections[0].Lines, "= Level one, not a section break =")
	require.Equal(t, "== Level two ==", sections[1].Heading)
}

func TestSplitSectionIndicesSequential(t *testing.T) {
	wikitext := "Intro.\n== A ==\nbody a\n== B ==\nbody b\n== C ==\nbody c"
	sections := Split(wikitext)
	for i, s := range sections {
		require.Equal(t, i, s.Index)
	}
}

func TestSplitLeadingHeading(t *testing.T) {
	sections := Split("== First ==\nbody")
	require.Len(t, sections, 2)
	require.Empty(t, sections[0].Lines)
	require.Equal(t, "== First ==", sections[1].Heading)
}
