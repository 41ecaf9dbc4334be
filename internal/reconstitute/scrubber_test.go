package reconstitute

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScrubScenarioFive(t *testing.T) {
	input := `<img src="Foo ` + string(SentinelOpen) + `bar.jpg">text ` + string(SentinelOpen) + `inside` + string(SentinelClose) + ` tail`
	expected := `<img src="Foo bar.jpg">text ` + string(SentinelOpen) + `inside` + string(SentinelClose) + ` tail`

	require.Equal(t, expected, Scrub(input))
}

func TestScrubIdempotent(t *testing.T) {
	input := `<a href="x` + string(SentinelOpen) + `y">` + string(SentinelOpen) + `vandal text` + string(SentinelClose) + `</a>`
	once := Scrub(input)
	twice := Scrub(once)
	require.Equal(t, once, twice)
}

func TestScrubPreservesTextSentinels(t *testing.T) {
	input := "plain " + string(SentinelOpen) + "vandal" + string(SentinelClose) + " text"
	require.Equal(t, input, Scrub(input))
}

func TestScrubNoSentinelsUnaffected(t *testing.T) {
	input := `<p>Ordinary paragraph with <b>bold</b> text.</p>`
	require.Equal(t, input, Scrub(input))
}

func TestScrubMultipleTagsAndSpans(t *testing.T) {
	input := `<div class="` + string(SentinelOpen) + `hidden">` + string(SentinelOpen) + `visible` + string(SentinelClose) + `</div>` + string(SentinelClose)
	got := Scrub(input)
	require.NotContains(t, got, `class="`+string(SentinelOpen))
	require.Contains(t, got, string(SentinelOpen)+"visible"+string(SentinelClose))
}
