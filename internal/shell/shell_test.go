package shell

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubstituteReplacesContentDiv(t *testing.T) {
	page := `<html><body><div class="header">nav</div>` +
		`<div id="mw-content-text" class="mw-body-content"><p>old content</p></div>` +
		`<div class="footer">footer</div></body></html>`

	out, err := Substitute(page, "<p>new content</p>")
	require.NoError(t, err)

	assert.Contains(t, out, `<div id="mw-content-text" class="mw-body-content"><p>new content</p></div>`)
	assert.Contains(t, out, `<div class="header">nav</div>`)
	assert.Contains(t, out, `<div class="footer">footer</div>`)
	assert.NotContains(t, out, "old content")
}

func TestSubstituteHandlesNestedDivs(t *testing.T) {
	page := `<div id="mw-content-text"><div class="section"><p>a</p></div><div class="section"><p>b</p></div></div><div class="footer">footer</div>`

	out, err := Substitute(page, "<p>replacement</p>")
	require.NoError(t, err)

	assert.Contains(t, out, `<div id="mw-content-text"><p>replacement</p></div>`)
	assert.Contains(t, out, `<div class="footer">footer</div>`)
}

func TestSubstituteErrorsWhenContainerMissing(t *testing.T) {
	page := `<html><body><div class="header">nav</div></body></html>`

	_, err := Substitute(page, "<p>new content</p>")
	assert.Error(t, err)
}

func TestSubstituteErrorsOnUnmatchedDiv(t *testing.T) {
	page := `<div id="mw-content-text"><div class="section"><p>a</p>`

	_, err := Substitute(page, "<p>replacement</p>")
	assert.Error(t, err)
}
