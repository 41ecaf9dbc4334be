// Package shell splices a reconstituted article body into the live
// Wikipedia article page's HTML, replacing MediaWiki's canonical content
// container (`<div id="mw-content-text">…</div>`). Failure to find that
// container is fatal for the request. The caller is expected
// to fall back to serving the original article HTML unmodified.
package shell

import (
	"fmt"
	"strings"
)

const contentDivOpenMarker = `id="mw-content-text"`

// Substitute replaces the content-container subtree inside pageHTML (a
// full rendered Wikipedia article page) with renderedBody (the HTML
// fragment returned by rendering the reconstituted wikitext). It returns
// an error if the content container cannot be located, in which case the
// caller must serve pageHTML unchanged.
func Substitute(pageHTML, renderedBody string) (string, error) {
	divStart, err := findContentDivStart(pageHTML)
	if err != nil {
		return "", err
	}

	divEnd, err := findMatchingDivEnd(pageHTML, divStart)
	if err != nil {
		return "", err
	}

	openTagEnd := strings.IndexByte(pageHTML[divStart:], '>')
	if openTagEnd == -1 {
		return "", fmt.Errorf("shell: malformed opening div tag at offset %d", divStart)
	}
	openTagEnd += divStart + 1

	var b strings.Builder
	b.Grow(len(pageHTML) - (divEnd - openTagEnd) + len(renderedBody))
	b.WriteString(pageHTML[:openTagEnd])
	b.WriteString(renderedBody)
	// Keep the container's own closing tag: divEnd is just past it.
	b.WriteString(pageHTML[divEnd-len("</div>"):])
	return b.String(), nil
}

// findContentDivStart locates the byte offset of the "<div" that opens
// the mw-content-text container.
func findContentDivStart(html string) (int, error) {
	markerIdx := strings.Index(html, contentDivOpenMarker)
	if markerIdx == -1 {
		return -1, fmt.Errorf("shell: mw-content-text container not found")
	}

	tagStart := strings.LastIndex(html[:markerIdx], "<div")
	if tagStart == -1 {
		return -1, fmt.Errorf("shell: mw-content-text marker found without an enclosing <div")
	}
	return tagStart, nil
}

// findMatchingDivEnd walks nested <div>/</div> pairs starting at divStart
// (the offset of the opening "<div") and returns the offset just past the
// matching "</div>".
func findMatchingDivEnd(html string, divStart int) (int, error) {
	depth := 0
	i := divStart

	for i < len(html) {
		openIdx := strings.Index(html[i:], "<div")
		closeIdx := strings.Index(html[i:], "</div>")

		switch {
		case closeIdx == -1:
			return -1, fmt.Errorf("shell: unmatched <div> starting at offset %d", divStart)
		case openIdx != -1 && openIdx < closeIdx:
			depth++
			i += openIdx + len("<div")
		default:
			depth--
			i += closeIdx + len("</div>")
			if depth == 0 {
				return i, nil
			}
		}
	}
	return -1, fmt.Errorf("shell: unmatched <div> starting at offset %d", divStart)
}
