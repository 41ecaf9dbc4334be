package reconstitute

// Sentinel code points bracket a contiguous span of text attributed to a
// vandal revision once it has been merged back into the live article. Both
// sit in the Unicode Private Use Area (U+E000-U+F8FF) so they round-trip
// through any UTF-8-safe transport untouched and never collide with real
// article text.
const (
	SentinelOpen  rune = ''
	SentinelClose rune = ''
)
