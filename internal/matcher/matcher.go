// Package matcher finds a literal pattern in text that arrives in arbitrary
// fragments, such as the free-form REPL output a Monocle streams back over BLE.
package matcher

// Matcher is an incremental substring search over everything fed to it since
// construction or the last Reset. It keeps only the automaton state, never the
// accumulated text, so memory use does not grow with the stream.
type Matcher struct {
	pattern string
	failure []int // KMP failure function over pattern

	state     int // length of the longest pattern prefix that ends the stream
	processed int
	matched   bool
}

// New creates a Matcher looking for pattern.
func New(pattern string) *Matcher {
	return &Matcher{
		pattern: pattern,
		failure: buildFailure(pattern),
	}
}

// Pattern returns the literal the matcher is looking for.
func (m *Matcher) Pattern() string {
	return m.pattern
}

// Feed appends text to the stream. It returns true exactly once: on the call
// during which the pattern first appears in the stream. Later calls return
// false until Reset.
func (m *Matcher) Feed(text string) bool {
	if m.matched {
		m.processed += len(text)
		return false
	}
	if len(m.pattern) == 0 {
		m.processed += len(text)
		m.matched = true
		return true
	}

	for i := 0; i < len(text); i++ {
		m.processed++
		c := text[i]
		for m.state > 0 && m.pattern[m.state] != c {
			m.state = m.failure[m.state-1]
		}
		if m.pattern[m.state] == c {
			m.state++
		}
		if m.state == len(m.pattern) {
			m.matched = true
			m.processed += len(text) - i - 1
			return true
		}
	}
	return false
}

// Matched reports whether the pattern has been seen since the last Reset.
func (m *Matcher) Matched() bool {
	return m.matched
}

// Processed returns the number of bytes fed since the last Reset.
func (m *Matcher) Processed() int {
	return m.processed
}

// Reset forgets the stream but keeps the pattern.
func (m *Matcher) Reset() {
	m.state = 0
	m.processed = 0
	m.matched = false
}

// buildFailure computes, for each prefix of p, the length of its longest
// proper prefix that is also a suffix.
func buildFailure(p string) []int {
	f := make([]int, len(p))
	k := 0
	for i := 1; i < len(p); i++ {
		for k > 0 && p[i] != p[k] {
			k = f[k-1]
		}
		if p[i] == p[k] {
			k++
		}
		f[i] = k
	}
	return f
}
