package trigger

// Matcher pairs a start pattern with a stop pattern.
type Matcher struct {
	Start Pattern
	Stop  Pattern
}

// Detection reports the earliest start and stop trigger found in a text.
type Detection struct {
	Start    Match
	HasStart bool
	Stop     Match
	HasStop  bool
}

// Detect scans text (normalized internally) for both trigger kinds.
func (m Matcher) Detect(text string) Detection {
	norm := Normalize(text)
	var d Detection
	if m.Start != nil {
		d.Start, d.HasStart = m.Start.Find(norm)
	}
	if m.Stop != nil {
		d.Stop, d.HasStop = m.Stop.Find(norm)
	}
	return d
}

// StopAfter returns the earliest stop trigger beginning at or after from.
func (m Matcher) StopAfter(norm string, from int) (Match, bool) {
	return FindFrom(m.Stop, norm, from)
}

// StartAfter returns the earliest start trigger beginning at or after from.
func (m Matcher) StartAfter(norm string, from int) (Match, bool) {
	return FindFrom(m.Start, norm, from)
}
