// Package delta turns a cumulative transcript into newly-arrived suffixes.
package delta

import "unicode/utf8"

// Cursor tracks how much of a conversation's cumulative text has been
// scanned. It never moves backward, so redelivering text that was already
// seen (or a shorter, out-of-order copy) yields an empty delta.
//
// A Cursor is not safe for concurrent use; each conversation owns one.
type Cursor struct {
	pos int
}

// Advance returns the part of cumulative beyond the cursor and moves the
// cursor to the end of cumulative. The first call returns the whole text.
func (c *Cursor) Advance(cumulative string) string {
	if len(cumulative) <= c.pos {
		return ""
	}
	start := c.pos
	// Upstream may revise earlier words; never split a multi-byte rune.
	for start < len(cumulative) && !utf8.RuneStart(cumulative[start]) {
		start++
	}
	c.pos = len(cumulative)
	return cumulative[start:]
}

// Position returns the number of bytes already scanned.
func (c *Cursor) Position() int {
	return c.pos
}
