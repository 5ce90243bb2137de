// Package heading holds the auxiliary heading sample type consumed
// by the turn detector. This heading source is independent of the
// GNSS fix's own heading field (see spec's data model) and is matched
// to GNSS fixes by wall-clock key string, not by timestamp equality.
package heading

// Sample is one auxiliary heading reading.
type Sample struct {
	Time       float64 // seconds
	HeadingDeg float64 // degrees, not yet normalized to [0, 360)
	Key        string  // wall-clock key, Y-M-D H:M:S (unpadded, as read)
}
