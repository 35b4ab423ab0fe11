package transferview

import "time"

// UI constants
const (
	// progressBarWidth is the width of the interactive progress bar
	progressBarWidth = 50

	// fastProgressUpdate is the interactive progress refresh interval
	fastProgressUpdate = 10 * time.Millisecond

	// simpleBarWidth is the width of the plain-text progress bar
	simpleBarWidth = 20
)
