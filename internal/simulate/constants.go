package simulate

import "time"

// Worker configuration constants.
const (
	WorkerChannelMultiplier = 2
)

// Runner configuration constants.
const (
	DrainPollInterval    = 200 * time.Millisecond
	PercentageMultiplier = 100
)

// Layout generation bounds, as fractions of the page.
const (
	minFieldWidth  = 0.08
	maxFieldWidth  = 0.30
	minFieldHeight = 0.015
	maxFieldHeight = 0.04
)
