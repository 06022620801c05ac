package server

import "time"

// All civil dates in the app are computed against a fixed target zone
// (KST by default). The serving machine's local zone is never consulted.
const defaultZoneOffsetMinutes = 540

// civilDate converts an instant to its YYYY-MM-DD calendar date in the
// target zone.
func civilDate(t time.Time, zoneOffsetMinutes int) string {
	return t.UTC().Add(time.Duration(zoneOffsetMinutes) * time.Minute).Format("2006-01-02")
}

// localHour returns the hour [0,24) of the instant in the target zone.
func localHour(t time.Time, zoneOffsetMinutes int) int {
	return t.UTC().Add(time.Duration(zoneOffsetMinutes) * time.Minute).Hour()
}

const (
	bucketMorning   = "morning"
	bucketAfternoon = "afternoon"
	bucketEvening   = "evening"
	bucketNight     = "night"
)

// hourBucket assigns an instant to one of four named day periods using
// half-open local-hour ranges: morning [6,12), afternoon [12,18),
// evening [18,22), night [22,24)+[0,6).
func hourBucket(t time.Time, zoneOffsetMinutes int) string {
	hour := localHour(t, zoneOffsetMinutes)
	switch {
	case hour >= 6 && hour < 12:
		return bucketMorning
	case hour >= 12 && hour < 18:
		return bucketAfternoon
	case hour >= 18 && hour < 22:
		return bucketEvening
	default:
		return bucketNight
	}
}

type timeDistribution struct {
	Morning   int `json:"morning"`
	Afternoon int `json:"afternoon"`
	Evening   int `json:"evening"`
	Night     int `json:"night"`
}

func (d *timeDistribution) add(bucket string) {
	switch bucket {
	case bucketMorning:
		d.Morning++
	case bucketAfternoon:
		d.Afternoon++
	case bucketEvening:
		d.Evening++
	case bucketNight:
		d.Night++
	}
}
