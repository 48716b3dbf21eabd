// Package cmg aggregates raw coordinator readings into hourly values.
package cmg

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/hbsenergia/cmgtrack/internal/models"
)

// WeightedHourly computes the coverage-weighted mean of the points that
// fall inside [hourStart, hourStart+duration). Each point is weighted by
// the span of time until the next point (the first point also covers the
// gap back to the bucket start), so irregular reporting intervals do not
// skew the average. The result is rounded to four decimal places.
func WeightedHourly(points []models.CMgPoint, hourStart time.Time, duration time.Duration) (float64, error) {
	hourEnd := hourStart.Add(duration)

	var inBucket []models.CMgPoint
	for _, p := range points {
		if !p.At.Before(hourStart) && p.At.Before(hourEnd) {
			inBucket = append(inBucket, p)
		}
	}
	if len(inBucket) == 0 {
		return 0, fmt.Errorf("no points in [%s, %s)", hourStart.Format("2006-01-02 15:04"), hourEnd.Format("15:04"))
	}

	sort.Slice(inBucket, func(i, j int) bool { return inBucket[i].At.Before(inBucket[j].At) })

	total := duration.Seconds()
	var sum float64
	for i, p := range inBucket {
		var spanEnd float64
		if i+1 < len(inBucket) {
			spanEnd = inBucket[i+1].At.Sub(hourStart).Seconds()
		} else {
			spanEnd = total
		}
		var spanStart float64
		if i > 0 {
			spanStart = p.At.Sub(hourStart).Seconds()
		}
		sum += (spanEnd - spanStart) / total * p.Value
	}

	return math.Round(sum*10000) / 10000, nil
}
