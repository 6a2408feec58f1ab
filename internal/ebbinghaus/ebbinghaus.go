// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package ebbinghaus implements the review intervals of the Ebbinghaus
// forgetting curve.
//
// A material moves through numbered stages. Each successful review advances it
// to the next stage, which is due later than the previous one:
//
//	0  immediate   right away
//	1  short_term  20 minutes after the material was added
//	2  evening     at 20:00 the same day
//	3  day_1       next day at 07:00
//	4  day_3       3 days later at 07:00
//	5  day_7       7 days later at 07:00
//	6  day_14      14 days later at 07:00
//	7  day_30      30 days later at 07:00
//	8  monthly     every 30 days at 07:00
//
// A failed review moves the material one stage back and schedules it for the
// next morning.
package ebbinghaus

import (
	"time"

	"go.astrophena.name/ebbinghaus/internal/tz"
)

// Kinds of scheduled reviews.
const (
	Immediate = "immediate"
	ShortTerm = "short_term"
	Evening   = "evening"
	Day1      = "day_1"
	Day3      = "day_3"
	Day7      = "day_7"
	Day14     = "day_14"
	Day30     = "day_30"
	Monthly   = "monthly"
)

var (
	// IntradayKinds are the reviews that happen on the day a material was added.
	IntradayKinds = []string{Immediate, ShortTerm, Evening}
	// LongTermKinds are the reviews that happen on later days.
	LongTermKinds = []string{Day1, Day3, Day7, Day14, Day30, Monthly}
)

// Intraday reports whether kind is one of [IntradayKinds].
func Intraday(kind string) bool {
	switch kind {
	case Immediate, ShortTerm, Evening:
		return true
	}
	return false
}

var (
	// Morning is when long-term reviews are due.
	Morning = tz.Clock{Hour: 7}
	// Night is when the evening review is due.
	Night = tz.Clock{Hour: 20}
)

// ShortTermDelay is how long after adding a material the short-term review is
// due.
const ShortTermDelay = 20 * time.Minute

// MaxStage is the last stage. Materials stay there forever.
const MaxStage Stage = 8

// Stage is a position of a material on the forgetting curve.
type Stage int

var names = [...]string{Immediate, ShortTerm, Evening, Day1, Day3, Day7, Day14, Day30, Monthly}

// Name returns the kind of review that belongs to the stage.
func (s Stage) Name() string {
	switch {
	case s < 0:
		return "unknown"
	case s >= MaxStage:
		return Monthly
	}
	return names[s]
}

var descriptions = [...]string{
	"Сразу",
	"Через 20 минут",
	"Вечером в 20:00",
	"Завтра в 07:00",
	"Через 3 дня в 07:00",
	"Через 7 дней в 07:00",
	"Через 14 дней в 07:00",
	"Через 30 дней в 07:00",
	"Раз в месяц в 07:00",
}

// Description returns a human-readable description of the stage in Russian.
func (s Stage) Description() string {
	switch {
	case s < 0:
		return "Неизвестная стадия"
	case s >= MaxStage:
		return descriptions[MaxStage]
	}
	return descriptions[s]
}

// longTermDays maps stages 3 and later to their offset in days from the
// material creation date.
var longTermDays = map[Stage]int{3: 1, 4: 3, 5: 7, 6: 14, 7: 30}

// IntervalDays returns how many days after the base date a review at stage s
// is due. It is zero for intraday stages.
func IntervalDays(s Stage) int {
	if s >= MaxStage {
		return 30
	}
	return longTermDays[s]
}

// Next returns when a material added at created should be reviewed after a
// successful review at stage, and the stage of that review. All calendar math
// happens in loc.
//
// Starting from stage 7 the material enters the monthly phase: the next review
// is 30 days after lastSuccess (or created, if lastSuccess is nil).
func Next(created time.Time, stage Stage, loc *time.Location, lastSuccess *time.Time) (time.Time, Stage) {
	created = created.In(loc)
	date := tz.Date(created, loc)

	switch {
	case stage <= 0:
		return created.Add(ShortTermDelay), 1
	case stage == 1:
		next := tz.At(date, Night, loc)
		if !next.After(created) {
			next = tz.At(tz.AddDays(date, 1), Night, loc)
		}
		return next, 2
	case stage < 7:
		next := stage + 1
		return tz.At(tz.AddDays(date, longTermDays[next]), Morning, loc), next
	}

	base := created
	if lastSuccess != nil {
		base = *lastSuccess
	}
	return tz.At(tz.AddDays(tz.Date(base, loc), 30), Morning, loc), MaxStage
}

// Failed returns when a material that failed a review at stage should be
// reviewed again: the next morning after at, one stage back.
func Failed(at time.Time, stage Stage, loc *time.Location) (time.Time, Stage) {
	return tz.At(tz.AddDays(tz.Date(at, loc), 1), Morning, loc), max(0, stage-1)
}

// SuccessRate returns the share of successful reviews, from 0 to 1.
func SuccessRate(successful, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(successful) / float64(total)
}
