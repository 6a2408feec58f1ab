// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package ebbinghaus

import (
	"testing"
	"time"

	"go.astrophena.name/ebbinghaus/internal/testutil"
)

func yekaterinburg(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Yekaterinburg")
	if err != nil {
		t.Fatal(err)
	}
	return loc
}

func TestNext(t *testing.T) {
	t.Parallel()

	loc := yekaterinburg(t)
	created := time.Date(2025, 3, 10, 10, 0, 0, 0, loc)
	lastSuccess := time.Date(2025, 5, 2, 21, 15, 0, 0, loc)

	cases := map[string]struct {
		created     time.Time
		stage       Stage
		lastSuccess *time.Time
		want        time.Time
		wantStage   Stage
	}{
		"immediate to short term": {
			created:   created,
			stage:     0,
			want:      time.Date(2025, 3, 10, 10, 20, 0, 0, loc),
			wantStage: 1,
		},
		"short term to evening": {
			created:   created,
			stage:     1,
			want:      time.Date(2025, 3, 10, 20, 0, 0, 0, loc),
			wantStage: 2,
		},
		"short term after 20:00 moves to the next day": {
			created:   time.Date(2025, 3, 10, 21, 30, 0, 0, loc),
			stage:     1,
			want:      time.Date(2025, 3, 11, 20, 0, 0, 0, loc),
			wantStage: 2,
		},
		"short term exactly at 20:00 moves to the next day": {
			created:   time.Date(2025, 3, 10, 20, 0, 0, 0, loc),
			stage:     1,
			want:      time.Date(2025, 3, 11, 20, 0, 0, 0, loc),
			wantStage: 2,
		},
		"evening to day 1": {
			created:   created,
			stage:     2,
			want:      time.Date(2025, 3, 11, 7, 0, 0, 0, loc),
			wantStage: 3,
		},
		"day 1 to day 3": {
			created:   created,
			stage:     3,
			want:      time.Date(2025, 3, 13, 7, 0, 0, 0, loc),
			wantStage: 4,
		},
		"day 3 to day 7": {
			created:   created,
			stage:     4,
			want:      time.Date(2025, 3, 17, 7, 0, 0, 0, loc),
			wantStage: 5,
		},
		"day 7 to day 14": {
			created:   created,
			stage:     5,
			want:      time.Date(2025, 3, 24, 7, 0, 0, 0, loc),
			wantStage: 6,
		},
		"day 14 to day 30": {
			created:   created,
			stage:     6,
			want:      time.Date(2025, 4, 9, 7, 0, 0, 0, loc),
			wantStage: 7,
		},
		"day 30 without last success": {
			created:   created,
			stage:     7,
			want:      time.Date(2025, 4, 9, 7, 0, 0, 0, loc),
			wantStage: 8,
		},
		"monthly counts from last success": {
			created:     created,
			stage:       8,
			lastSuccess: &lastSuccess,
			want:        time.Date(2025, 6, 1, 7, 0, 0, 0, loc),
			wantStage:   8,
		},
		"created in UTC uses the local date": {
			// 20:00 UTC on March 10 is 01:00 on March 11 in Yekaterinburg.
			created:   time.Date(2025, 3, 10, 20, 0, 0, 0, time.UTC),
			stage:     2,
			want:      time.Date(2025, 3, 12, 7, 0, 0, 0, loc),
			wantStage: 3,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, gotStage := Next(tc.created, tc.stage, loc, tc.lastSuccess)
			if !got.Equal(tc.want) {
				t.Fatalf("Next: got %v, want %v", got, tc.want)
			}
			testutil.AssertEqual(t, gotStage, tc.wantStage)
		})
	}
}

func TestFailed(t *testing.T) {
	t.Parallel()

	loc := yekaterinburg(t)
	at := time.Date(2025, 3, 10, 23, 59, 0, 0, loc)
	tomorrow := time.Date(2025, 3, 11, 7, 0, 0, 0, loc)

	cases := map[Stage]Stage{
		0: 0,
		1: 0,
		3: 2,
		8: 7,
	}
	for stage, wantStage := range cases {
		got, gotStage := Failed(at, stage, loc)
		if !got.Equal(tomorrow) {
			t.Fatalf("Failed(%d): got %v, want %v", stage, got, tomorrow)
		}
		testutil.AssertEqual(t, gotStage, wantStage)
	}
}

func TestStageName(t *testing.T) {
	t.Parallel()

	cases := map[Stage]string{
		-1:  "unknown",
		0:   Immediate,
		1:   ShortTerm,
		2:   Evening,
		3:   Day1,
		4:   Day3,
		5:   Day7,
		6:   Day14,
		7:   Day30,
		8:   Monthly,
		9:   Monthly,
		100: Monthly,
	}
	for stage, want := range cases {
		testutil.AssertEqual(t, stage.Name(), want)
	}
}

func TestStageDescription(t *testing.T) {
	t.Parallel()

	cases := map[Stage]string{
		-5: "Неизвестная стадия",
		0:  "Сразу",
		2:  "Вечером в 20:00",
		7:  "Через 30 дней в 07:00",
		8:  "Раз в месяц в 07:00",
		42: "Раз в месяц в 07:00",
	}
	for stage, want := range cases {
		testutil.AssertEqual(t, stage.Description(), want)
	}
}

func TestIntervalDays(t *testing.T) {
	t.Parallel()

	want := []int{0, 0, 0, 1, 3, 7, 14, 30, 30, 30}
	for i, w := range want {
		testutil.AssertEqual(t, IntervalDays(Stage(i)), w)
	}
}

func TestIntraday(t *testing.T) {
	t.Parallel()

	for _, kind := range IntradayKinds {
		testutil.AssertEqual(t, Intraday(kind), true)
	}
	for _, kind := range LongTermKinds {
		testutil.AssertEqual(t, Intraday(kind), false)
	}
}

func TestSuccessRate(t *testing.T) {
	t.Parallel()

	testutil.AssertEqual(t, SuccessRate(0, 0), 0.0)
	testutil.AssertEqual(t, SuccessRate(3, 4), 0.75)
}
