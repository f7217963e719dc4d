package battle

import "testing"

func TestScoreFormula(t *testing.T) {
	cases := []struct {
		name       string
		correct    bool
		remaining  int
		streak     int
		wantPoints int
		wantStreak int
		wantAlert  bool
	}{
		{name: "wrong answer resets streak", correct: false, remaining: 14, streak: 5, wantPoints: 0, wantStreak: 0},
		{name: "slow correct answer", correct: true, remaining: 0, streak: 0, wantPoints: 1, wantStreak: 1},
		{name: "fast correct answer", correct: true, remaining: 15, streak: 0, wantPoints: 6, wantStreak: 1},
		{name: "time and streak bonus combine", correct: true, remaining: 9, streak: 4, wantPoints: 6, wantStreak: 5, wantAlert: true},
		{name: "bonuses floor", correct: true, remaining: 8, streak: 3, wantPoints: 4, wantStreak: 4, wantAlert: true},
		{name: "third correct raises alert", correct: true, remaining: 2, streak: 2, wantPoints: 2, wantStreak: 3, wantAlert: true},
		{name: "second correct no alert", correct: true, remaining: 2, streak: 1, wantPoints: 1, wantStreak: 2},
		{name: "negative remaining clamps", correct: true, remaining: -3, streak: 0, wantPoints: 1, wantStreak: 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Score(tc.correct, tc.remaining, tc.streak)
			if got.Points != tc.wantPoints {
				t.Fatalf("points: got %d, want %d", got.Points, tc.wantPoints)
			}
			if got.Streak != tc.wantStreak {
				t.Fatalf("streak: got %d, want %d", got.Streak, tc.wantStreak)
			}
			if got.Alert != tc.wantAlert {
				t.Fatalf("alert: got %v, want %v", got.Alert, tc.wantAlert)
			}
		})
	}
}

func TestScoreIsDeterministic(t *testing.T) {
	for i := 0; i < 5; i++ {
		a := Score(true, 9, 4)
		b := Score(true, 9, 4)
		if a != b {
			t.Fatalf("same inputs gave %#v then %#v", a, b)
		}
	}
}
