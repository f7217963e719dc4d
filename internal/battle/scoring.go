package battle

// StreakAlertAt is the streak length that triggers the transient streak
// banner on clients. Presentation only, never stored.
const StreakAlertAt = 3

type ScoreResult struct {
	Points int
	Streak int
	Alert  bool
}

// Score computes the points earned for one answer. Wrong answers earn
// nothing and reset the streak; correct answers earn a base point plus a
// speed bonus and a streak bonus. Pure: wall-clock has already been reduced
// to timeRemaining by the caller.
func Score(correct bool, timeRemaining, streak int) ScoreResult {
	if !correct {
		return ScoreResult{}
	}
	if timeRemaining < 0 {
		timeRemaining = 0
	}
	next := streak + 1
	return ScoreResult{
		Points: 1 + timeRemaining/3 + streak/2,
		Streak: next,
		Alert:  next >= StreakAlertAt,
	}
}
