package battle

import "time"

// QuestionDuration is the nominal time window per question.
const QuestionDuration = 15 * time.Second

// NewProgress starts the clock for a question: the deadline is absolute so
// every client derives the same remaining time regardless of when its own
// ticker fires.
func NewProgress(index int, now int64) Progress {
	return Progress{Index: index, Deadline: now + QuestionDuration.Milliseconds()}
}

// RemainingSeconds reduces the deadline to whole seconds left, clamped at
// zero. Rounds up so a freshly started question reports the full window.
func RemainingSeconds(deadline, now int64) int {
	d := deadline - now
	if d <= 0 {
		return 0
	}
	return int((d + 999) / 1000)
}

// Expired reports whether the question's window has elapsed. Any client
// observing this may attempt the advance; the compare-and-swap on Progress
// makes concurrent attempts collapse to one.
func (p Progress) Expired(now int64) bool {
	return now >= p.Deadline
}
