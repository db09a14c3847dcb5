package pipeline

import "time"

// Observer receives progress events for display. Calls happen on the run's
// goroutine.
type Observer interface {
	PhaseStart(name string, attempt int)
	PhaseEnd(name, outcome string, d time.Duration, detail string)
	LoopBack(attempt, max int, diagnostic string)
}

type nopObserver struct{}

func (nopObserver) PhaseStart(string, int)                         {}
func (nopObserver) PhaseEnd(string, string, time.Duration, string) {}
func (nopObserver) LoopBack(int, int, string)                      {}
