package state

import (
	"fmt"
	"time"
)

type TimingEntry struct {
	Phase    string    `json:"phase"`
	Attempt  int       `json:"attempt"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Duration string    `json:"duration"`
}

type Timing struct {
	Entries []TimingEntry `json:"entries"`
	Total   string        `json:"total"`
}

// BuildTiming derives per-call timing from a run's history.
func BuildTiming(history []HistoryEntry) *Timing {
	t := &Timing{Entries: make([]TimingEntry, 0, len(history))}
	var total time.Duration
	for _, h := range history {
		t.Entries = append(t.Entries, TimingEntry{
			Phase:    h.Phase,
			Attempt:  h.Attempt,
			Start:    h.Time,
			End:      h.Time.Add(h.Duration),
			Duration: FormatDuration(h.Duration),
		})
		total += h.Duration
	}
	t.Total = FormatDuration(total)
	return t
}

// PhaseDuration returns the formatted duration of the last call to phase, or "".
func (t *Timing) PhaseDuration(phase string) string {
	for i := len(t.Entries) - 1; i >= 0; i-- {
		if t.Entries[i].Phase == phase {
			return t.Entries[i].Duration
		}
	}
	return ""
}

// FormatDuration renders d as "1m 05s", or milliseconds for sub-second calls.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dm %02ds", m, s)
}
