package analyzer

import (
	"context"
	"fmt"
	"sort"

	"secuflow/pkg/models"
)

const (
	// DefaultWindow is the number of most recent records analyzed.
	DefaultWindow = 200
	// TopN bounds the top event id and top source lists.
	TopN = 5

	dominantShare = 0.3

	noteNoLogs     = "No logs available."
	noteNoDominant = "No dominant event type detected in the recent logs."
)

// RecordLoader loads the full ordered record set.
type RecordLoader interface {
	Load(ctx context.Context) ([]models.LogRecord, error)
}

// AnalyzeRecent loads every record and summarizes the last window of them.
func AnalyzeRecent(ctx context.Context, loader RecordLoader, window int) (models.Summary, error) {
	records, err := loader.Load(ctx)
	if err != nil {
		return models.Summary{}, err
	}
	return Summarize(records, window), nil
}

// Window returns the last n records in original order; n <= 0 means DefaultWindow.
func Window(records []models.LogRecord, n int) []models.LogRecord {
	if n <= 0 {
		n = DefaultWindow
	}
	if len(records) <= n {
		return records
	}
	return records[len(records)-n:]
}

// Summarize tallies event ids and sources over the recent window.
func Summarize(records []models.LogRecord, window int) models.Summary {
	if len(records) == 0 {
		return models.Summary{
			TotalEventsAnalyzed: 0,
			TopEventIDs:         []models.EventCount{},
			TopSources:          []models.SourceCount{},
			Notes:               []string{noteNoLogs},
		}
	}

	recent := Window(records, window)

	events := newTally()
	sources := newTally()
	for _, rec := range recent {
		events.add(rec.EventID())
		sources.add(rec.Source())
	}

	topEvents := make([]models.EventCount, 0, TopN)
	for _, e := range events.top(TopN) {
		topEvents = append(topEvents, models.EventCount{EventID: e.key, Count: e.count})
	}
	topSources := make([]models.SourceCount, 0, TopN)
	for _, e := range sources.top(TopN) {
		topSources = append(topSources, models.SourceCount{Source: e.key, Count: e.count})
	}

	var notes []string
	if len(topEvents) > 0 {
		top := topEvents[0]
		if float64(top.Count) > float64(len(recent))*dominantShare {
			notes = append(notes, fmt.Sprintf("EventId %s appears frequently (%d times in the last %d events).",
				top.EventID, top.Count, len(recent)))
		}
	}
	if len(notes) == 0 {
		notes = append(notes, noteNoDominant)
	}

	return models.Summary{
		TotalEventsAnalyzed: len(recent),
		TopEventIDs:         topEvents,
		TopSources:          topSources,
		Notes:               notes,
	}
}

type tallyEntry struct {
	key   string
	count int
}

// tally counts keys and remembers first-seen order for tie-breaking.
type tally struct {
	order  []string
	counts map[string]int
}

func newTally() *tally {
	return &tally{counts: make(map[string]int)}
}

func (t *tally) add(key string) {
	if _, ok := t.counts[key]; !ok {
		t.order = append(t.order, key)
	}
	t.counts[key]++
}

// top returns the n highest counts; equal counts keep first-seen order.
func (t *tally) top(n int) []tallyEntry {
	entries := make([]tallyEntry, 0, len(t.order))
	for _, k := range t.order {
		entries = append(entries, tallyEntry{key: k, count: t.counts[k]})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].count > entries[j].count
	})
	if len(entries) > n {
		entries = entries[:n]
	}
	return entries
}
