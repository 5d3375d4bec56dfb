package analyzer

import (
	"fmt"

	"secuflow/pkg/models"
)

const (
	dominantEventRatio = 0.4
	dominantPairRatio  = 0.7
)

// Detect applies the three threshold rules to a summary. Every rule is evaluated,
// so up to three incidents are returned, ordered by rule id.
func Detect(s models.Summary) []models.Incident {
	incidents := []models.Incident{}

	total := s.TotalEventsAnalyzed
	if total <= 0 {
		return incidents
	}

	if len(s.TopEventIDs) > 0 {
		top1 := s.TopEventIDs[0]
		ratio := float64(top1.Count) / float64(total)
		if ratio > dominantEventRatio {
			incidents = append(incidents, models.Incident{
				ID:       1,
				Severity: models.SeverityMedium,
				Reason: fmt.Sprintf("EventId %s accounts for %d of %d events (~%s).",
					top1.EventID, top1.Count, total, percent(ratio)),
				RelatedEventIDs: []string{top1.EventID},
			})
		}
	}

	if len(s.TopEventIDs) >= 2 {
		top1, top2 := s.TopEventIDs[0], s.TopEventIDs[1]
		combined := top1.Count + top2.Count
		ratio := float64(combined) / float64(total)
		if ratio > dominantPairRatio {
			incidents = append(incidents, models.Incident{
				ID:       2,
				Severity: models.SeverityHigh,
				Reason: fmt.Sprintf("EventIds %s and %s together account for %d of %d events (~%s).",
					top1.EventID, top2.EventID, combined, total, percent(ratio)),
				RelatedEventIDs: []string{top1.EventID, top2.EventID},
			})
		}
	}

	if len(s.TopSources) == 1 && s.TopSources[0].Source == models.Unknown {
		related := make([]string, 0, len(s.TopEventIDs))
		for _, e := range s.TopEventIDs {
			related = append(related, e.EventID)
		}
		incidents = append(incidents, models.Incident{
			ID:       3,
			Severity: models.SeverityLow,
			Reason: "All recent events are from 'unknown' source. " +
				"This may indicate missing or incomplete log source tags.",
			RelatedEventIDs: related,
		})
	}

	return incidents
}

func percent(ratio float64) string {
	return fmt.Sprintf("%.0f%%", ratio*100)
}
