package availability

import (
	"sort"

	"github.com/example/peer-scheduler/internal/persistence"
)

// CellSummary is the aggregated view of one cell.
type CellSummary struct {
	Date             string   `json:"date"`
	Hour             int      `json:"hour"`
	Count            int      `json:"count"`
	OwnerIDs         []string `json:"owner_ids"`
	OwnerNames       []string `json:"owner_names"`
	Intensity        float64  `json:"intensity"`
	SelectedByViewer bool     `json:"selected_by_viewer"`
}

// Grid is the full heatmap of a poll, cells ordered by date then hour.
type Grid struct {
	PollID       string        `json:"poll_id"`
	Dates        []string      `json:"dates"`
	Hours        []int         `json:"hours"`
	Cells        []CellSummary `json:"cells"`
	MaxCount     int           `json:"max_count"`
	Participants []string      `json:"participants"`
}

// Aggregate computes the grid for poll. names resolves owner IDs to display
// names; unknown IDs are shown as-is. viewer marks the viewer's own cells.
func Aggregate(poll persistence.Poll, facts []persistence.SlotFact, participants []string, names map[string]string, viewer string) Grid {
	domain := DomainOf(poll)
	index := NewIndex(facts)
	highest := index.MaxCount(domain)
	hours := domain.Hours()

	grid := Grid{
		PollID:       poll.ID,
		Dates:        append([]string(nil), domain.Dates...),
		Hours:        hours,
		Cells:        make([]CellSummary, 0, len(domain.Dates)*len(hours)),
		MaxCount:     highest,
		Participants: append([]string(nil), participants...),
	}

	for _, date := range domain.Dates {
		for _, hour := range hours {
			owners := index.OwnersAt(date, hour)
			grid.Cells = append(grid.Cells, CellSummary{
				Date:             date,
				Hour:             hour,
				Count:            len(owners),
				OwnerIDs:         owners,
				OwnerNames:       displayNames(owners, names),
				Intensity:        intensity(len(owners), highest),
				SelectedByViewer: viewer != "" && index.Has(viewer, date, hour),
			})
		}
	}
	return grid
}

// Cell returns the summary at date and hour.
func (g Grid) Cell(date string, hour int) (CellSummary, bool) {
	for _, cell := range g.Cells {
		if cell.Date == date && cell.Hour == hour {
			return cell, true
		}
	}
	return CellSummary{}, false
}

// BestSlots returns up to limit non-empty cells ordered by count descending,
// then date and hour ascending. A limit of zero or less returns all of them.
func BestSlots(grid Grid, limit int) []CellSummary {
	best := make([]CellSummary, 0, len(grid.Cells))
	for _, cell := range grid.Cells {
		if cell.Count > 0 {
			best = append(best, cell)
		}
	}

	sort.SliceStable(best, func(i, j int) bool {
		if best[i].Count != best[j].Count {
			return best[i].Count > best[j].Count
		}
		if best[i].Date != best[j].Date {
			return best[i].Date < best[j].Date
		}
		return best[i].Hour < best[j].Hour
	})

	if limit > 0 && len(best) > limit {
		best = best[:limit]
	}
	return best
}

func displayNames(ids []string, names map[string]string) []string {
	if len(ids) == 0 {
		return nil
	}
	resolved := make([]string, len(ids))
	for i, id := range ids {
		if name, ok := names[id]; ok && name != "" {
			resolved[i] = name
		} else {
			resolved[i] = id
		}
	}
	return resolved
}
