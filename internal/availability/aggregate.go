package availability

import (
	"sort"

	"github.com/example/peer-scheduler/internal/persistence"
)

// Cell addresses one hour on one date.
type Cell struct {
	Date string `json:"date"`
	Hour int    `json:"hour"`
}

// Domain is the legal date and hour range of a poll. HourEnd is exclusive.
type Domain struct {
	Dates     []string
	HourStart int
	HourEnd   int
}

// DomainOf returns the domain declared by poll.
func DomainOf(poll persistence.Poll) Domain {
	return Domain{Dates: poll.Dates, HourStart: poll.HourStart, HourEnd: poll.HourEnd}
}

// Contains reports whether the cell lies inside the domain.
func (d Domain) Contains(date string, hour int) bool {
	if hour < d.HourStart || hour >= d.HourEnd {
		return false
	}
	for _, candidate := range d.Dates {
		if candidate == date {
			return true
		}
	}
	return false
}

// Hours lists the hours of the domain in ascending order.
func (d Domain) Hours() []int {
	if d.HourEnd <= d.HourStart {
		return nil
	}
	hours := make([]int, 0, d.HourEnd-d.HourStart)
	for h := d.HourStart; h < d.HourEnd; h++ {
		hours = append(hours, h)
	}
	return hours
}

// Index groups slot facts by cell. Adding the same owner twice to a cell is a
// no-op, so arrival order of facts never changes the result.
type Index struct {
	owners map[Cell]map[string]struct{}
}

// NewIndex builds an index over facts.
func NewIndex(facts []persistence.SlotFact) *Index {
	ix := &Index{owners: make(map[Cell]map[string]struct{})}
	for _, fact := range facts {
		ix.Add(fact.OwnerID, fact.Date, fact.Hour)
	}
	return ix
}

// Add records owner as available at the cell.
func (ix *Index) Add(owner, date string, hour int) {
	cell := Cell{Date: date, Hour: hour}
	set, ok := ix.owners[cell]
	if !ok {
		set = make(map[string]struct{})
		ix.owners[cell] = set
	}
	set[owner] = struct{}{}
}

// Remove drops owner from the cell.
func (ix *Index) Remove(owner, date string, hour int) {
	cell := Cell{Date: date, Hour: hour}
	if set, ok := ix.owners[cell]; ok {
		delete(set, owner)
		if len(set) == 0 {
			delete(ix.owners, cell)
		}
	}
}

// Has reports whether owner is available at the cell.
func (ix *Index) Has(owner, date string, hour int) bool {
	_, ok := ix.owners[Cell{Date: date, Hour: hour}][owner]
	return ok
}

// CountAt returns the number of distinct owners at the cell.
func (ix *Index) CountAt(date string, hour int) int {
	return len(ix.owners[Cell{Date: date, Hour: hour}])
}

// OwnersAt returns the owners at the cell sorted by ID.
func (ix *Index) OwnersAt(date string, hour int) []string {
	set := ix.owners[Cell{Date: date, Hour: hour}]
	if len(set) == 0 {
		return nil
	}
	owners := make([]string, 0, len(set))
	for owner := range set {
		owners = append(owners, owner)
	}
	sort.Strings(owners)
	return owners
}

// MaxCount returns the highest count over every cell of the domain. Facts
// outside the domain do not influence the scale.
func (ix *Index) MaxCount(domain Domain) int {
	highest := 0
	for cell, set := range ix.owners {
		if domain.Contains(cell.Date, cell.Hour) && len(set) > highest {
			highest = len(set)
		}
	}
	return highest
}

// Intensity returns count / max(1, MaxCount(domain)), always within [0, 1].
func (ix *Index) Intensity(domain Domain, date string, hour int) float64 {
	return intensity(ix.CountAt(date, hour), ix.MaxCount(domain))
}

func intensity(count, highest int) float64 {
	if highest < 1 {
		highest = 1
	}
	return float64(count) / float64(highest)
}
