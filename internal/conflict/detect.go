// Package conflict finds overbooked nights across reconciled reservations.
package conflict

import (
	"cmp"
	"container/heap"
	"slices"
	"time"

	"github.com/Guizzs26/go-channel-sync/internal/models"
)

// openHeap holds the reservations still occupying the property, ordered by check-out
type openHeap []models.Reservation

func (h openHeap) Len() int           { return len(h) }
func (h openHeap) Less(i, j int) bool { return h[i].CheckOut.Before(h[j].CheckOut) }
func (h openHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *openHeap) Push(x any)        { *h = append(*h, x.(models.Reservation)) }
func (h *openHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Detect returns one report per (property, night) occupied by more than one non-cancelled
// reservation. Reports are ordered by property then date. Checkout day is not an occupied night.
func Detect(reservations []models.Reservation) []models.ConflictReport {
	byProperty := make(map[string][]models.Reservation)
	for _, r := range reservations {
		if r.Status == models.StatusCancelled {
			continue
		}
		r.CheckIn = models.TruncateDate(r.CheckIn)
		r.CheckOut = models.TruncateDate(r.CheckOut)
		if !r.CheckIn.Before(r.CheckOut) {
			continue
		}
		byProperty[r.PropertyID] = append(byProperty[r.PropertyID], r)
	}

	properties := make([]string, 0, len(byProperty))
	for p := range byProperty {
		properties = append(properties, p)
	}
	slices.Sort(properties)

	var reports []models.ConflictReport
	for _, p := range properties {
		reports = append(reports, detectProperty(p, byProperty[p])...)
	}
	return reports
}

func detectProperty(propertyID string, rs []models.Reservation) []models.ConflictReport {
	slices.SortFunc(rs, func(a, b models.Reservation) int {
		return cmp.Or(
			a.CheckIn.Compare(b.CheckIn),
			a.CheckOut.Compare(b.CheckOut),
			cmp.Compare(a.ID, b.ID),
		)
	})

	// night -> reservations occupying it, only for nights with an overlap
	nights := make(map[time.Time]map[string]models.Reservation)
	mark := func(day time.Time, a, b models.Reservation) {
		set, ok := nights[day]
		if !ok {
			set = make(map[string]models.Reservation)
			nights[day] = set
		}
		set[key(a)] = a
		set[key(b)] = b
	}

	open := &openHeap{}
	for _, r := range rs {
		for open.Len() > 0 && !(*open)[0].CheckOut.After(r.CheckIn) {
			heap.Pop(open)
		}
		for _, o := range *open {
			end := o.CheckOut
			if r.CheckOut.Before(end) {
				end = r.CheckOut
			}
			for day := r.CheckIn; day.Before(end); day = day.AddDate(0, 0, 1) {
				mark(day, o, r)
			}
		}
		heap.Push(open, r)
	}

	days := make([]time.Time, 0, len(nights))
	for d := range nights {
		days = append(days, d)
	}
	slices.SortFunc(days, time.Time.Compare)

	reports := make([]models.ConflictReport, 0, len(days))
	for _, d := range days {
		reports = append(reports, buildReport(propertyID, d, nights[d]))
	}
	return reports
}

func buildReport(propertyID string, day time.Time, set map[string]models.Reservation) models.ConflictReport {
	members := make([]models.Reservation, 0, len(set))
	for _, r := range set {
		members = append(members, r)
	}
	slices.SortFunc(members, func(a, b models.Reservation) int {
		return cmp.Or(a.CheckIn.Compare(b.CheckIn), cmp.Compare(key(a), key(b)))
	})

	report := models.ConflictReport{PropertyID: propertyID, Date: day}
	var newest models.Reservation
	for i, r := range members {
		report.Reservations = append(report.Reservations, models.ConflictEntry{
			ID:         r.ID,
			ExternalID: r.ExternalID,
			CheckIn:    r.CheckIn,
			CheckOut:   r.CheckOut,
			Status:     r.Status,
			Channel:    r.Channel,
			CreatedAt:  r.CreatedAt,
		})
		if i == 0 || r.CreatedAt.After(newest.CreatedAt) ||
			(r.CreatedAt.Equal(newest.CreatedAt) && key(r) > key(newest)) {
			newest = r
		}
	}
	report.SuggestedCancellation = key(newest)
	return report
}

// key identifies a reservation in a report; store rows have an ID, decoded-only ones fall back to the channel key
func key(r models.Reservation) string {
	if r.ID != "" {
		return r.ID
	}
	return string(r.Channel) + ":" + r.ExternalID
}
