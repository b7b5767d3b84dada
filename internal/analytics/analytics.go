package analytics

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"chatsync/internal/storage"
)

// DailyStats summarizes one day of the sync journal.
type DailyStats struct {
	Date          string                    `json:"date"`
	TotalEvents   int                       `json:"total_events"`
	Failures      int                       `json:"failures"`
	ByType        map[storage.EventType]int `json:"by_type"`
	FetchFailures map[string]int            `json:"fetch_failures_by_feed"`
	Peers         map[string]PeerStats      `json:"peers"`
}

// PeerStats is the per-conversation breakdown.
type PeerStats struct {
	Peer     string `json:"peer"`
	Events   int    `json:"events"`
	Sent     int    `json:"sent"`
	Uploaded int    `json:"uploaded"`
	Failures int    `json:"failures"`
}

func isFailure(t storage.EventType) bool {
	switch t {
	case storage.FetchFailed, storage.PushFailed, storage.SendFailed, storage.EmitFailed, storage.UploadFailed:
		return true
	}
	return false
}

// Summarize counts the events that fall on day in day's location.
func Summarize(events []storage.Event, day time.Time) *DailyStats {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.AddDate(0, 0, 1)

	stats := &DailyStats{
		Date:          start.Format("2006-01-02"),
		ByType:        make(map[storage.EventType]int),
		FetchFailures: make(map[string]int),
		Peers:         make(map[string]PeerStats),
	}
	for _, ev := range events {
		if ev.Timestamp.Before(start) || !ev.Timestamp.Before(end) {
			continue
		}
		stats.TotalEvents++
		stats.ByType[ev.Type]++

		ps, ok := stats.Peers[ev.Peer]
		if !ok {
			ps = PeerStats{Peer: ev.Peer}
		}
		ps.Events++
		switch ev.Type {
		case storage.Sent:
			ps.Sent++
		case storage.Uploaded:
			ps.Uploaded++
		case storage.FetchFailed:
			stats.FetchFailures[ev.Feed]++
		}
		if isFailure(ev.Type) {
			stats.Failures++
			ps.Failures++
		}
		stats.Peers[ev.Peer] = ps
	}
	return stats
}

// Report renders the stats as plain text.
func (ds *DailyStats) Report() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Sync activity for %s\n", ds.Date)
	fmt.Fprintf(&b, "  events: %d, failures: %d\n", ds.TotalEvents, ds.Failures)

	if len(ds.ByType) > 0 {
		b.WriteString("By type:\n")
		types := make([]string, 0, len(ds.ByType))
		for t := range ds.ByType {
			types = append(types, string(t))
		}
		sort.Strings(types)
		for _, t := range types {
			fmt.Fprintf(&b, "  %-15s %d\n", t, ds.ByType[storage.EventType(t)])
		}
	}
	if len(ds.FetchFailures) > 0 {
		b.WriteString("Fetch failures by feed:\n")
		feeds := make([]string, 0, len(ds.FetchFailures))
		for f := range ds.FetchFailures {
			feeds = append(feeds, f)
		}
		sort.Strings(feeds)
		for _, f := range feeds {
			fmt.Fprintf(&b, "  %-15s %d\n", f, ds.FetchFailures[f])
		}
	}
	if len(ds.Peers) > 0 {
		fmt.Fprintf(&b, "Conversations (%d):\n", len(ds.Peers))
		peers := make([]string, 0, len(ds.Peers))
		for p := range ds.Peers {
			peers = append(peers, p)
		}
		sort.Strings(peers)
		for _, p := range peers {
			ps := ds.Peers[p]
			fmt.Fprintf(&b, "  %s: %d sent, %d voice notes, %d failures\n", p, ps.Sent, ps.Uploaded, ps.Failures)
		}
	}
	return b.String()
}

func (ds *DailyStats) ToJSON() (string, error) {
	data, err := json.MarshalIndent(ds, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
