// Package timeline interleaves metadata events and transcript segments.
package timeline

import (
	"sort"

	"protoscript/internal/models"
)

// Merge returns every event and segment of a recording ordered by absolute time.
// Segments are anchored at meta.StartTime. Entries with equal timestamps keep
// their input order: events first, then segments, each in the order given.
func Merge(meta models.Meta, segments []models.Segment) []models.TimelineEntry {
	entries := make([]models.TimelineEntry, 0, len(meta.Events)+len(segments))
	for _, ev := range meta.Events {
		entries = append(entries, models.TimelineEntry{
			Timestamp: ev.Timestamp,
			Kind:      models.EntryEvent,
			Content:   ev.Message,
		})
	}
	for _, seg := range segments {
		entries = append(entries, models.TimelineEntry{
			Timestamp: meta.StartTime.Add(seg.Offset),
			Kind:      models.EntryTranscript,
			UserID:    seg.UserID,
			UserName:  seg.UserName,
			Text:      seg.Text,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return entries
}
