package models

import "time"

// Segment is one piece of recognised speech, offset from the start of the audio.
type Segment struct {
	UserID   string
	UserName string
	Offset   time.Duration
	Text     string
}

// EntryKind distinguishes the two sources merged into a timeline.
type EntryKind string

const (
	EntryEvent      EntryKind = "event"
	EntryTranscript EntryKind = "transcript"
)

// TimelineEntry is an event or a segment placed at an absolute time.
// Content is set for events; UserID, UserName and Text for transcripts.
type TimelineEntry struct {
	Timestamp time.Time
	Kind      EntryKind
	Content   string
	UserID    string
	UserName  string
	Text      string
}
