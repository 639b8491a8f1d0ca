package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// User is one participant of the recording. Channel is nil when the user has no track.
type User struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Channel *int   `json:"channel"`
}

// Event is a metadata event at an absolute time.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// Meta is the parsed meta.json of a job. Raw keeps the full document so
// templates can reach fields the pipeline does not interpret.
type Meta struct {
	StartTime time.Time
	EndTime   time.Time
	Users     map[string]User
	Events    []Event
	Raw       map[string]any
}

type metaDoc struct {
	StartTime *string `json:"start_time"`
	EndTime   *string `json:"end_time"`
	Users     map[string]struct {
		Name    string `json:"name"`
		Channel *int   `json:"channel"`
	} `json:"users"`
	Events []struct {
		Timestamp string `json:"timestamp"`
		Message   string `json:"message"`
	} `json:"events"`
}

// ParseMeta decodes and validates a meta document.
func ParseMeta(data []byte) (Meta, error) {
	var doc metaDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return Meta{}, fmt.Errorf("decode meta: %w", err)
	}
	if doc.StartTime == nil {
		return Meta{}, errors.New("meta: start_time is required")
	}
	if doc.EndTime == nil {
		return Meta{}, errors.New("meta: end_time is required")
	}

	var raw map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return Meta{}, fmt.Errorf("decode meta: %w", err)
	}

	start, err := ParseTimestamp(*doc.StartTime)
	if err != nil {
		return Meta{}, fmt.Errorf("meta: start_time: %w", err)
	}
	end, err := ParseTimestamp(*doc.EndTime)
	if err != nil {
		return Meta{}, fmt.Errorf("meta: end_time: %w", err)
	}

	meta := Meta{
		StartTime: start,
		EndTime:   end,
		Users:     make(map[string]User, len(doc.Users)),
		Events:    make([]Event, 0, len(doc.Events)),
		Raw:       raw,
	}
	for id, u := range doc.Users {
		meta.Users[id] = User{ID: id, Name: u.Name, Channel: u.Channel}
	}
	for i, ev := range doc.Events {
		ts, err := ParseTimestamp(ev.Timestamp)
		if err != nil {
			return Meta{}, fmt.Errorf("meta: events[%d].timestamp: %w", i, err)
		}
		meta.Events = append(meta.Events, Event{Timestamp: ts, Message: ev.Message})
	}
	return meta, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp accepts ISO-8601 date-times with or without fraction and zone.
// Values without a zone are taken as UTC.
func ParseTimestamp(v string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", v)
}
