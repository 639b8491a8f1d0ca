// Package stt turns a multi-channel recording into per-user speech segments.
package stt

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"protoscript/internal/audio"
	"protoscript/internal/config"
	"protoscript/internal/models"
)

// Channel is one mono track handed to a recognizer.
type Channel struct {
	Index      int
	SampleRate int
	Samples    []float32
	// WorkDir is the job's scratch directory.
	WorkDir string
}

// Utterance is recognised speech relative to the start of its channel.
type Utterance struct {
	Start time.Duration
	Text  string
}

// Recognizer transcribes a single channel.
type Recognizer interface {
	Recognize(ctx context.Context, ch Channel) ([]Utterance, error)
}

// Engine splits a recording by user channel and tags what the recognizer
// returns with the owning user.
type Engine struct {
	name string
	rec  Recognizer
}

func NewEngine(name string, rec Recognizer) *Engine {
	return &Engine{name: name, rec: rec}
}

func (e *Engine) Name() string { return e.name }

// New builds the engine selected by STT_ENGINE.
func New(cfg config.Config) (*Engine, error) {
	switch cfg.STTEngine {
	case "mock":
		return NewEngine("mock", Mock{}), nil
	case "whisper", "":
		return NewEngine("whisper", NewWhisper(cfg.STTBaseURL, cfg.STTModel, cfg.STTAPIKey, cfg.STTTimeout)), nil
	default:
		return nil, fmt.Errorf("unknown STT_ENGINE %q", cfg.STTEngine)
	}
}

// Transcribe runs the recognizer once per user whose channel exists in buf.
// Users without a channel, or with one outside the recording, are skipped.
// Users are visited in channel order so output is deterministic.
func (e *Engine) Transcribe(ctx context.Context, buf audio.Buffer, users map[string]models.User, workDir string) ([]models.Segment, error) {
	var segments []models.Segment
	for _, u := range orderedUsers(users) {
		if u.Channel == nil || *u.Channel < 0 || *u.Channel >= len(buf.Channels) {
			log.Printf("stt: skipping user %s: no channel in %d-channel recording", u.ID, len(buf.Channels))
			continue
		}
		idx := *u.Channel
		utterances, err := e.rec.Recognize(ctx, Channel{
			Index:      idx,
			SampleRate: buf.SampleRate,
			Samples:    buf.Channels[idx],
			WorkDir:    workDir,
		})
		if err != nil {
			return nil, models.EngineError("transcribe", fmt.Errorf("%s: user %s channel %d: %w", e.name, u.ID, idx, err))
		}
		for _, ut := range utterances {
			offset := ut.Start
			if offset < 0 {
				offset = 0
			}
			segments = append(segments, models.Segment{
				UserID:   u.ID,
				UserName: u.Name,
				Offset:   offset,
				Text:     ut.Text,
			})
		}
	}
	return segments, nil
}

func orderedUsers(users map[string]models.User) []models.User {
	out := make([]models.User, 0, len(users))
	for id, u := range users {
		u.ID = id
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		ci, cj := channelKey(out[i]), channelKey(out[j])
		if ci != cj {
			return ci < cj
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func channelKey(u models.User) int {
	if u.Channel == nil {
		return -1
	}
	return *u.Channel
}
