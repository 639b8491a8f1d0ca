package stt

import (
	"context"
	"time"
)

// MockText is what Mock returns for every channel.
const MockText = "This is a mock transcription."

// Mock returns one fixed utterance per channel without looking at the audio.
type Mock struct{}

func (Mock) Recognize(ctx context.Context, _ Channel) ([]Utterance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return []Utterance{{Start: time.Second, Text: MockText}}, nil
}
