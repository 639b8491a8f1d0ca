package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"protoscript/internal/audio"
)

// whisperRate is the sample rate whisper models are trained on.
const whisperRate = 16000

// Whisper talks to an OpenAI-compatible /audio/transcriptions endpoint.
type Whisper struct {
	baseURL string
	model   string
	apiKey  string
	client  *http.Client
}

func NewWhisper(baseURL, model, apiKey string, timeout time.Duration) *Whisper {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &Whisper{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type whisperResp struct {
	Text     string `json:"text"`
	Segments []struct {
		Start *float64 `json:"start"`
		Text  string   `json:"text"`
	} `json:"segments"`
}

func (w *Whisper) Recognize(ctx context.Context, ch Channel) ([]Utterance, error) {
	path, err := w.writeChannel(ch)
	if err != nil {
		return nil, err
	}
	defer os.Remove(path)

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range map[string]string{
		"model":                     w.model,
		"response_format":           "verbose_json",
		"timestamp_granularities[]": "segment",
	} {
		if err := mw.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	fw, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(fw, f); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+"/audio/transcriptions", &body)
	if err != nil {
		return nil, err
	}
	if w.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+w.apiKey)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("whisper http %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var wr whisperResp
	if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil {
		return nil, fmt.Errorf("decode whisper response: %w", err)
	}

	if len(wr.Segments) == 0 {
		if text := strings.TrimSpace(wr.Text); text != "" {
			return []Utterance{{Start: 0, Text: text}}, nil
		}
		return nil, nil
	}
	out := make([]Utterance, 0, len(wr.Segments))
	for _, seg := range wr.Segments {
		if seg.Start == nil {
			continue
		}
		out = append(out, Utterance{
			Start: time.Duration(*seg.Start * float64(time.Second)),
			Text:  strings.TrimSpace(seg.Text),
		})
	}
	return out, nil
}

// writeChannel stores the channel as 16 kHz mono WAV in the job workspace.
func (w *Whisper) writeChannel(ch Channel) (string, error) {
	f, err := os.CreateTemp(ch.WorkDir, fmt.Sprintf("channel-%d-*.wav", ch.Index))
	if err != nil {
		return "", fmt.Errorf("create channel file: %w", err)
	}
	samples := audio.Resample(ch.Samples, ch.SampleRate, whisperRate)
	if err := audio.WriteMonoWAV(f, whisperRate, samples); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}
