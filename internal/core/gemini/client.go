package gemini

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"
)

// Client generates subtask decompositions with the unary Gemini API. It
// implements live.Decomposer.
type Client struct {
	c     *genai.Client
	model string
}

func New(apiKey, model string) (*Client, error) {
	tr := &http.Transport{
		Proxy:             http.ProxyFromEnvironment,
		TLSClientConfig:   &tls.Config{MinVersion: tls.VersionTLS12},
		ForceAttemptHTTP2: false,
		MaxIdleConns:      100,
		IdleConnTimeout:   90 * time.Second,
	}
	hc := &http.Client{Transport: tr, Timeout: 30 * time.Second}
	reqTimeout := 15 * time.Second
	cl, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: hc,
		HTTPOptions: genai.HTTPOptions{
			APIVersion: "v1",
			Timeout:    &reqTimeout,
		},
	})
	if err != nil {
		return nil, err
	}
	return &Client{c: cl, model: model}, nil
}

func (g *Client) Close() error { return nil }

type decomposition struct {
	Subtasks []string `json:"subtasks"`
}

// Subtasks asks the model to break a task into 3-6 short actionable steps.
func (g *Client) Subtasks(ctx context.Context, title string) ([]string, error) {
	parts := []*genai.Part{
		{Text: "Break the following to-do task into 3 to 6 short, concrete subtasks. " +
			"Each subtask is a single actionable step phrased as an imperative. " +
			"Output JSON only, format: {\"subtasks\":[\"string\"]}.\n\nTask: " + title},
	}

	temp := float32(0.4)
	topP := float32(0.8)
	maxTok := int32(1024)

	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"subtasks": {
					Type:  genai.TypeArray,
					Items: &genai.Schema{Type: genai.TypeString},
				},
			},
			Required: []string{"subtasks"},
		},
		Temperature:     &temp,
		TopP:            &topP,
		MaxOutputTokens: maxTok,
	}

	var lastErr error
	for i := 0; i < 3; i++ {
		resp, err := g.c.Models.GenerateContent(ctx, g.model, []*genai.Content{{Parts: parts}}, cfg)
		if err != nil {
			lastErr = err
			if retriable(err) {
				time.Sleep(time.Duration(300*(i+1)) * time.Millisecond)
				continue
			}
			return nil, err
		}
		if titles, ok := parseDecomposition(resp); ok {
			return titles, nil
		}
		lastErr = errors.New("empty response")
		time.Sleep(time.Duration(300*(i+1)) * time.Millisecond)
	}
	return nil, lastErr
}

func parseDecomposition(resp *genai.GenerateContentResponse) ([]string, bool) {
	decode := func(raw []byte) ([]string, bool) {
		var out decomposition
		if json.Unmarshal(raw, &out) != nil {
			return nil, false
		}
		titles := make([]string, 0, len(out.Subtasks))
		for _, t := range out.Subtasks {
			if t = strings.TrimSpace(t); t != "" {
				titles = append(titles, t)
			}
		}
		return titles, len(titles) > 0
	}

	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, p := range cand.Content.Parts {
			if p.InlineData != nil && p.InlineData.MIMEType == "application/json" {
				if titles, ok := decode(p.InlineData.Data); ok {
					return titles, true
				}
			}
			if p.Text != "" {
				if titles, ok := decode([]byte(p.Text)); ok {
					return titles, true
				}
			}
		}
	}
	if t := resp.Text(); t != "" {
		return decode([]byte(t))
	}
	return nil, false
}

func retriable(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "unexpected EOF") ||
		strings.Contains(s, "timeout") ||
		strings.Contains(s, "RST_STREAM") ||
		strings.Contains(s, "connection reset")
}
