// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package ollama implements the confirmation adapter against a local
// Ollama server.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"sentinel-scan/internal/confirm"
	"sentinel-scan/internal/detector"
	"sentinel-scan/internal/resilience"
)

const (
	DefaultHost  = "http://localhost:11434"
	DefaultModel = "llama3:8b-instruct"

	numPredict     = 400
	maxTargetChars = 1500
	maxSummary     = 1000
)

// Options configures the adapter
type Options struct {
	Host        string
	Model       string
	Temperature float64
	// Timeout bounds the availability probe; analysis calls are bounded by
	// the caller's context.
	Timeout time.Duration
}

// Adapter talks to /api/tags and /api/generate
type Adapter struct {
	baseURL     string
	model       string
	temperature float64
	probe       time.Duration
	httpClient  *http.Client
}

// New validates the host and returns an adapter. Only loopback hosts are
// accepted.
func New(opts Options) (*Adapter, error) {
	if opts.Host == "" {
		opts.Host = DefaultHost
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if err := ValidateHost(opts.Host); err != nil {
		return nil, err
	}
	return &Adapter{
		baseURL:     strings.TrimRight(opts.Host, "/"),
		model:       opts.Model,
		temperature: opts.Temperature,
		probe:       opts.Timeout,
		httpClient:  &http.Client{CheckRedirect: loopbackRedirect},
	}, nil
}

// maxRedirects matches net/http's default limit
const maxRedirects = 10

// loopbackRedirect keeps redirects on the loopback interface so no event
// text leaves the machine
func loopbackRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return resilience.NewPermanentError(fmt.Sprintf("stopped after %d redirects", maxRedirects), nil)
	}
	if err := ValidateHost(req.URL.Scheme + "://" + req.URL.Host); err != nil {
		return resilience.NewPermanentError(fmt.Sprintf("refused redirect: %v", err), err)
	}
	return nil
}

// ValidateHost rejects URLs that do not point at localhost, 127.0.0.0/8
// or ::1
func ValidateHost(host string) error {
	u, err := url.Parse(host)
	if err != nil {
		return fmt.Errorf("invalid inference host %q: %w", host, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid inference host %q: scheme must be http or https", host)
	}
	name := u.Hostname()
	if strings.EqualFold(name, "localhost") {
		return nil
	}
	if ip := net.ParseIP(name); ip != nil && ip.IsLoopback() {
		return nil
	}
	return fmt.Errorf("inference host %q is not a loopback address", host)
}

func (a *Adapter) Name() string {
	return "ollama"
}

// Model returns the configured model name
func (a *Adapter) Model() string {
	return a.model
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// Models lists locally pulled models
func (a *Adapter) Models(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.probe)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, &confirm.AdapterUnavailableError{Adapter: a.Name(), Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &confirm.AdapterUnavailableError{Adapter: a.Name(), Cause: fmt.Errorf("tags returned status %d", resp.StatusCode)}
	}
	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("failed to decode tags: %w", err)
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// IsAvailable reports whether the server answers and the model is pulled.
// A model matches exactly or by family prefix ("llama3" for
// "llama3:8b-instruct").
func (a *Adapter) IsAvailable(ctx context.Context) bool {
	models, err := a.Models(ctx)
	if err != nil {
		return false
	}
	return modelAvailable(a.model, models)
}

func modelAvailable(model string, models []string) bool {
	family, _, _ := strings.Cut(model, ":")
	for _, m := range models {
		if m == model || strings.HasPrefix(m, family) {
			return true
		}
	}
	return false
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Format  string          `json:"format"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

type generateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
}

// verdict is the JSON object the prompt asks the model for
type verdict struct {
	Confirmed      bool     `json:"confirmed"`
	Categories     []string `json:"categories"`
	Severity       string   `json:"severity"`
	Confidence     *float64 `json:"confidence"`
	FlaggedQuote   string   `json:"flagged_quote"`
	ContextSummary string   `json:"context_summary"`
}

// Analyze asks the model to confirm, reject or reclassify one candidate
func (a *Adapter) Analyze(ctx context.Context, ev detector.FlaggedEvent, window confirm.Window) (confirm.Outcome, error) {
	body, err := json.Marshal(generateRequest{
		Model:  a.model,
		Prompt: BuildPrompt(ev, window),
		Stream: false,
		Format: "json",
		Options: generateOptions{
			Temperature: a.temperature,
			NumPredict:  numPredict,
		},
	})
	if err != nil {
		return confirm.Outcome{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return confirm.Outcome{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return confirm.Outcome{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return confirm.Outcome{}, &confirm.AdapterUnavailableError{
			Adapter: a.Name(),
			Cause:   resilience.NewPermanentError(fmt.Sprintf("model %s not found", a.model), nil),
		}
	case resp.StatusCode >= 500:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return confirm.Outcome{}, resilience.NewTransientError(
			fmt.Sprintf("ollama returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), nil)
	case resp.StatusCode != http.StatusOK:
		return confirm.Outcome{}, resilience.NewPermanentError(fmt.Sprintf("ollama returned status %d", resp.StatusCode), nil)
	}

	var gen generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gen); err != nil {
		return confirm.Outcome{}, fmt.Errorf("failed to decode response: %w", err)
	}

	out, err := parseVerdict(ev, gen.Response)
	if err != nil {
		return confirm.Outcome{}, err
	}
	out.ModelVersion = a.model
	if gen.Model != "" {
		out.ModelVersion = gen.Model
	}
	return out, nil
}

// stripFences removes a markdown code fence some models add despite JSON
// mode
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if end := strings.Index(s, "```"); end >= 0 {
		s = s[:end]
	}
	s = strings.TrimPrefix(s, "json")
	return strings.TrimSpace(s)
}

func parseVerdict(ev detector.FlaggedEvent, text string) (confirm.Outcome, error) {
	var v verdict
	if err := json.Unmarshal([]byte(stripFences(text)), &v); err != nil {
		return confirm.Outcome{}, resilience.NewPermanentError("could not parse model verdict", err)
	}

	summary := []rune(v.ContextSummary)
	if len(summary) > maxSummary {
		summary = summary[:maxSummary]
	}
	out := confirm.Outcome{Summary: string(summary)}
	if v.Confidence != nil {
		out.Confidence = min(max(*v.Confidence, 0), 1)
	}
	if !v.Confirmed {
		out.Verdict = confirm.VerdictReject
		return out, nil
	}

	out.Verdict = confirm.VerdictConfirm
	category := ev.Category
	if len(v.Categories) > 0 && !containsFold(v.Categories, ev.Category) {
		category = strings.ToUpper(strings.TrimSpace(v.Categories[0]))
	}
	tier := ev.Tier
	if t, err := detector.ParseTier(v.Severity); err == nil {
		tier = t
	}
	if category != ev.Category || tier != ev.Tier {
		out.Verdict = confirm.VerdictReclassify
		out.Category = category
		out.Tier = tier
	}
	return out, nil
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(strings.TrimSpace(v), s) {
			return true
		}
	}
	return false
}
