// Package health probes the upstream speech and dialogue providers and
// exposes the process status over gRPC.
package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"yuzu/interviewer/internal/config"
)

type CheckResult struct {
	Name    string        `json:"name"`
	OK      bool          `json:"ok"`
	Latency time.Duration `json:"latency_ms"`
	Error   string        `json:"error,omitempty"`
}

type HealthStatus struct {
	OK        bool          `json:"ok"`
	Checks    []CheckResult `json:"checks"`
	CheckedAt time.Time     `json:"checked_at"`
}

func (h HealthStatus) String() string {
	status := "OK"
	if !h.OK {
		status = "FAIL"
	}
	s := fmt.Sprintf("Health: %s\n", status)
	for _, c := range h.Checks {
		mark := "✓"
		if !c.OK {
			mark = "✗"
		}
		s += fmt.Sprintf("  %s %s (%dms)", mark, c.Name, c.Latency.Milliseconds())
		if c.Error != "" {
			s += fmt.Sprintf(" - %s", c.Error)
		}
		s += "\n"
	}
	return s
}

func combine(checks []CheckResult) HealthStatus {
	allOK := true
	for _, c := range checks {
		if !c.OK {
			allOK = false
		}
	}
	return HealthStatus{OK: allOK, Checks: checks, CheckedAt: time.Now().UTC()}
}

// CheckConfig verifies that every provider has credentials, without any
// network calls.
func CheckConfig(cfg config.Config) HealthStatus {
	present := func(name string, missing ...string) CheckResult {
		r := CheckResult{Name: name}
		if len(missing) > 0 {
			r.Error = strings.Join(missing, ", ") + " not set"
			return r
		}
		r.OK = true
		return r
	}
	var dg, el, lm []string
	if cfg.Deepgram.APIKey == "" {
		dg = append(dg, "DEEPGRAM_API_KEY")
	}
	if cfg.Eleven.APIKey == "" {
		el = append(el, "ELEVENLABS_API_KEY")
	}
	if cfg.Eleven.VoiceID == "" {
		el = append(el, "ELEVENLABS_VOICE_ID")
	}
	if cfg.LLM.APIKey == "" {
		lm = append(lm, "LLM api key")
	}
	if cfg.LLM.Provider != "openai" {
		if cfg.LLM.Endpoint == "" {
			lm = append(lm, "AZURE_OPENAI_ENDPOINT")
		}
		if cfg.LLM.Deployment == "" {
			lm = append(lm, "AZURE_OPENAI_DEPLOYMENT")
		}
	}
	return combine([]CheckResult{
		present("deepgram", dg...),
		present("elevenlabs", el...),
		present("llm", lm...),
	})
}

// CheckAll runs all provider checks concurrently and returns combined status.
func CheckAll(ctx context.Context, cfg config.Config, httpc *http.Client) HealthStatus {
	if httpc == nil {
		httpc = http.DefaultClient
	}
	fns := []func(context.Context, config.Config, *http.Client) CheckResult{
		checkDeepgram,
		checkElevenLabs,
		checkLLM,
	}
	checks := make([]CheckResult, len(fns))
	var wg sync.WaitGroup
	for i, fn := range fns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			checks[i] = fn(ctx, cfg, httpc)
		}()
	}
	wg.Wait()
	return combine(checks)
}

// probe issues req and maps the response onto result.
func probe(httpc *http.Client, req *http.Request, result CheckResult, start time.Time) CheckResult {
	resp, err := httpc.Do(req)
	if err != nil {
		result.Error = fmt.Sprintf("request failed: %v", err)
		result.Latency = time.Since(start)
		return result
	}
	defer resp.Body.Close()

	result.Latency = time.Since(start)

	if resp.StatusCode == 401 || resp.StatusCode == 403 {
		result.Error = fmt.Sprintf("invalid API key (%d)", resp.StatusCode)
		return result
	}
	if resp.StatusCode != 200 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		result.Error = fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, string(body))
		return result
	}
	io.Copy(io.Discard, resp.Body)

	result.OK = true
	return result
}

func checkDeepgram(ctx context.Context, cfg config.Config, httpc *http.Client) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "deepgram"}

	if cfg.Deepgram.APIKey == "" {
		result.Error = "DEEPGRAM_API_KEY not set"
		result.Latency = time.Since(start)
		return result
	}

	// Listing projects is the cheapest authenticated call.
	req, err := http.NewRequestWithContext(ctx, "GET", deepgramRESTBase(cfg.Deepgram.BaseURL)+"/v1/projects", nil)
	if err != nil {
		result.Error = fmt.Sprintf("request build failed: %v", err)
		result.Latency = time.Since(start)
		return result
	}
	req.Header.Set("Authorization", "Token "+cfg.Deepgram.APIKey)
	return probe(httpc, req, result, start)
}

// deepgramRESTBase turns the streaming listen URL into the REST origin.
func deepgramRESTBase(listen string) string {
	if listen == "" {
		return "https://api.deepgram.com"
	}
	u, err := url.Parse(listen)
	if err != nil || u.Host == "" {
		return "https://api.deepgram.com"
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	return u.Scheme + "://" + u.Host
}

func checkElevenLabs(ctx context.Context, cfg config.Config, httpc *http.Client) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "elevenlabs"}

	if cfg.Eleven.APIKey == "" {
		result.Error = "ELEVENLABS_API_KEY not set"
		result.Latency = time.Since(start)
		return result
	}
	if cfg.Eleven.VoiceID == "" {
		result.Error = "ELEVENLABS_VOICE_ID not set"
		result.Latency = time.Since(start)
		return result
	}

	// The voice lookup also works with TTS-only keys and confirms the voice exists.
	base := strings.TrimRight(cfg.Eleven.BaseURL, "/")
	if base == "" {
		base = "https://api.elevenlabs.io"
	}
	req, err := http.NewRequestWithContext(ctx, "GET", base+"/v1/voices/"+url.PathEscape(cfg.Eleven.VoiceID), nil)
	if err != nil {
		result.Error = fmt.Sprintf("request build failed: %v", err)
		result.Latency = time.Since(start)
		return result
	}
	req.Header.Set("xi-api-key", cfg.Eleven.APIKey)
	result = probe(httpc, req, result, start)
	if strings.HasPrefix(result.Error, "unexpected status 404") {
		result.Error = fmt.Sprintf("voice ID %q not found", cfg.Eleven.VoiceID)
	}
	return result
}

func checkLLM(ctx context.Context, cfg config.Config, httpc *http.Client) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "llm"}

	if cfg.LLM.APIKey == "" {
		result.Error = "LLM api key not set"
		result.Latency = time.Since(start)
		return result
	}

	var req *http.Request
	var err error
	if cfg.LLM.Provider == "openai" {
		base := strings.TrimRight(cfg.LLM.BaseURL, "/")
		if base == "" {
			base = "https://api.openai.com/v1"
		}
		req, err = http.NewRequestWithContext(ctx, "GET", base+"/models", nil)
		if err == nil {
			req.Header.Set("Authorization", "Bearer "+cfg.LLM.APIKey)
		}
	} else {
		if cfg.LLM.Endpoint == "" || cfg.LLM.Deployment == "" {
			result.Error = "AZURE_OPENAI_ENDPOINT or AZURE_OPENAI_DEPLOYMENT not set"
			result.Latency = time.Since(start)
			return result
		}
		version := cfg.LLM.APIVersion
		if version == "" {
			version = "2024-02-15-preview"
		}
		u := fmt.Sprintf("%s/openai/models?api-version=%s", strings.TrimRight(cfg.LLM.Endpoint, "/"), url.QueryEscape(version))
		req, err = http.NewRequestWithContext(ctx, "GET", u, nil)
		if err == nil {
			req.Header.Set("api-key", cfg.LLM.APIKey)
		}
	}
	if err != nil {
		result.Error = fmt.Sprintf("request build failed: %v", err)
		result.Latency = time.Since(start)
		return result
	}
	return probe(httpc, req, result, start)
}
