package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate enforces config invariants and returns non-fatal warnings.
// An unset service URL is a warning, not an error: the corresponding
// channel simply runs without its upstream.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if cfg.Audio.SampleRate != 16000 {
		return nil, fmt.Errorf("audio.sample_rate must be 16000; both speech services consume 16 kHz mono")
	}

	switch recURL := strings.TrimSpace(cfg.Recognition.URL); recURL {
	case "":
		warnings = append(warnings, Warning{Message: "recognition.url is not set; the self channel is disabled"})
	default:
		parsed, err := url.Parse(recURL)
		if err != nil || parsed.Host == "" {
			return nil, fmt.Errorf("recognition.url %q is not a valid URL", recURL)
		}
		if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
			return nil, fmt.Errorf("recognition.url must use ws:// or wss://, got %q", parsed.Scheme)
		}
	}

	switch trURL := strings.TrimSpace(cfg.Transcription.URL); trURL {
	case "":
		warnings = append(warnings, Warning{Message: "transcription.url is not set; other-channel segments will not be transcribed"})
	default:
		parsed, err := url.Parse(trURL)
		if err != nil || parsed.Host == "" {
			return nil, fmt.Errorf("transcription.url %q is not a valid URL", trURL)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return nil, fmt.Errorf("transcription.url must use http:// or https://, got %q", parsed.Scheme)
		}
	}

	if strings.TrimSpace(cfg.Recognition.Language) == "" {
		return nil, fmt.Errorf("recognition.language must not be empty")
	}
	if cfg.Recognition.RestartDelayMS < 0 {
		return nil, fmt.Errorf("recognition.restart_delay_ms must be >= 0")
	}
	if cfg.Transcription.TimeoutMS < 0 {
		return nil, fmt.Errorf("transcription.timeout_ms must be >= 0")
	}
	if cfg.Segmenter.IntervalMS <= 0 {
		return nil, fmt.Errorf("segmenter.interval_ms must be > 0")
	}
	if cfg.Segmenter.Gain <= 0 {
		return nil, fmt.Errorf("segmenter.gain must be > 0")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Level)) {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}

	return warnings, nil
}
