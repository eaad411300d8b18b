package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

type jsoncConfig struct {
	Audio         *jsoncAudio         `json:"audio"`
	Recognition   *jsoncRecognition   `json:"recognition"`
	Transcription *jsoncTranscription `json:"transcription"`
	Segmenter     *jsoncSegmenter     `json:"segmenter"`
	Filter        *jsoncFilter        `json:"filter"`
	Debug         *jsoncDebug         `json:"debug"`
	Logging       *jsoncLogging       `json:"logging"`
}

type jsoncAudio struct {
	Input      *string `json:"input"`
	Fallback   *string `json:"fallback"`
	Sink       *string `json:"sink"`
	SampleRate *int    `json:"sample_rate"`
}

type jsoncRecognition struct {
	URL            *string `json:"url"`
	Token          *string `json:"token"`
	Language       *string `json:"language"`
	RestartDelayMS *int    `json:"restart_delay_ms"`
	Interim        *bool   `json:"interim"`
}

type jsoncTranscription struct {
	URL       *string `json:"url"`
	Token     *string `json:"token"`
	Model     *string `json:"model"`
	Language  *string `json:"language"`
	TimeoutMS *int    `json:"timeout_ms"`
}

type jsoncSegmenter struct {
	IntervalMS *int     `json:"interval_ms"`
	Gain       *float64 `json:"gain"`
	KeepAlive  *bool    `json:"keep_alive"`
}

type jsoncFilter struct {
	Extra *jsoncStringList `json:"extra"`
}

type jsoncDebug struct {
	SaveSegments *bool `json:"save_segments"`
}

type jsoncLogging struct {
	Level *string `json:"level"`
}

// jsoncStringList accepts either a JSON array of strings or a single
// comma-delimited string.
type jsoncStringList []string

func (l *jsoncStringList) UnmarshalJSON(data []byte) error {
	var joined string
	if err := json.Unmarshal(data, &joined); err == nil {
		*l = splitCommaList(joined)
		return nil
	}

	var items []string
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("expected string array or comma-delimited string")
	}
	*l = items
	return nil
}

func splitCommaList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseJSONC(content string, base Config) (Config, []Warning, error) {
	strict, err := normalizeJSONC(content)
	if err != nil {
		return Config{}, nil, err
	}

	dec := json.NewDecoder(strings.NewReader(strict))
	dec.DisallowUnknownFields()

	var doc jsoncConfig
	if err := dec.Decode(&doc); err != nil {
		return Config{}, nil, positionedDecodeError(strict, err)
	}
	if err := ensureSingleJSONValue(dec); err != nil {
		return Config{}, nil, positionedDecodeError(strict, err)
	}

	cfg := base
	doc.applyTo(&cfg)

	warnings, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, warnings, nil
}

func assign[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func assignTrimmed(dst *string, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}

// applyTo merges explicitly-set document fields over cfg, leaving
// everything else at its prior value.
func (doc jsoncConfig) applyTo(cfg *Config) {
	if a := doc.Audio; a != nil {
		assignTrimmed(&cfg.Audio.Input, a.Input)
		assignTrimmed(&cfg.Audio.Fallback, a.Fallback)
		assignTrimmed(&cfg.Audio.Sink, a.Sink)
		assign(&cfg.Audio.SampleRate, a.SampleRate)
	}

	if r := doc.Recognition; r != nil {
		assignTrimmed(&cfg.Recognition.URL, r.URL)
		assignTrimmed(&cfg.Recognition.Token, r.Token)
		assignTrimmed(&cfg.Recognition.Language, r.Language)
		assign(&cfg.Recognition.RestartDelayMS, r.RestartDelayMS)
		assign(&cfg.Recognition.Interim, r.Interim)
	}

	if tr := doc.Transcription; tr != nil {
		assignTrimmed(&cfg.Transcription.URL, tr.URL)
		assignTrimmed(&cfg.Transcription.Token, tr.Token)
		assignTrimmed(&cfg.Transcription.Model, tr.Model)
		assignTrimmed(&cfg.Transcription.Language, tr.Language)
		assign(&cfg.Transcription.TimeoutMS, tr.TimeoutMS)
	}

	if s := doc.Segmenter; s != nil {
		assign(&cfg.Segmenter.IntervalMS, s.IntervalMS)
		assign(&cfg.Segmenter.Gain, s.Gain)
		assign(&cfg.Segmenter.KeepAlive, s.KeepAlive)
	}

	if f := doc.Filter; f != nil && f.Extra != nil {
		cfg.Filter.Extra = nil
		for _, phrase := range *f.Extra {
			if phrase = strings.TrimSpace(phrase); phrase != "" {
				cfg.Filter.Extra = append(cfg.Filter.Extra, phrase)
			}
		}
	}

	if d := doc.Debug; d != nil {
		assign(&cfg.Debug.SaveSegments, d.SaveSegments)
	}

	if l := doc.Logging; l != nil && l.Level != nil {
		cfg.Logging.Level = strings.ToLower(strings.TrimSpace(*l.Level))
	}
}

// normalizeJSONC rewrites JSONC into strict JSON while keeping every
// byte offset stable, so decode errors still point at the right spot.
func normalizeJSONC(content string) (string, error) {
	blanked, err := blankComments(content)
	if err != nil {
		return "", err
	}
	return dropTrailingCommas(blanked), nil
}

type jsoncScanMode int

const (
	scanCode jsoncScanMode = iota
	scanString
	scanLineComment
	scanBlockComment
)

// blankComments replaces // and /* */ comments with spaces in place,
// preserving newlines and tabs.
func blankComments(content string) (string, error) {
	out := []byte(content)
	mode := scanCode
	escaped := false

	for i := 0; i < len(out); i++ {
		ch := out[i]
		switch mode {
		case scanCode:
			switch {
			case ch == '"':
				mode = scanString
			case ch == '/' && i+1 < len(out) && out[i+1] == '/':
				out[i], out[i+1] = ' ', ' '
				i++
				mode = scanLineComment
			case ch == '/' && i+1 < len(out) && out[i+1] == '*':
				out[i], out[i+1] = ' ', ' '
				i++
				mode = scanBlockComment
			}
		case scanString:
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				mode = scanCode
			}
		case scanLineComment:
			if ch == '\n' || ch == '\r' {
				mode = scanCode
				continue
			}
			out[i] = ' '
		case scanBlockComment:
			if ch == '*' && i+1 < len(out) && out[i+1] == '/' {
				out[i], out[i+1] = ' ', ' '
				i++
				mode = scanCode
				continue
			}
			if ch != '\n' && ch != '\r' && ch != '\t' {
				out[i] = ' '
			}
		}
	}

	if mode == scanBlockComment {
		return "", fmt.Errorf("unterminated block comment in JSONC")
	}
	return string(out), nil
}

// dropTrailingCommas removes commas that directly precede a closing
// brace or bracket. A seen comma is held back until the next
// significant character decides its fate.
func dropTrailingCommas(content string) string {
	var out strings.Builder
	out.Grow(len(content))

	inStr := false
	escaped := false
	pending := false
	var held strings.Builder

	flush := func(keepComma bool) {
		if !pending {
			return
		}
		if keepComma {
			out.WriteByte(',')
		}
		out.WriteString(held.String())
		held.Reset()
		pending = false
	}

	for i := 0; i < len(content); i++ {
		c := content[i]

		if inStr {
			out.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inStr = false
			}
			continue
		}

		if pending {
			if jsonSpace(c) {
				held.WriteByte(c)
				continue
			}
			flush(c != '}' && c != ']')
		}

		switch c {
		case ',':
			pending = true
		case '"':
			inStr = true
			out.WriteByte(c)
		default:
			out.WriteByte(c)
		}
	}
	flush(true)

	return out.String()
}

func jsonSpace(ch byte) bool {
	return ch == ' ' || ch == '\n' || ch == '\r' || ch == '\t'
}

func ensureSingleJSONValue(decoder *json.Decoder) error {
	var trailing any
	switch err := decoder.Decode(&trailing); {
	case errors.Is(err, io.EOF):
		return nil
	case err == nil:
		return fmt.Errorf("multiple JSON values are not allowed")
	default:
		return err
	}
}

func positionedDecodeError(content string, err error) error {
	offset := int64(-1)

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &syntaxErr):
		offset = syntaxErr.Offset
	case errors.As(err, &typeErr):
		offset = typeErr.Offset
	default:
		return err
	}

	line, col := lineColAt(content, offset)
	return fmt.Errorf("line %d column %d: %w", line, col, err)
}

// lineColAt converts a decoder byte offset into a 1-based position.
func lineColAt(content string, offset int64) (int, int) {
	if offset < 1 {
		return 1, 1
	}

	end := min(int(offset), len(content)) - 1
	if end < 0 {
		end = 0
	}
	pre := content[:end]

	line := 1 + strings.Count(pre, "\n")
	col := len(pre) - strings.LastIndexByte(pre, '\n')
	return line, col
}
