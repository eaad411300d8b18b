package config

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeJSONC(t *testing.T) {
	t.Run("comments and trailing commas become valid JSON", func(t *testing.T) {
		input := `
{
  // the mic
  "audio": {
    "input": "yeti", /* by substring */
    "sink": "default",
  },
}
`
		normalized, err := normalizeJSONC(input)
		require.NoError(t, err)
		require.True(t, json.Valid([]byte(normalized)), "normalized output: %s", normalized)
	})

	t.Run("byte offsets survive normalization", func(t *testing.T) {
		input := "{\n  // gone\n  \"a\": 1\n}"
		normalized, err := normalizeJSONC(input)
		require.NoError(t, err)
		require.Len(t, normalized, len(input))
		require.Equal(t, strings.Index(input, "\"a\""), strings.Index(normalized, "\"a\""))
	})

	t.Run("comment-like text inside strings survives", func(t *testing.T) {
		normalized, err := normalizeJSONC(`{"value":"has // and /* markers */ inside",}`)
		require.NoError(t, err)
		require.Contains(t, normalized, "// and /* markers */")
	})

	t.Run("unterminated block comment fails", func(t *testing.T) {
		_, err := normalizeJSONC("{ /* never closed ")
		require.Error(t, err)
		require.Contains(t, err.Error(), "unterminated block comment")
	})

	t.Run("comma before bracket across a comment is dropped", func(t *testing.T) {
		normalized, err := normalizeJSONC("[1, 2, // tail\n]")
		require.NoError(t, err)
		require.True(t, json.Valid([]byte(normalized)), "normalized output: %s", normalized)
	})
}

func TestEnsureSingleJSONValueRejectsExtraPayload(t *testing.T) {
	decoder := json.NewDecoder(strings.NewReader(`{"one":1} {"two":2}`))
	require.NoError(t, decoder.Decode(&struct{}{}))

	err := ensureSingleJSONValue(decoder)
	require.Error(t, err)
	require.Contains(t, err.Error(), "multiple JSON values")

	decoder = json.NewDecoder(strings.NewReader(`{"only":1}`))
	require.NoError(t, decoder.Decode(&struct{}{}))
	require.NoError(t, ensureSingleJSONValue(decoder))
}

func TestLineColAt(t *testing.T) {
	content := "line1\nline2\nline3"
	cases := []struct {
		offset    int64
		line, col int
	}{
		{1, 1, 1},
		{8, 2, 2},
		{999, 3, 5}, // clamped to the end of content
	}
	for _, tc := range cases {
		line, col := lineColAt(content, tc.offset)
		require.Equal(t, tc.line, line, "offset %d", tc.offset)
		require.Equal(t, tc.col, col, "offset %d", tc.offset)
	}
}

func TestJSONCStringListUnmarshal(t *testing.T) {
	var list jsoncStringList

	require.NoError(t, json.Unmarshal([]byte(`["a","b"]`), &list))
	require.EqualValues(t, []string{"a", "b"}, list)

	require.NoError(t, json.Unmarshal([]byte(`"a, b, , c"`), &list))
	require.EqualValues(t, []string{"a", "b", "c"}, list)

	err := json.Unmarshal([]byte(`123`), &list)
	require.Error(t, err)
	require.Contains(t, err.Error(), "expected string array")
}

func TestParseJSONCTrimsStringFields(t *testing.T) {
	cfg, _, err := parseJSONC(`{
  "audio": {"input": "  Elgato  ", "sink": " default "},
  "recognition": {"url": " ws://127.0.0.1:2700/asr ", "language": " ja-JP "},
  "logging": {"level": " INFO "}
}`, Default())
	require.NoError(t, err)
	require.Equal(t, "Elgato", cfg.Audio.Input)
	require.Equal(t, "default", cfg.Audio.Sink)
	require.Equal(t, "ws://127.0.0.1:2700/asr", cfg.Recognition.URL)
	require.Equal(t, "ja-JP", cfg.Recognition.Language)
	require.Equal(t, "info", cfg.Logging.Level)
}

func TestParseJSONCRejectsUnknownField(t *testing.T) {
	_, _, err := parseJSONC(`{"paste": {"enable": true}}`, Default())
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown field")
}

func TestParseJSONCRejectsMultipleTopLevelValues(t *testing.T) {
	_, _, err := parseJSONC(`{"debug":{"save_segments":false}}{"debug":{"save_segments":true}}`, Default())
	require.Error(t, err)

	// Either complaint proves the second value was refused.
	refused := strings.Contains(err.Error(), "multiple JSON values") || strings.Contains(err.Error(), "unknown field")
	require.True(t, refused, "unexpected error: %v", err)
}

func TestParseJSONCTypeErrorIncludesLocation(t *testing.T) {
	_, _, err := parseJSONC("{\n  \"recognition\": {\"url\": 123}\n}", Default())
	require.ErrorContains(t, err, "line 2")
	require.ErrorContains(t, err, "column")
}

func TestParseJSONCFilterExtraSupportsCommaString(t *testing.T) {
	cfg, _, err := parseJSONC(`{
  "filter": {"extra": "お疲れ様でした, 字幕視聴ありがとうございました, "}
}`, Default())
	require.NoError(t, err)
	require.Equal(t, []string{"お疲れ様でした", "字幕視聴ありがとうございました"}, cfg.Filter.Extra)
}

func TestParseJSONCFilterExtraDropsBlankEntries(t *testing.T) {
	cfg, _, err := parseJSONC(`{
  "filter": {"extra": ["  ", "ご視聴ありがとうございます", ""]}
}`, Default())
	require.NoError(t, err)
	require.Equal(t, []string{"ご視聴ありがとうございます"}, cfg.Filter.Extra)
}
