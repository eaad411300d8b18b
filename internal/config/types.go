// Package config resolves, parses, validates, and defaults kaiwa
// configuration.
package config

// Config is the fully materialized runtime configuration.
type Config struct {
	Audio         AudioConfig
	Recognition   RecognitionConfig
	Transcription TranscriptionConfig
	Segmenter     SegmenterConfig
	Filter        FilterConfig
	Debug         DebugConfig
	Logging       LoggingConfig
}

// AudioConfig controls capture source selection for both channels.
type AudioConfig struct {
	// Input and Fallback select the self-channel source by substring
	// match; "default" follows the server default.
	Input    string
	Fallback string
	// Sink selects whose monitor feeds the other channel; "default"
	// follows the default sink.
	Sink string
	// SampleRate is fixed by the recognizer contract. Present so a
	// mismatch is an explicit config error instead of silent resampling.
	SampleRate int
}

// RecognitionConfig controls the live self-channel recognizer.
type RecognitionConfig struct {
	URL            string
	Token          string
	Language       string
	RestartDelayMS int
	Interim        bool
}

// TranscriptionConfig controls the batch other-channel service.
type TranscriptionConfig struct {
	URL       string
	Token     string
	Model     string
	Language  string
	TimeoutMS int
}

// SegmenterConfig controls other-channel rotation and the mix graph.
type SegmenterConfig struct {
	IntervalMS int
	Gain       float64
	KeepAlive  bool
}

// FilterConfig appends to the built-in hallucination denylist.
type FilterConfig struct {
	Extra []string
}

// DebugConfig controls optional debug artifact output.
type DebugConfig struct {
	SaveSegments bool
}

// LoggingConfig controls daemon log verbosity.
type LoggingConfig struct {
	Level string
}

// Warning carries a non-fatal problem found while loading the config.
// Line is zero when the problem has no source position.
type Warning struct {
	Line    int
	Message string
}
