package config

// Default returns the canonical runtime configuration used when no
// file is present. Service URLs default empty: each channel's upstream
// stays disabled until configured.
func Default() Config {
	return Config{
		Audio: AudioConfig{
			Input:      "default",
			Fallback:   "default",
			Sink:       "default",
			SampleRate: 16000,
		},
		Recognition: RecognitionConfig{
			Language:       "ja-JP",
			RestartDelayMS: 1000,
			Interim:        true,
		},
		Transcription: TranscriptionConfig{
			Model:     "whisper-1",
			Language:  "ja",
			TimeoutMS: 30000,
		},
		Segmenter: SegmenterConfig{
			IntervalMS: 3000,
			Gain:       5,
			KeepAlive:  true,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}
