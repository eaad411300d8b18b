package segment

import (
	"bytes"
	"encoding/binary"
)

const wavHeaderSize = 44

// wavHeader is the fixed 44-byte RIFF/WAVE preamble for raw PCM data.
type wavHeader struct {
	RIFF          [4]byte
	ChunkSize     uint32
	WAVE          [4]byte
	Fmt           [4]byte
	FmtSize       uint32
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Data          [4]byte
	DataSize      uint32
}

// encodeWAV wraps raw little-endian PCM bytes in a minimal WAV header
// so every emitted segment decodes on its own.
func encodeWAV(pcm []byte, sampleRate, channels int) []byte {
	if channels < 1 {
		channels = 1
	}

	const sampleBytes = 2 // s16le
	header := wavHeader{
		RIFF:          [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(wavHeaderSize - 8 + len(pcm)),
		WAVE:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   1, // PCM
		Channels:      uint16(channels),
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * channels * sampleBytes),
		BlockAlign:    uint16(channels * sampleBytes),
		BitsPerSample: 8 * sampleBytes,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      uint32(len(pcm)),
	}

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(pcm)))
	_ = binary.Write(buf, binary.LittleEndian, header)
	buf.Write(pcm)
	return buf.Bytes()
}
