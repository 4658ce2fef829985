package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// wavHeader is the canonical 44-byte RIFF/WAVE header for 16-bit PCM.
type wavHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32
	AudioFormat   uint16 // 1 = PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

// EncodeWAV wraps a clip in a RIFF/WAVE container (16-bit PCM).
func EncodeWAV(c Clip) []byte {
	data := c.Bytes()
	h := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(36 + len(data)),
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   uint16(c.Format.Channels),
		SampleRate:    uint32(c.Format.SampleRate),
		ByteRate:      uint32(c.Format.SampleRate * c.Format.BytesPerFrame()),
		BlockAlign:    uint16(c.Format.BytesPerFrame()),
		BitsPerSample: BitDepth,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: uint32(len(data)),
	}
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, h)
	buf.Write(data)
	return buf.Bytes()
}

// DecodeWAV parses a RIFF/WAVE container holding 16-bit PCM. Chunks other
// than "fmt " and "data" are skipped.
func DecodeWAV(raw []byte) (Clip, error) {
	if len(raw) < 12 || string(raw[0:4]) != "RIFF" || string(raw[8:12]) != "WAVE" {
		return Clip{}, fmt.Errorf("%w: not a RIFF/WAVE stream", ErrValidation)
	}

	var f Format
	var data []byte
	haveFmt := false

	pos := 12
	for pos+8 <= len(raw) {
		id := string(raw[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(raw[pos+4 : pos+8]))
		body := raw[pos+8:]
		if size > len(body) {
			size = len(body)
		}
		body = body[:size]

		switch id {
		case "fmt ":
			if size < 16 {
				return Clip{}, fmt.Errorf("%w: short fmt chunk", ErrValidation)
			}
			audioFormat := binary.LittleEndian.Uint16(body[0:2])
			bits := binary.LittleEndian.Uint16(body[14:16])
			if audioFormat != 1 || bits != BitDepth {
				return Clip{}, fmt.Errorf("%w: only 16-bit PCM supported (format=%d bits=%d)",
					ErrValidation, audioFormat, bits)
			}
			f.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			f.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			haveFmt = true
		case "data":
			data = body
		}

		// Chunks are word-aligned.
		pos += 8 + size
		if size%2 == 1 {
			pos++
		}
	}

	if !haveFmt || data == nil {
		return Clip{}, fmt.Errorf("%w: missing fmt or data chunk", ErrValidation)
	}
	if !f.Valid() {
		return Clip{}, fmt.Errorf("%w: unsupported format %v", ErrValidation, f)
	}
	return ClipFromBytes(f, data), nil
}
