package playback

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
)

// WAV parsing errors.
var (
	ErrNotWAV        = errors.New("playback: not a RIFF/WAVE file")
	ErrUnsupportedWAV = errors.New("playback: only 16-bit PCM WAV is supported")
)

// ParseWAV decodes a 16-bit PCM WAV file into a playable item.
func ParseWAV(data []byte) (Item, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Item{}, ErrNotWAV
	}

	var (
		sampleRate int
		channels   int
		bits       int
		pcm        []byte
		haveFmt    bool
	)

	// walk RIFF chunks; they are word-aligned
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		end := body + size
		if end > len(data) {
			end = len(data)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return Item{}, ErrUnsupportedWAV
			}
			format := int(binary.LittleEndian.Uint16(data[body : body+2]))
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bits = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			if format != 1 {
				return Item{}, ErrUnsupportedWAV
			}
			haveFmt = true
		case "data":
			pcm = data[body:end]
		}

		pos = body + size
		if size%2 != 0 {
			pos++
		}
	}

	if !haveFmt || pcm == nil {
		return Item{}, ErrNotWAV
	}
	if bits != 16 {
		return Item{}, ErrUnsupportedWAV
	}
	if channels < 1 || sampleRate <= 0 {
		return Item{}, fmt.Errorf("playback: bad WAV format: rate=%d channels=%d", sampleRate, channels)
	}

	return Item{PCM: pcm, SampleRate: sampleRate, Channels: channels}, nil
}

// LoadWAV reads and decodes a WAV file from disk.
func LoadWAV(path string) (Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Item{}, err
	}
	item, err := ParseWAV(data)
	if err != nil {
		return Item{}, fmt.Errorf("%w (%s)", err, path)
	}
	return item, nil
}

// EncodeWAV wraps raw PCM16 bytes in a WAV header.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	blockAlign := channels * 2
	byteRate := sampleRate * blockAlign

	out := make([]byte, 0, 44+len(pcm))
	u32 := func(v int) []byte {
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, uint32(v))
		return b
	}
	u16 := func(v int) []byte {
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, uint16(v))
		return b
	}

	out = append(out, "RIFF"...)
	out = append(out, u32(36+len(pcm))...)
	out = append(out, "WAVE"...)
	out = append(out, "fmt "...)
	out = append(out, u32(16)...)
	out = append(out, u16(1)...) // PCM
	out = append(out, u16(channels)...)
	out = append(out, u32(sampleRate)...)
	out = append(out, u32(byteRate)...)
	out = append(out, u16(blockAlign)...)
	out = append(out, u16(16)...) // bits per sample
	out = append(out, "data"...)
	out = append(out, u32(len(pcm))...)
	out = append(out, pcm...)
	return out
}
