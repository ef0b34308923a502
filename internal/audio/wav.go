package audio

import (
	"fmt"
	"os"
	"path/filepath"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// TakeExtension is the file extension of stored takes.
const TakeExtension = ".wav"

// WriteWAV stores samples as 16-bit mono PCM. The file is written to a
// temporary name next to path and renamed into place.
func WriteWAV(path string, samples Buffer, sampleRate int) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create audio directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".take-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	pcm := ToPCM16(samples)
	data := make([]int, len(pcm))
	for i, s := range pcm {
		data[i] = int(s)
	}

	enc := wav.NewEncoder(tmp, sampleRate, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("finalize wav: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// ReadWAV loads a PCM wav file as normalized mono samples. Multi-channel
// files are reduced to their first channel.
func ReadWAV(path string) (Buffer, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, 0, fmt.Errorf("%s is not a valid wav file", path)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("decode wav: %w", err)
	}

	channels := int(dec.NumChans)
	if channels < 1 {
		channels = 1
	}
	bitDepth := int(dec.BitDepth)
	if bitDepth <= 0 {
		bitDepth = 16
	}
	// same full-scale convention as ToPCM16, e.g. 32767 for 16 bit
	scale := float32(int64(1)<<(bitDepth-1) - 1)

	out := make(Buffer, 0, len(buf.Data)/channels)
	for i := 0; i < len(buf.Data); i += channels {
		out = append(out, max(-1, float32(buf.Data[i])/scale))
	}
	return out, int(dec.SampleRate), nil
}
