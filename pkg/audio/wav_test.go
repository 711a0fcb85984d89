package audio_test

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/MrWong99/notescribe/pkg/audio"
)

// floatWAV builds a 32-bit IEEE float WAV file by hand.
func floatWAV(samples []float32, sampleRate, channels int) []byte {
	dataSize := len(samples) * 4
	buf := make([]byte, 44+dataSize)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 3)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*channels*4))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(channels*4))
	binary.LittleEndian.PutUint16(buf[34:36], 32)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(buf[44+i*4:], math.Float32bits(s))
	}
	return buf
}

func TestEncodeDecodeWAV_Int16(t *testing.T) {
	in := []float32{0, 0.5, -0.5, 0.25}
	data, err := audio.EncodeWAV(in, 16000, 1)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Fatalf("missing RIFF/WAVE header: %q", data[:12])
	}

	pcm, err := audio.DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if pcm.SampleRate != 16000 || pcm.Channels != 1 {
		t.Fatalf("layout = %d Hz / %d ch", pcm.SampleRate, pcm.Channels)
	}
	if len(pcm.Samples) != len(in) {
		t.Fatalf("len = %d, want %d", len(pcm.Samples), len(in))
	}
	for i := range in {
		if !approxEqual(pcm.Samples[i], in[i]) {
			t.Errorf("sample %d = %v, want %v", i, pcm.Samples[i], in[i])
		}
	}
}

func TestDecodeWAV_Float32Stereo(t *testing.T) {
	in := []float32{0.25, -0.25, 1, -1}
	pcm, err := audio.DecodeWAV(floatWAV(in, 48000, 2))
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if pcm.SampleRate != 48000 || pcm.Channels != 2 {
		t.Fatalf("layout = %d Hz / %d ch", pcm.SampleRate, pcm.Channels)
	}
	if pcm.Frames() != 2 {
		t.Errorf("Frames = %d, want 2", pcm.Frames())
	}
	for i := range in {
		if pcm.Samples[i] != in[i] {
			t.Errorf("sample %d = %v, want %v", i, pcm.Samples[i], in[i])
		}
	}
}

func TestDecodeWAV_FloatDataSizeBeyondInput(t *testing.T) {
	data := floatWAV([]float32{0.25, 0.5}, 16000, 1)
	if len(data) != 52 {
		t.Fatalf("fixture is %d bytes, want 52", len(data))
	}
	binary.LittleEndian.PutUint32(data[40:44], 0xFFFFFFF0)

	pcm, err := audio.DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if len(pcm.Samples) != 2 || pcm.Samples[0] != 0.25 || pcm.Samples[1] != 0.5 {
		t.Errorf("samples = %v, want [0.25 0.5]", pcm.Samples)
	}
}

func TestDecodeWAV_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"garbage", []byte("definitely not audio")},
		{"truncated header", []byte("RIFF\x00\x00\x00\x00WAVE")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := audio.DecodeWAV(tt.data); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestEncodeWAV_InvalidLayout(t *testing.T) {
	if _, err := audio.EncodeWAV([]float32{0}, 0, 1); err == nil {
		t.Error("expected error for zero sample rate")
	}
}
