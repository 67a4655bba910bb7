package audio

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/go-audio/wav"
)

func TestSamplesByteOrder(t *testing.T) {
	pcm := []byte{0x01, 0x00, 0xff, 0xff, 0x00, 0x80}
	le, err := Samples(pcm, false)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(le, []int{1, -1, -32768}) {
		t.Errorf("little-endian samples = %v", le)
	}
	be, _ := Samples(pcm, true)
	if !reflect.DeepEqual(be, []int{256, -1, 128}) {
		t.Errorf("big-endian samples = %v", be)
	}
}

func TestSamplesOddLength(t *testing.T) {
	if _, err := Samples([]byte{1, 2, 3}, false); err == nil {
		t.Error("Samples() should reject odd-length input")
	}
}

func TestEncodeWAVDecodes(t *testing.T) {
	pcm := []byte{0x10, 0x00, 0x20, 0x00, 0xf0, 0xff, 0x00, 0x00}
	data, err := EncodeWAV(pcm, DefaultSampleRate, false)
	if err != nil {
		t.Fatalf("EncodeWAV() error: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("RIFF")) {
		t.Fatalf("EncodeWAV() output does not start with RIFF: %q", data[:4])
	}

	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		t.Fatal("decoder rejects encoded file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("FullPCMBuffer() error: %v", err)
	}
	if buf.Format.SampleRate != DefaultSampleRate || buf.Format.NumChannels != 1 {
		t.Errorf("format = %+v", buf.Format)
	}
	if !reflect.DeepEqual(buf.Data, []int{16, 32, -16, 0}) {
		t.Errorf("decoded samples = %v", buf.Data)
	}
}

func TestEncodeWAVRejects(t *testing.T) {
	if _, err := EncodeWAV([]byte{1}, 8000, false); err == nil {
		t.Error("EncodeWAV() should reject odd-length PCM")
	}
	if _, err := EncodeWAV([]byte{1, 2}, 0, false); err == nil {
		t.Error("EncodeWAV() should reject a zero sample rate")
	}
}

func TestFill(t *testing.T) {
	out := make([]byte, 8)
	for i := range out {
		out[i] = 0xaa
	}
	n := fill(out, []int16{1, -2}, 4)
	if n != 2 {
		t.Fatalf("fill() consumed %d, want 2", n)
	}
	want := []byte{0x01, 0x00, 0xfe, 0xff, 0, 0, 0, 0}
	if !bytes.Equal(out, want) {
		t.Errorf("fill() wrote %v, want %v", out, want)
	}
}

func TestFillLimitsToFrames(t *testing.T) {
	out := make([]byte, 4)
	if n := fill(out, []int16{1, 2, 3, 4}, 2); n != 2 {
		t.Errorf("fill() consumed %d, want 2", n)
	}
}
