package ui

import (
	"encoding/binary"
	"time"

	"github.com/ziggornif/dmg-emu/internal/gameboy"
)

// apuStream implements io.Reader by pulling stereo float32 samples from the
// Gameboy's APU and converting them to 16-bit little-endian stereo frames,
// the PCM format ebiten's audio.Player expects.
type apuStream struct {
	gb    *gameboy.Gameboy
	muted *bool

	underruns  int
	lastPulled int
}

func (s *apuStream) Read(p []byte) (int, error) {
	if len(p) < 4 || s.gb == nil {
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}
	if s.muted != nil && *s.muted {
		for i := range p {
			p[i] = 0
		}
		time.Sleep(5 * time.Millisecond)
		return len(p), nil
	}

	want := len(p) / 4
	samples := s.gb.DrainAudio(want)
	i := 0
	for _, smp := range samples {
		if i+3 >= len(p) {
			break
		}
		binary.LittleEndian.PutUint16(p[i:], uint16(int16(smp.L*32767)))
		binary.LittleEndian.PutUint16(p[i+2:], uint16(int16(smp.R*32767)))
		i += 4
	}
	s.lastPulled = len(samples)
	if len(samples) == 0 {
		s.underruns++
	}
	for ; i+3 < len(p); i += 4 {
		binary.LittleEndian.PutUint16(p[i:], 0)
		binary.LittleEndian.PutUint16(p[i+2:], 0)
	}
	return len(p), nil
}

// applyPlayerBufferSize keeps the audio player's internal buffer small so
// emulator audio doesn't drift far behind real time.
func (a *App) applyPlayerBufferSize() {
	if a.audioPlayer == nil {
		return
	}
	a.audioPlayer.SetBufferSize(40 * time.Millisecond)
}
