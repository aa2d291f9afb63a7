package apu

import "testing"

func TestAPU_RegisterReadMasks(t *testing.T) {
	a := New(44100)
	a.CPUWrite(0xFF10, 0x12)
	if got := a.CPURead(0xFF10); got != (0x12&0x7F)|0x80 {
		t.Fatalf("NR10 got %02x", got)
	}
	a.CPUWrite(0xFF11, 0x34)
	if got := a.CPURead(0xFF11); got != (0x34&0xC0)|0x3F {
		t.Fatalf("NR11 got %02x", got)
	}
	if got := a.CPURead(0xFF13); got != 0xFF {
		t.Fatalf("NR13 got %02x want FF", got)
	}
	a.CPUWrite(0xFF14, 0x40)
	if got := a.CPURead(0xFF14); got != 0xFF {
		t.Fatalf("NR14 got %02x want FF (0xBF | bit6)", got)
	}
}

func TestAPU_FrameSequencerTiming(t *testing.T) {
	a := New(44100)
	initial := a.fsStep
	a.Tick(8191)
	if a.fsStep != initial {
		t.Fatalf("frame sequencer advanced early")
	}
	a.Tick(1)
	if a.fsStep != (initial+1)&7 {
		t.Fatalf("frame sequencer did not advance at 8192 cycles")
	}
	for i := 0; i < 7; i++ {
		a.Tick(8192)
	}
	if a.fsStep != initial {
		t.Fatalf("frame sequencer should wrap after 8 steps")
	}
}

func TestAPU_PowerOffDropsWritesButPreservesWaveRAM(t *testing.T) {
	a := New(44100)
	a.CPUWrite(0xFF30, 0xAB)
	a.CPUWrite(0xFF24, 0x77)
	a.CPUWrite(0xFF25, 0xFF)
	a.CPUWrite(0xFF26, 0x00) // power off

	a.CPUWrite(0xFF12, 0xF0) // dropped: not NR52/wave/NRx1
	if got := a.CPURead(0xFF12); got != 0 {
		t.Fatalf("NR12 write should have been dropped while powered off, got %02x", got)
	}
	if got := a.CPURead(0xFF30); got != 0xAB {
		t.Fatalf("wave RAM should survive power-off, got %02x", got)
	}
	if got := a.CPURead(0xFF24); got != 0x00 {
		t.Fatalf("NR50 should read 0 after power-off, got %02x", got)
	}
}

func TestAPU_Channel1SquareProducesNonZeroSamples(t *testing.T) {
	a := New(44100)
	a.CPUWrite(0xFF26, 0x80) // power on
	a.CPUWrite(0xFF24, 0x77) // NR50 max volume both sides
	a.CPUWrite(0xFF25, 0xFF) // NR51 route everything everywhere
	a.CPUWrite(0xFF12, 0xF0) // NR12 volume 15, no envelope
	a.CPUWrite(0xFF11, 0x80) // NR11 50% duty
	a.CPUWrite(0xFF13, 0x00) // NR13 freq lo
	a.CPUWrite(0xFF14, 0x87) // NR14 trigger, freq hi

	for i := 0; i < 4200; i++ {
		a.Tick(100)
	}

	samples := a.PullSamples(10000)
	if len(samples) == 0 {
		t.Fatalf("expected buffered samples")
	}
	nonZero := false
	for _, s := range samples {
		if s.L < -1 || s.L > 1 || s.R < -1 || s.R > 1 {
			t.Fatalf("sample out of range: %+v", s)
		}
		if s.L != 0 || s.R != 0 {
			nonZero = true
		}
	}
	if !nonZero {
		t.Fatalf("expected at least one non-zero sample from channel 1")
	}
}

func TestAPU_DACOffDisablesChannelImmediately(t *testing.T) {
	a := New(44100)
	a.CPUWrite(0xFF26, 0x80)
	a.CPUWrite(0xFF12, 0xF0)
	a.CPUWrite(0xFF14, 0x80) // trigger
	if got := a.CPURead(0xFF26); got&0x01 == 0 {
		t.Fatalf("channel 1 should be enabled after trigger")
	}
	a.CPUWrite(0xFF12, 0x00) // upper 5 bits zero -> DAC off
	if got := a.CPURead(0xFF26); got&0x01 != 0 {
		t.Fatalf("channel 1 should be disabled when its DAC turns off")
	}
}

func TestAPU_Channel4NoiseTimerUsesDivisorShift(t *testing.T) {
	a := New(44100)
	a.CPUWrite(0xFF22, 0x10) // shift=1, divSel=0 (divisor 8)
	want := 8 << 1
	if a.ch4.timer != want {
		t.Fatalf("noise timer got %d want %d", a.ch4.timer, want)
	}
}
