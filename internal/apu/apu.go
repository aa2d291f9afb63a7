// Package apu implements the audio processing unit: four channels, a
// 512 Hz frame sequencer, NR50/NR51 mixing, and a stereo float32 sample
// queue downsampled from the 4.194304 MHz system clock.
package apu

// cpuHz is the DMG system clock in Hz.
const cpuHz = 4194304

// Sample is one stereo output frame in [-1.0, 1.0].
type Sample struct{ L, R float32 }

// APU is a DMG audio unit with channels 1-4 implemented, mixed per
// NR50/NR51 into a pull queue of stereo float samples.
type APU struct {
	enabled bool

	sampleRate      int
	cyclesPerSample float64
	cycAccum        float64

	fsCounter int // cycles until next 512 Hz step
	fsStep    int // 0..7

	nr50 byte // FF24 master volume/VIN
	nr51 byte // FF25 L/R panning

	ch1 chSquare
	ch2 chSquare
	ch3 chWave
	ch4 chNoise

	out     []Sample
	outHead int
	outTail int
}

type chSquare struct {
	enabled bool
	dacOn   bool
	duty    byte
	length  int
	lenEn   bool
	vol     byte
	envDir  int8
	envPer  byte
	curVol  byte
	envTmr  byte
	freq    uint16
	timer   int
	phase   int

	// sweep (channel 1 only)
	sweepPer    byte
	sweepNeg    bool
	sweepShift  byte
	sweepTmr    byte
	sweepEn     bool
	sweepShadow uint16
}

type chWave struct {
	enabled bool
	dacOn   bool
	length  int
	lenEn   bool
	volCode byte
	freq    uint16
	timer   int
	pos     int
	ram     [16]byte // FF30-FF3F
}

type chNoise struct {
	enabled bool
	dacOn   bool
	length  int
	lenEn   bool
	vol     byte
	envDir  int8
	envPer  byte
	curVol  byte
	envTmr  byte
	shift   byte
	width7  bool
	divSel  byte
	timer   int
	lfsr    uint16
}

var dutyTable = [4][8]byte{
	{0, 0, 0, 0, 0, 0, 0, 1}, // 12.5%
	{1, 0, 0, 0, 0, 0, 0, 1}, // 25%
	{1, 0, 0, 0, 0, 1, 1, 1}, // 50%
	{0, 1, 1, 1, 1, 1, 1, 0}, // 75%
}

var noiseDivisors = [8]int{8, 16, 32, 48, 64, 80, 96, 112}

// New constructs an APU producing stereo samples at sampleRate Hz.
func New(sampleRate int) *APU {
	if sampleRate <= 0 {
		sampleRate = 44100
	}
	a := &APU{
		enabled:         true,
		sampleRate:      sampleRate,
		cyclesPerSample: float64(cpuHz) / float64(sampleRate),
		fsCounter:       cpuHz / 512,
		out:             make([]Sample, 32768),
	}
	a.nr50 = 0x77
	a.nr51 = 0xF3
	return a
}

func boolToByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// CPURead reads an APU register, ORing in the fixed bits per the
// hardware's read-mask table.
func (a *APU) CPURead(addr uint16) byte {
	switch addr {
	case 0xFF10:
		n := (a.ch1.sweepPer & 7) << 4
		if a.ch1.sweepNeg {
			n |= 1 << 3
		}
		return 0x80 | n | (a.ch1.sweepShift & 7)
	case 0xFF11:
		return (a.ch1.duty << 6) | 0x3F
	case 0xFF12:
		return (a.ch1.vol << 4) | (boolToByte(a.ch1.envDir > 0) << 3) | (a.ch1.envPer & 7)
	case 0xFF13:
		return 0xFF
	case 0xFF14:
		return 0xBF | (boolToByte(a.ch1.lenEn) << 6)
	case 0xFF16:
		return (a.ch2.duty << 6) | 0x3F
	case 0xFF17:
		return (a.ch2.vol << 4) | (boolToByte(a.ch2.envDir > 0) << 3) | (a.ch2.envPer & 7)
	case 0xFF18:
		return 0xFF
	case 0xFF19:
		return 0xBF | (boolToByte(a.ch2.lenEn) << 6)
	case 0xFF1A:
		return 0x7F | (boolToByte(a.ch3.dacOn) << 7)
	case 0xFF1B:
		return 0xFF
	case 0xFF1C:
		return 0x9F | (a.ch3.volCode << 5)
	case 0xFF1D:
		return 0xFF
	case 0xFF1E:
		return 0xBF | (boolToByte(a.ch3.lenEn) << 6)
	case 0xFF30, 0xFF31, 0xFF32, 0xFF33, 0xFF34, 0xFF35, 0xFF36, 0xFF37,
		0xFF38, 0xFF39, 0xFF3A, 0xFF3B, 0xFF3C, 0xFF3D, 0xFF3E, 0xFF3F:
		return a.ch3.ram[addr-0xFF30]
	case 0xFF20:
		return 0xFF
	case 0xFF21:
		return (a.ch4.vol << 4) | (boolToByte(a.ch4.envDir > 0) << 3) | (a.ch4.envPer & 7)
	case 0xFF22:
		return (a.ch4.shift << 4) | (boolToByte(a.ch4.width7) << 3) | (a.ch4.divSel & 7)
	case 0xFF23:
		return 0xBF | (boolToByte(a.ch4.lenEn) << 6)
	case 0xFF24:
		return a.nr50
	case 0xFF25:
		return a.nr51
	case 0xFF26:
		flags := byte(0)
		if a.ch1.enabled {
			flags |= 1 << 0
		}
		if a.ch2.enabled {
			flags |= 1 << 1
		}
		if a.ch3.enabled {
			flags |= 1 << 2
		}
		if a.ch4.enabled {
			flags |= 1 << 3
		}
		return 0x70 | (boolToByte(a.enabled) << 7) | flags
	default:
		return 0xFF
	}
}

// CPUWrite writes an APU register. With the APU powered off, all writes
// are dropped except to NR52 itself, wave RAM, and the NRx1 length bytes.
func (a *APU) CPUWrite(addr uint16, v byte) {
	if !a.enabled {
		switch addr {
		case 0xFF26, 0xFF11, 0xFF16, 0xFF1B, 0xFF20:
		case 0xFF30, 0xFF31, 0xFF32, 0xFF33, 0xFF34, 0xFF35, 0xFF36, 0xFF37,
			0xFF38, 0xFF39, 0xFF3A, 0xFF3B, 0xFF3C, 0xFF3D, 0xFF3E, 0xFF3F:
		default:
			return
		}
	}

	switch addr {
	case 0xFF10:
		a.ch1.sweepPer = (v >> 4) & 7
		a.ch1.sweepNeg = v&(1<<3) != 0
		a.ch1.sweepShift = v & 7
	case 0xFF11:
		a.ch1.duty = (v >> 6) & 3
		a.ch1.length = 64 - int(v&0x3F)
	case 0xFF12:
		a.ch1.vol = (v >> 4) & 0x0F
		a.ch1.envDir = dirOf(v)
		a.ch1.envPer = v & 7
		a.ch1.dacOn = v&0xF8 != 0
		if !a.ch1.dacOn {
			a.ch1.enabled = false
		}
	case 0xFF13:
		a.ch1.freq = (a.ch1.freq & 0x0700) | uint16(v)
		a.reloadCh1Timer()
	case 0xFF14:
		a.ch1.lenEn = v&(1<<6) != 0
		a.ch1.freq = (a.ch1.freq & 0x00FF) | (uint16(v&7) << 8)
		if v&(1<<7) != 0 {
			a.triggerCh1()
		}
	case 0xFF16:
		a.ch2.duty = (v >> 6) & 3
		a.ch2.length = 64 - int(v&0x3F)
	case 0xFF17:
		a.ch2.vol = (v >> 4) & 0x0F
		a.ch2.envDir = dirOf(v)
		a.ch2.envPer = v & 7
		a.ch2.dacOn = v&0xF8 != 0
		if !a.ch2.dacOn {
			a.ch2.enabled = false
		}
	case 0xFF18:
		a.ch2.freq = (a.ch2.freq & 0x0700) | uint16(v)
		a.reloadCh2Timer()
	case 0xFF19:
		a.ch2.lenEn = v&(1<<6) != 0
		a.ch2.freq = (a.ch2.freq & 0x00FF) | (uint16(v&7) << 8)
		if v&(1<<7) != 0 {
			a.triggerCh2()
		}
	case 0xFF1A:
		a.ch3.dacOn = v&0x80 != 0
		if !a.ch3.dacOn {
			a.ch3.enabled = false
		}
	case 0xFF1B:
		a.ch3.length = 256 - int(v)
	case 0xFF1C:
		a.ch3.volCode = (v >> 5) & 3
	case 0xFF1D:
		a.ch3.freq = (a.ch3.freq & 0x0700) | uint16(v)
		a.reloadCh3Timer()
	case 0xFF1E:
		a.ch3.lenEn = v&(1<<6) != 0
		a.ch3.freq = (a.ch3.freq & 0x00FF) | (uint16(v&7) << 8)
		if v&(1<<7) != 0 {
			a.triggerCh3()
		}
	case 0xFF30, 0xFF31, 0xFF32, 0xFF33, 0xFF34, 0xFF35, 0xFF36, 0xFF37,
		0xFF38, 0xFF39, 0xFF3A, 0xFF3B, 0xFF3C, 0xFF3D, 0xFF3E, 0xFF3F:
		a.ch3.ram[addr-0xFF30] = v
	case 0xFF20:
		a.ch4.length = 64 - int(v&0x3F)
	case 0xFF21:
		a.ch4.vol = (v >> 4) & 0x0F
		a.ch4.envDir = dirOf(v)
		a.ch4.envPer = v & 7
		a.ch4.dacOn = v&0xF8 != 0
		if !a.ch4.dacOn {
			a.ch4.enabled = false
		}
	case 0xFF22:
		a.ch4.shift = (v >> 4) & 0x0F
		a.ch4.width7 = v&(1<<3) != 0
		a.ch4.divSel = v & 7
		a.reloadCh4Timer()
	case 0xFF23:
		a.ch4.lenEn = v&(1<<6) != 0
		if v&(1<<7) != 0 {
			a.triggerCh4()
		}
	case 0xFF24:
		a.nr50 = v
	case 0xFF25:
		a.nr51 = v
	case 0xFF26:
		pwr := v&(1<<7) != 0
		if !pwr && a.enabled {
			wave := a.ch3.ram
			sr := a.sampleRate
			buf := a.out
			*a = *New(sr)
			a.out = buf
			a.ch3.ram = wave
			a.enabled = false
			a.nr50 = 0
			a.nr51 = 0
		} else if pwr {
			a.enabled = true
		}
	}
}

func dirOf(v byte) int8 {
	if v&(1<<3) != 0 {
		return 1
	}
	return -1
}

func (a *APU) triggerCh1() {
	a.ch1.enabled = a.ch1.dacOn
	if a.ch1.length == 0 {
		a.ch1.length = 64
	}
	a.ch1.phase = 0
	a.reloadCh1Timer()
	a.ch1.curVol = a.ch1.vol
	per := a.ch1.envPer
	if per == 0 {
		per = 8
	}
	a.ch1.envTmr = per
	a.ch1.sweepShadow = a.ch1.freq & 0x7FF
	a.ch1.sweepEn = a.ch1.sweepPer != 0 || a.ch1.sweepShift != 0
	st := a.ch1.sweepPer
	if st == 0 {
		st = 8
	}
	a.ch1.sweepTmr = st
	if a.ch1.sweepShift != 0 && a.calcCh1Sweep() > 2047 {
		a.ch1.enabled = false
	}
}

func (a *APU) triggerCh2() {
	a.ch2.enabled = a.ch2.dacOn
	if a.ch2.length == 0 {
		a.ch2.length = 64
	}
	a.ch2.phase = 0
	a.reloadCh2Timer()
	a.ch2.curVol = a.ch2.vol
	per := a.ch2.envPer
	if per == 0 {
		per = 8
	}
	a.ch2.envTmr = per
}

func (a *APU) triggerCh3() {
	a.ch3.enabled = a.ch3.dacOn
	if a.ch3.length == 0 {
		a.ch3.length = 256
	}
	a.ch3.pos = 0
	a.reloadCh3Timer()
}

func (a *APU) triggerCh4() {
	a.ch4.enabled = a.ch4.dacOn
	if a.ch4.length == 0 {
		a.ch4.length = 64
	}
	a.ch4.curVol = a.ch4.vol
	per := a.ch4.envPer
	if per == 0 {
		per = 8
	}
	a.ch4.envTmr = per
	a.ch4.lfsr = 0x7FFF
	a.reloadCh4Timer()
}

func (a *APU) reloadCh1Timer() {
	a.ch1.timer = int(4 * (2048 - (a.ch1.freq & 0x7FF)))
}

func (a *APU) reloadCh2Timer() {
	a.ch2.timer = int(4 * (2048 - (a.ch2.freq & 0x7FF)))
}

func (a *APU) reloadCh3Timer() {
	a.ch3.timer = int(2 * (2048 - (a.ch3.freq & 0x7FF)))
}

func (a *APU) reloadCh4Timer() {
	a.ch4.timer = noiseDivisors[a.ch4.divSel&7] << a.ch4.shift
}

// Tick advances the APU by the given number of T-cycles.
func (a *APU) Tick(cycles int) {
	for i := 0; i < cycles; i++ {
		if !a.enabled {
			continue
		}
		a.fsCounter--
		if a.fsCounter <= 0 {
			a.fsCounter += cpuHz / 512
			a.fsStep = (a.fsStep + 1) & 7
			if a.fsStep%2 == 0 {
				a.clockLength()
			}
			if a.fsStep == 2 || a.fsStep == 6 {
				a.clockSweep()
			}
			if a.fsStep == 7 {
				a.clockEnvelope()
			}
		}

		if a.ch1.enabled {
			a.ch1.timer--
			if a.ch1.timer <= 0 {
				a.reloadCh1Timer()
				a.ch1.phase = (a.ch1.phase + 1) & 7
			}
		}
		if a.ch2.enabled {
			a.ch2.timer--
			if a.ch2.timer <= 0 {
				a.reloadCh2Timer()
				a.ch2.phase = (a.ch2.phase + 1) & 7
			}
		}
		if a.ch3.enabled {
			a.ch3.timer--
			if a.ch3.timer <= 0 {
				a.reloadCh3Timer()
				a.ch3.pos = (a.ch3.pos + 1) & 31
			}
		}
		if a.ch4.enabled {
			a.ch4.timer--
			if a.ch4.timer <= 0 {
				a.reloadCh4Timer()
				x := (a.ch4.lfsr ^ (a.ch4.lfsr >> 1)) & 1
				a.ch4.lfsr >>= 1
				a.ch4.lfsr |= x << 14
				if a.ch4.width7 {
					a.ch4.lfsr &^= 1 << 6
					a.ch4.lfsr |= x << 6
				}
			}
		}

		a.cycAccum++
		for a.cycAccum >= a.cyclesPerSample {
			a.cycAccum -= a.cyclesPerSample
			a.pushSample(a.mix())
		}
	}
}

func (a *APU) clockLength() {
	if a.ch1.lenEn && a.ch1.length > 0 {
		a.ch1.length--
		if a.ch1.length == 0 {
			a.ch1.enabled = false
		}
	}
	if a.ch2.lenEn && a.ch2.length > 0 {
		a.ch2.length--
		if a.ch2.length == 0 {
			a.ch2.enabled = false
		}
	}
	if a.ch3.lenEn && a.ch3.length > 0 {
		a.ch3.length--
		if a.ch3.length == 0 {
			a.ch3.enabled = false
		}
	}
	if a.ch4.lenEn && a.ch4.length > 0 {
		a.ch4.length--
		if a.ch4.length == 0 {
			a.ch4.enabled = false
		}
	}
}

func clockEnvelopeOf(enabled bool, per byte, tmr *byte, dir int8, curVol *byte) {
	if !enabled || per == 0 {
		return
	}
	if *tmr > 0 {
		*tmr--
	}
	if *tmr == 0 {
		*tmr = per
		if dir > 0 && *curVol < 15 {
			*curVol++
		} else if dir < 0 && *curVol > 0 {
			*curVol--
		}
	}
}

func (a *APU) clockEnvelope() {
	clockEnvelopeOf(a.ch1.enabled, a.ch1.envPer, &a.ch1.envTmr, a.ch1.envDir, &a.ch1.curVol)
	clockEnvelopeOf(a.ch2.enabled, a.ch2.envPer, &a.ch2.envTmr, a.ch2.envDir, &a.ch2.curVol)
	clockEnvelopeOf(a.ch4.enabled, a.ch4.envPer, &a.ch4.envTmr, a.ch4.envDir, &a.ch4.curVol)
}

func (a *APU) clockSweep() {
	if !a.ch1.enabled || !a.ch1.sweepEn || a.ch1.sweepPer == 0 {
		return
	}
	if a.ch1.sweepTmr > 0 {
		a.ch1.sweepTmr--
	}
	if a.ch1.sweepTmr == 0 {
		a.ch1.sweepTmr = a.ch1.sweepPer
		nf := a.calcCh1Sweep()
		if nf > 2047 {
			a.ch1.enabled = false
			return
		}
		if a.ch1.sweepShift != 0 {
			a.ch1.sweepShadow = uint16(nf)
			a.ch1.freq = uint16(nf) & 0x7FF
			a.reloadCh1Timer()
			if a.calcCh1Sweep() > 2047 {
				a.ch1.enabled = false
			}
		}
	}
}

func (a *APU) calcCh1Sweep() int {
	base := int(a.ch1.sweepShadow)
	delta := base >> a.ch1.sweepShift
	if a.ch1.sweepNeg {
		return base - delta
	}
	return base + delta
}

// mix computes one stereo sample per the NR50/NR51 routing rules: each
// enabled channel contributes a value in [0,1], NR51 selects which
// channels reach which side, and NR50's 3-bit volume scales the sum.
func (a *APU) mix() Sample {
	c := [4]float64{}
	if a.ch1.enabled && a.ch1.dacOn {
		if dutyTable[a.ch1.duty][a.ch1.phase] != 0 {
			c[0] = float64(a.ch1.curVol) / 15.0
		}
	}
	if a.ch2.enabled && a.ch2.dacOn {
		if dutyTable[a.ch2.duty][a.ch2.phase] != 0 {
			c[1] = float64(a.ch2.curVol) / 15.0
		}
	}
	if a.ch3.enabled && a.ch3.dacOn {
		b := a.ch3.ram[a.ch3.pos>>1]
		var n4 byte
		if a.ch3.pos&1 == 0 {
			n4 = (b >> 4) & 0x0F
		} else {
			n4 = b & 0x0F
		}
		shifts := [4]byte{4, 0, 1, 2}
		c[2] = float64(n4>>shifts[a.ch3.volCode]) / 15.0
	}
	if a.ch4.enabled && a.ch4.dacOn {
		if a.ch4.lfsr&1 == 0 {
			c[3] = float64(a.ch4.curVol) / 15.0
		}
	}

	rMask := a.nr51 & 0x0F
	lMask := (a.nr51 >> 4) & 0x0F
	var l, r float64
	for i := 0; i < 4; i++ {
		if lMask&(1<<uint(i)) != 0 {
			l += c[i]
		}
		if rMask&(1<<uint(i)) != 0 {
			r += c[i]
		}
	}
	lv := float64(((a.nr50>>4)&0x07)+1) / 32.0
	rv := float64((a.nr50&0x07)+1) / 32.0
	l *= lv
	r *= rv
	if l > 1 {
		l = 1
	}
	if r > 1 {
		r = 1
	}
	return Sample{L: float32(l), R: float32(r)}
}

func (a *APU) pushSample(s Sample) {
	next := (a.outHead + 1) & (len(a.out) - 1)
	if next == a.outTail {
		return // drop when the consumer falls behind
	}
	a.out[a.outHead] = s
	a.outHead = next
}

// PullSamples drains up to max buffered stereo samples.
func (a *APU) PullSamples(max int) []Sample {
	if max <= 0 || a.outHead == a.outTail {
		return nil
	}
	out := make([]Sample, 0, max)
	for len(out) < max && a.outTail != a.outHead {
		out = append(out, a.out[a.outTail])
		a.outTail = (a.outTail + 1) & (len(a.out) - 1)
	}
	return out
}

// Available returns the number of stereo samples currently buffered.
func (a *APU) Available() int {
	if a.outHead >= a.outTail {
		return a.outHead - a.outTail
	}
	return (len(a.out) - a.outTail) + a.outHead
}
