package gameboy

import "testing"

func romOf(code ...byte) []byte {
	rom := make([]byte, 0x8000)
	copy(rom[0x0100:], code)
	return rom
}

func TestGameboy_StepExecutesNOPAndAdvancesPC(t *testing.T) {
	g := New(Config{})
	g.LoadROM(romOf(0x00, 0x00, 0x00))
	g.Step()
	if g.cpu.PC != 0x0101 {
		t.Fatalf("PC after one NOP = %04X, want 0101", g.cpu.PC)
	}
}

func TestGameboy_FatalExecutionOnInvalidPC(t *testing.T) {
	g := New(Config{})
	g.LoadROM(romOf(0x00))
	g.cpu.SetPC(0xFF10) // inside the I/O register block: never valid code

	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected a panic for PC in invalid memory")
		}
		if _, ok := r.(*FatalExecutionError); !ok {
			t.Fatalf("expected *FatalExecutionError, got %T", r)
		}
	}()
	g.Step()
}

func TestGameboy_RunFrameReachesVBlankBeforeWatchdog(t *testing.T) {
	g := New(Config{})
	// LD A,0x91; LDH (FF40),A; loop: JR loop
	g.LoadROM(romOf(0x3E, 0x91, 0xE0, 0x40, 0x18, 0xFE))

	steps := 0
	raised := false
	for ; steps < watchdogInstructions; steps++ {
		if g.Step() {
			raised = true
			break
		}
	}
	if !raised {
		t.Fatalf("VBlank never raised within watchdog budget")
	}
	if steps >= watchdogInstructions {
		t.Fatalf("took the full watchdog budget to reach VBlank")
	}
}

func TestGameboy_RunFrameWatchdogStopsRunawayLoop(t *testing.T) {
	g := New(Config{})
	// LD A,0x00; LDH (FF40),A (LCD stays off, so VBlank never fires); JR loop
	g.LoadROM(romOf(0x3E, 0x00, 0xE0, 0x40, 0x18, 0xFE))
	g.RunFrame() // must return via the watchdog, not hang
}

func TestGameboy_ButtonsRaiseJoypadInterrupt(t *testing.T) {
	g := New(Config{})
	g.LoadROM(romOf(0x00))
	g.bus.Write(0xFF00, 0x20) // select D-pad
	g.SetButtons(Buttons{Right: true})
	if g.bus.Read(0xFF0F)&(1<<4) == 0 {
		t.Fatalf("expected joypad interrupt flag set after a button press")
	}
}
