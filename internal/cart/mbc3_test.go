package cart

import "testing"

func TestMBC3_ROMBanking(t *testing.T) {
	rom := make([]byte, 128*0x4000)
	for bank := 0; bank < 128; bank++ {
		rom[bank*0x4000] = byte(bank)
	}
	m := NewMBC3(rom, 0)

	if got := m.Read(0x0000); got != 0x00 {
		t.Fatalf("bank0 region read got %02X want 00", got)
	}
	if got := m.Read(0x4000); got != 0x01 {
		t.Fatalf("switchable bank defaults to 1, got %02X", got)
	}

	m.Write(0x2000, 0x05)
	if got := m.Read(0x4000); got != 0x05 {
		t.Fatalf("bank5 read got %02X want 05", got)
	}

	// Writing 0 remaps to 1, same as MBC1.
	m.Write(0x2000, 0x00)
	if got := m.Read(0x4000); got != 0x01 {
		t.Fatalf("bank0->1 remap failed: got %02X", got)
	}

	// All 7 bits are significant (unlike MBC1's 5).
	m.Write(0x2000, 0x7F)
	if got := m.Read(0x4000); got != 0x7F {
		t.Fatalf("bank 0x7F read got %02X want 7F", got)
	}
}

func TestMBC3_RAMEnableGatesAccess(t *testing.T) {
	rom := make([]byte, 0x8000)
	m := NewMBC3(rom, 0x2000)

	// RAM disabled by default: reads as 0xFF, writes dropped.
	if got := m.Read(0xA000); got != 0xFF {
		t.Fatalf("disabled RAM read got %02X want FF", got)
	}
	m.Write(0xA000, 0x42)
	if got := m.Read(0xA000); got != 0xFF {
		t.Fatalf("write through disabled RAM got %02X want FF", got)
	}

	m.Write(0x0000, 0x0A)
	m.Write(0xA000, 0x42)
	if got := m.Read(0xA000); got != 0x42 {
		t.Fatalf("enabled RAM RW failed: got %02X want 42", got)
	}
}

func TestMBC3_RAMBankSelect(t *testing.T) {
	rom := make([]byte, 0x8000)
	m := NewMBC3(rom, 4*0x2000)
	m.Write(0x0000, 0x0A)

	m.Write(0x4000, 0x02)
	m.Write(0xA000, 0x77)

	m.Write(0x4000, 0x00)
	if got := m.Read(0xA000); got == 0x77 {
		t.Fatalf("RAM bank 0 unexpectedly aliases bank 2's data")
	}

	m.Write(0x4000, 0x02)
	if got := m.Read(0xA000); got != 0x77 {
		t.Fatalf("RAM bank2 RW failed: got %02X want 77", got)
	}
}

func TestMBC3_RTCRegisterSelectIgnoredAsRAMBankZero(t *testing.T) {
	// This build has no RTC: selecting an RTC register (0x08-0x0C) falls
	// back to RAM bank 0 rather than exposing clock registers.
	rom := make([]byte, 0x8000)
	m := NewMBC3(rom, 0x2000)
	m.Write(0x0000, 0x0A)

	m.Write(0x4000, 0x00)
	m.Write(0xA000, 0x99)

	m.Write(0x4000, 0x08)
	if got := m.Read(0xA000); got != 0x99 {
		t.Fatalf("RTC-select read got %02X, want RAM bank0's 99", got)
	}
}

func TestMBC3_LatchWriteIsNoop(t *testing.T) {
	rom := make([]byte, 0x8000)
	m := NewMBC3(rom, 0x2000)
	m.Write(0x0000, 0x0A)
	m.Write(0xA000, 0x10)

	m.Write(0x6000, 0x00)
	m.Write(0x6000, 0x01)
	if got := m.Read(0xA000); got != 0x10 {
		t.Fatalf("latch write disturbed RAM: got %02X want 10", got)
	}
}

func TestMBC3_SaveLoadRAMRoundTrip(t *testing.T) {
	rom := make([]byte, 0x8000)
	m := NewMBC3(rom, 0x2000)
	m.Write(0x0000, 0x0A)
	m.Write(0xA000, 0xAB)
	m.Write(0xA001, 0xCD)

	data := m.SaveRAM()

	n := NewMBC3(rom, 0x2000)
	n.LoadRAM(data)
	n.Write(0x0000, 0x0A)
	if got := n.Read(0xA000); got != 0xAB {
		t.Fatalf("restored RAM[0] got %02X want AB", got)
	}
	if got := n.Read(0xA001); got != 0xCD {
		t.Fatalf("restored RAM[1] got %02X want CD", got)
	}
}
