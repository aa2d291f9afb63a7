// Command dmgcore runs the emulator core either windowed (ebiten) or
// headless for test-ROM diagnostics (blargg-style pass/fail detection).
package main

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ziggornif/dmg-emu/internal/cart"
	"github.com/ziggornif/dmg-emu/internal/gameboy"
	"github.com/ziggornif/dmg-emu/internal/ui"
)

func main() {
	app := &cli.App{
		Name:  "dmgcore",
		Usage: "a Game Boy (DMG) emulator core",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "rom", Usage: "path to ROM (.gb)", Required: true},
			&cli.StringFlag{Name: "bootrom", Usage: "optional DMG boot ROM to run from 0x0000"},
			&cli.IntFlag{Name: "scale", Value: 3, Usage: "window scale (windowed mode only)"},
			&cli.BoolFlag{Name: "save", Value: true, Usage: "persist battery RAM to ROM.sav on exit"},
			&cli.BoolFlag{Name: "headless", Usage: "run without a window, for diagnostics/test ROMs"},
			&cli.IntFlag{Name: "frames", Value: 600, Usage: "frames to run in headless mode"},
			&cli.DurationFlag{Name: "timeout", Usage: "wall-clock timeout for headless mode, 0 disables"},
			&cli.StringFlag{Name: "until", Value: "Passed", Usage: "headless: stop when serial output contains this substring, case-insensitive; empty disables"},
			&cli.BoolFlag{Name: "auto", Usage: "headless: detect 'Passed'/'Failed N tests' in serial output and set exit code"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	romPath := c.String("rom")
	rom, err := os.ReadFile(romPath)
	if err != nil {
		return fmt.Errorf("read rom: %w", err)
	}
	if h, err := cart.ParseHeader(rom); err == nil {
		log.Printf("ROM: %q type=%s banks=%d ram=%dB", h.Title, h.CartTypeStr, h.ROMBanks, h.RAMSizeBytes)
	}

	gb := gameboy.New(gameboy.Config{})
	var boot []byte
	if p := c.String("bootrom"); p != "" {
		if boot, err = os.ReadFile(p); err != nil {
			return fmt.Errorf("read bootrom: %w", err)
		}
	}
	if len(boot) >= 0x100 {
		gb.LoadROMWithBootROM(rom, boot)
	} else {
		gb.LoadROM(rom)
	}

	savPath := strings.TrimSuffix(romPath, ".gb") + ".sav"
	battery, hasBattery := gb.Cart().(cart.BatteryBacked)
	if c.Bool("save") && hasBattery {
		if data, err := os.ReadFile(savPath); err == nil {
			battery.LoadRAM(data)
		}
	}

	var runErr error
	if c.Bool("headless") {
		runErr = runHeadless(c, gb)
	} else {
		app := ui.NewApp(ui.Config{Scale: c.Int("scale")}, gb, rom, boot)
		runErr = app.Run()
	}

	if c.Bool("save") && hasBattery {
		if data := battery.SaveRAM(); data != nil {
			_ = os.WriteFile(savPath, data, 0644)
		}
	}
	return runErr
}

func runHeadless(c *cli.Context, gb *gameboy.Gameboy) (runErr error) {
	var ser bytes.Buffer
	until := c.String("until")
	auto := c.Bool("auto")
	if until != "" || auto {
		gb.SetSerialWriter(&ser)
	}

	failRe := regexp.MustCompile(`(?i)failed\s+(\d+)\s+tests?`)
	start := time.Now()
	var deadline time.Time
	if t := c.Duration("timeout"); t > 0 {
		deadline = start.Add(t)
	}

	defer func() {
		if r := recover(); r != nil {
			if fe, ok := r.(*gameboy.FatalExecutionError); ok {
				runErr = fe
				return
			}
			panic(r)
		}
	}()

	frames := c.Int("frames")
	for i := 0; i < frames; i++ {
		gb.RunFrame()

		if auto {
			s := ser.String()
			if strings.Contains(strings.ToLower(s), "passed") {
				fmt.Printf("Detected PASS in serial output after %d frames.\n", i+1)
				return nil
			}
			if m := failRe.FindStringSubmatch(s); m != nil {
				fmt.Printf("Detected %s in serial output after %d frames.\n", m[0], i+1)
				return fmt.Errorf("test ROM reported failure: %s", m[0])
			}
		} else if until != "" {
			if strings.Contains(strings.ToLower(ser.String()), strings.ToLower(until)) {
				fmt.Printf("Detected %q in serial output after %d frames.\n", until, i+1)
				return nil
			}
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return fmt.Errorf("timeout after %s (%d frames)", time.Since(start).Truncate(time.Millisecond), i+1)
		}
	}
	fmt.Printf("Ran %d frames without a conclusive serial marker.\n", frames)
	return nil
}
