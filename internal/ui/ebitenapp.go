package ui

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/audio"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"

	"github.com/ziggornif/dmg-emu/internal/gameboy"
)

// dmgShades maps the PPU's post-palette 2-bit shade (0=lightest) to the
// classic green-tinted DMG screen colors.
var dmgShades = [4]color.RGBA{
	{0x9B, 0xBC, 0x0F, 0xFF},
	{0x8B, 0xAC, 0x0F, 0xFF},
	{0x30, 0x62, 0x30, 0xFF},
	{0x0F, 0x38, 0x0F, 0xFF},
}

type App struct {
	cfg  Config
	gb   *gameboy.Gameboy
	tex  *ebiten.Image
	rgba []byte // scratch buffer, 160*144*4

	rom, boot []byte // retained so R can reload a clean Gameboy

	paused bool
	fast   bool

	lastTime time.Time
	frameAcc float64
	muted    bool

	audioCtx    *audio.Context
	audioPlayer *audio.Player
	audioSrc    *apuStream

	toastMsg   string
	toastUntil time.Time
}

// NewApp wires an ebiten host application around an already-loaded Gameboy.
// rom (and, if a boot ROM was used, boot) are retained so the player can
// reset back to a clean power-on state with a key press.
func NewApp(cfg Config, gb *gameboy.Gameboy, rom, boot []byte) *App {
	cfg.Defaults()
	ebiten.SetWindowTitle(cfg.Title)
	ebiten.SetWindowSize(160*cfg.Scale, 144*cfg.Scale)

	return &App{
		cfg:      cfg,
		gb:       gb,
		rom:      rom,
		boot:     boot,
		rgba:     make([]byte, 160*144*4),
		lastTime: time.Now(),
		audioCtx: audio.NewContext(48000),
	}
}

// reset reloads the retained ROM bytes into the Gameboy, returning it to
// power-on state as if the cartridge had just been inserted.
func (a *App) reset() {
	if len(a.boot) >= 0x100 {
		a.gb.LoadROMWithBootROM(a.rom, a.boot)
	} else {
		a.gb.LoadROM(a.rom)
	}
	a.toast("Reset")
}

func (a *App) Run() error { return ebiten.RunGame(a) }

func (a *App) Update() error {
	if a.audioPlayer == nil {
		a.muted = true
		a.audioSrc = &apuStream{gb: a.gb, muted: &a.muted}
		if p, err := a.audioCtx.NewPlayer(a.audioSrc); err == nil {
			a.audioPlayer = p
			a.applyPlayerBufferSize()
			a.audioPlayer.Play()
		}
	}

	var btn gameboy.Buttons
	if ebiten.IsKeyPressed(ebiten.KeyRight) {
		btn.Right = true
	}
	if ebiten.IsKeyPressed(ebiten.KeyLeft) {
		btn.Left = true
	}
	if ebiten.IsKeyPressed(ebiten.KeyUp) {
		btn.Up = true
	}
	if ebiten.IsKeyPressed(ebiten.KeyDown) {
		btn.Down = true
	}
	if ebiten.IsKeyPressed(ebiten.KeyZ) {
		btn.A = true
	}
	if ebiten.IsKeyPressed(ebiten.KeyX) {
		btn.B = true
	}
	if ebiten.IsKeyPressed(ebiten.KeyEnter) {
		btn.Start = true
	}
	if ebiten.IsKeyPressed(ebiten.KeyShiftRight) {
		btn.Select = true
	}
	a.gb.SetButtons(btn)

	if inpututil.IsKeyJustPressed(ebiten.KeyP) {
		a.paused = !a.paused
	}
	a.fast = ebiten.IsKeyPressed(ebiten.KeyTab)
	if inpututil.IsKeyJustPressed(ebiten.KeyM) {
		a.muted = !a.muted
		a.toast(map[bool]string{true: "Muted", false: "Unmuted"}[a.muted])
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyF11) {
		ebiten.SetFullscreen(!ebiten.IsFullscreen())
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyF12) {
		_ = a.saveScreenshot()
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyR) && len(a.rom) > 0 {
		a.reset()
	}

	if !a.paused {
		now := time.Now()
		dt := now.Sub(a.lastTime).Seconds()
		if dt < 0 || dt > 0.25 {
			dt = 0
		}
		a.lastTime = now
		const gbFPS = 4194304.0 / 70224.0
		speed := 1.0
		if a.fast {
			speed = 4.0
		}
		a.frameAcc += dt * gbFPS * speed
		steps := 0
		for a.frameAcc >= 1.0 && steps < 8 {
			a.gb.RunFrame()
			a.frameAcc -= 1.0
			steps++
		}
	} else {
		a.lastTime = time.Now()
	}

	return nil
}

func (a *App) Draw(screen *ebiten.Image) {
	if a.tex == nil {
		a.tex = ebiten.NewImage(160, 144)
	}
	fb := a.gb.Framebuffer()
	for i, shade := range fb {
		c := dmgShades[shade&0x03]
		a.rgba[i*4+0] = c.R
		a.rgba[i*4+1] = c.G
		a.rgba[i*4+2] = c.B
		a.rgba[i*4+3] = c.A
	}
	a.tex.WritePixels(a.rgba)
	screen.DrawImage(a.tex, nil)

	if a.paused {
		ebitenutil.DebugPrintAt(screen, "PAUSED", 4, 4)
	}
	if a.toastMsg != "" && time.Now().Before(a.toastUntil) {
		ebitenutil.DebugPrintAt(screen, a.toastMsg, 4, 132)
	}
}

func (a *App) Layout(outW, outH int) (int, int) { return 160, 144 }

func (a *App) toast(msg string) {
	a.toastMsg = msg
	a.toastUntil = time.Now().Add(2 * time.Second)
}

func (a *App) saveScreenshot() error {
	img := &image.RGBA{
		Pix:    make([]byte, len(a.rgba)),
		Stride: 4 * 160,
		Rect:   image.Rect(0, 0, 160, 144),
	}
	copy(img.Pix, a.rgba)
	name := fmt.Sprintf("screenshot_%s.png", time.Now().Format("20060102_150405"))
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}
