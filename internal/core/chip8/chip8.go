// Package chip8 implements the classic 35-opcode interpreted console as the
// bundled reference machine. The interpreter is fully deterministic: the RND
// opcode draws from an xorshift generator that is seeded on image load and
// carried inside exported state, so identical inputs always produce
// identical frames and state blobs.
package chip8

import (
	"fmt"

	"github.com/thelolagemann/gameport/internal/core"
)

const (
	// DisplayWidth and DisplayHeight are the native framebuffer dimensions.
	DisplayWidth  = 64
	DisplayHeight = 32

	memorySize    = 4096
	programStart  = 0x200
	fontStart     = 0x50
	maxImageSize  = memorySize - programStart
	tickRate      = 60
	cyclesPerTick = 10

	rngSeed = 0x2f6b651d
)

// fontSet is the 16-glyph hex font, 5 bytes per glyph, loaded at fontStart.
var fontSet = [80]byte{
	0xF0, 0x90, 0x90, 0x90, 0xF0, // 0
	0x20, 0x60, 0x20, 0x20, 0x70, // 1
	0xF0, 0x10, 0xF0, 0x80, 0xF0, // 2
	0xF0, 0x10, 0xF0, 0x10, 0xF0, // 3
	0x90, 0x90, 0xF0, 0x10, 0x10, // 4
	0xF0, 0x80, 0xF0, 0x10, 0xF0, // 5
	0xF0, 0x80, 0xF0, 0x90, 0xF0, // 6
	0xF0, 0x10, 0x20, 0x40, 0x40, // 7
	0xF0, 0x90, 0xF0, 0x90, 0xF0, // 8
	0xF0, 0x90, 0xF0, 0x10, 0xF0, // 9
	0xF0, 0x90, 0xF0, 0x90, 0x90, // A
	0xE0, 0x90, 0xE0, 0x90, 0xE0, // B
	0xF0, 0x80, 0x80, 0x80, 0xF0, // C
	0xE0, 0x90, 0x90, 0x90, 0xE0, // D
	0xF0, 0x80, 0xF0, 0x80, 0xF0, // E
	0xF0, 0x80, 0xF0, 0x80, 0x80, // F
}

// padKeys maps the 8-button pad onto the 16-key hex keypad. Direction keys
// take the conventional 2/4/6/8 layout; A/B/Start/Select alias the keys the
// common public-domain images poll.
var padKeys = []struct {
	btn core.Buttons
	key byte
}{
	{core.ButtonUp, 0x2},
	{core.ButtonLeft, 0x4},
	{core.ButtonRight, 0x6},
	{core.ButtonDown, 0x8},
	{core.ButtonA, 0x5},
	{core.ButtonB, 0x0},
	{core.ButtonStart, 0x1},
	{core.ButtonSelect, 0xC},
}

func init() {
	core.Register(".ch8", func() core.Console { return New() })
}

// CHIP8 is one interpreter instance. It implements core.Console.
type CHIP8 struct {
	mem   [memorySize]byte
	v     [16]byte
	i     uint16
	pc    uint16
	sp    byte
	stack [16]uint16

	dt byte // delay timer, decremented once per tick
	st byte // sound timer, decremented once per tick (no audio out)

	keys uint16 // held keypad mask, one bit per hex key

	display [DisplayWidth * DisplayHeight]byte

	rng uint32

	fb []byte // lazily rendered RGBA view of display
}

// New returns a powered-on machine with no image loaded.
func New() *CHIP8 {
	c := &CHIP8{}
	c.reset()
	return c
}

func (c *CHIP8) reset() {
	*c = CHIP8{pc: programStart, rng: rngSeed}
	copy(c.mem[fontStart:], fontSet[:])
}

// LoadImage resets the machine and copies the program into memory at the
// conventional load address.
func (c *CHIP8) LoadImage(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("empty image")
	}
	if len(data) > maxImageSize {
		return fmt.Errorf("image is %d bytes, exceeds the %d byte program area", len(data), maxImageSize)
	}
	c.reset()
	copy(c.mem[programStart:], data)
	return nil
}

// TickRate reports the native timer rate.
func (c *CHIP8) TickRate() int { return tickRate }

// Tick runs one timer period: a fixed number of CPU cycles followed by a
// timer decrement.
func (c *CHIP8) Tick() {
	for n := 0; n < cyclesPerTick; n++ {
		c.step()
	}
	if c.dt > 0 {
		c.dt--
	}
	if c.st > 0 {
		c.st--
	}
}

// SetInput replaces the held pad mask.
func (c *CHIP8) SetInput(b core.Buttons) {
	var keys uint16
	for _, m := range padKeys {
		if b&m.btn != 0 {
			keys |= 1 << m.key
		}
	}
	c.keys = keys
}

// ClearInput releases all keys.
func (c *CHIP8) ClearInput() { c.keys = 0 }

// Framebuffer renders the 1-bit display as RGBA. The buffer is reused
// between calls.
func (c *CHIP8) Framebuffer() ([]byte, int, int) {
	if c.fb == nil {
		c.fb = make([]byte, DisplayWidth*DisplayHeight*4)
	}
	for i, px := range c.display {
		var lum byte
		if px != 0 {
			lum = 0xFF
		}
		c.fb[i*4+0] = lum
		c.fb[i*4+1] = lum
		c.fb[i*4+2] = lum
		c.fb[i*4+3] = 0xFF
	}
	return c.fb, DisplayWidth, DisplayHeight
}

func (c *CHIP8) rand() byte {
	c.rng ^= c.rng << 13
	c.rng ^= c.rng >> 17
	c.rng ^= c.rng << 5
	return byte(c.rng)
}

// step fetches, decodes and executes a single instruction. Unknown opcodes
// are ignored.
func (c *CHIP8) step() {
	op := uint16(c.mem[c.pc&0x0FFF])<<8 | uint16(c.mem[(c.pc+1)&0x0FFF])
	c.pc += 2

	var (
		nnn = op & 0x0FFF
		kk  = byte(op)
		x   = byte(op>>8) & 0x0F
		y   = byte(op>>4) & 0x0F
		n   = byte(op) & 0x0F
	)

	switch op & 0xF000 {
	case 0x0000:
		switch op {
		case 0x00E0: // CLS
			c.display = [DisplayWidth * DisplayHeight]byte{}
		case 0x00EE: // RET
			c.sp = (c.sp - 1) & 0x0F
			c.pc = c.stack[c.sp]
		}
	case 0x1000: // JP nnn
		c.pc = nnn
	case 0x2000: // CALL nnn
		c.stack[c.sp] = c.pc
		c.sp = (c.sp + 1) & 0x0F
		c.pc = nnn
	case 0x3000: // SE Vx, kk
		if c.v[x] == kk {
			c.pc += 2
		}
	case 0x4000: // SNE Vx, kk
		if c.v[x] != kk {
			c.pc += 2
		}
	case 0x5000: // SE Vx, Vy
		if c.v[x] == c.v[y] {
			c.pc += 2
		}
	case 0x6000: // LD Vx, kk
		c.v[x] = kk
	case 0x7000: // ADD Vx, kk
		c.v[x] += kk
	case 0x8000:
		c.alu(op, x, y)
	case 0x9000: // SNE Vx, Vy
		if c.v[x] != c.v[y] {
			c.pc += 2
		}
	case 0xA000: // LD I, nnn
		c.i = nnn
	case 0xB000: // JP V0, nnn
		c.pc = nnn + uint16(c.v[0])
	case 0xC000: // RND Vx, kk
		c.v[x] = c.rand() & kk
	case 0xD000: // DRW Vx, Vy, n
		c.draw(c.v[x], c.v[y], n)
	case 0xE000:
		key := c.v[x] & 0x0F
		held := c.keys&(1<<key) != 0
		switch kk {
		case 0x9E: // SKP Vx
			if held {
				c.pc += 2
			}
		case 0xA1: // SKNP Vx
			if !held {
				c.pc += 2
			}
		}
	case 0xF000:
		c.misc(kk, x)
	}
}

// alu handles the 8xy_ register operations. Shifts use the in-place
// semantics (Vx shifted, Vy ignored).
func (c *CHIP8) alu(op uint16, x, y byte) {
	switch op & 0x000F {
	case 0x0:
		c.v[x] = c.v[y]
	case 0x1:
		c.v[x] |= c.v[y]
	case 0x2:
		c.v[x] &= c.v[y]
	case 0x3:
		c.v[x] ^= c.v[y]
	case 0x4:
		sum := uint16(c.v[x]) + uint16(c.v[y])
		c.v[x] = byte(sum)
		c.v[0xF] = byte(sum >> 8)
	case 0x5:
		borrow := byte(1)
		if c.v[y] > c.v[x] {
			borrow = 0
		}
		c.v[x] -= c.v[y]
		c.v[0xF] = borrow
	case 0x6:
		bit := c.v[x] & 1
		c.v[x] >>= 1
		c.v[0xF] = bit
	case 0x7:
		borrow := byte(1)
		if c.v[x] > c.v[y] {
			borrow = 0
		}
		c.v[x] = c.v[y] - c.v[x]
		c.v[0xF] = borrow
	case 0xE:
		bit := c.v[x] >> 7
		c.v[x] <<= 1
		c.v[0xF] = bit
	}
}

// misc handles the Fx__ instructions.
func (c *CHIP8) misc(kk, x byte) {
	switch kk {
	case 0x07: // LD Vx, DT
		c.v[x] = c.dt
	case 0x0A: // LD Vx, K: block until any key is held
		if c.keys == 0 {
			c.pc -= 2
			return
		}
		for k := byte(0); k < 16; k++ {
			if c.keys&(1<<k) != 0 {
				c.v[x] = k
				break
			}
		}
	case 0x15: // LD DT, Vx
		c.dt = c.v[x]
	case 0x18: // LD ST, Vx
		c.st = c.v[x]
	case 0x1E: // ADD I, Vx
		c.i += uint16(c.v[x])
	case 0x29: // LD F, Vx
		c.i = fontStart + uint16(c.v[x]&0x0F)*5
	case 0x33: // BCD Vx
		c.mem[c.i&0x0FFF] = c.v[x] / 100
		c.mem[(c.i+1)&0x0FFF] = c.v[x] / 10 % 10
		c.mem[(c.i+2)&0x0FFF] = c.v[x] % 10
	case 0x55: // LD [I], V0..Vx
		for r := byte(0); r <= x; r++ {
			c.mem[(c.i+uint16(r))&0x0FFF] = c.v[r]
		}
	case 0x65: // LD V0..Vx, [I]
		for r := byte(0); r <= x; r++ {
			c.v[r] = c.mem[(c.i+uint16(r))&0x0FFF]
		}
	}
}

// draw XORs an n-row sprite at (px, py). Start coordinates wrap, sprite
// overflow clips at the display edge. VF reports collisions.
func (c *CHIP8) draw(px, py, n byte) {
	c.v[0xF] = 0
	sx := int(px) % DisplayWidth
	sy := int(py) % DisplayHeight
	for row := 0; row < int(n); row++ {
		yy := sy + row
		if yy >= DisplayHeight {
			break
		}
		bits := c.mem[(c.i+uint16(row))&0x0FFF]
		for col := 0; col < 8; col++ {
			if bits&(0x80>>col) == 0 {
				continue
			}
			xx := sx + col
			if xx >= DisplayWidth {
				break
			}
			idx := yy*DisplayWidth + xx
			if c.display[idx] != 0 {
				c.v[0xF] = 1
			}
			c.display[idx] ^= 1
		}
	}
}
