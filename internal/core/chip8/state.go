package chip8

import "fmt"

// Exported state is a fixed little-endian layout behind a magic/version
// header. Import decodes into a scratch machine and swaps only on a clean,
// fully consumed decode, so a rejected blob never disturbs the running
// state.

const (
	stateMagic   = "GPC8"
	stateVersion = 1

	// header + registers + stack + timers + keys + rng + display + memory
	stateSize = 4 + 1 + 16 + 2 + 2 + 1 + 32 + 1 + 1 + 2 + 4 + DisplayWidth*DisplayHeight + memorySize
)

// ExportState serializes the full machine state.
func (c *CHIP8) ExportState() ([]byte, error) {
	s := newStateWriter()
	s.writeData([]byte(stateMagic))
	s.write8(stateVersion)
	s.writeData(c.v[:])
	s.write16(c.i)
	s.write16(c.pc)
	s.write8(c.sp)
	for _, addr := range c.stack {
		s.write16(addr)
	}
	s.write8(c.dt)
	s.write8(c.st)
	s.write16(c.keys)
	s.write32(c.rng)
	s.writeData(c.display[:])
	s.writeData(c.mem[:])
	return s.raw, nil
}

// ImportState restores a blob produced by ExportState.
func (c *CHIP8) ImportState(data []byte) error {
	s := &state{raw: data}

	magic := make([]byte, len(stateMagic))
	s.readData(magic)
	if s.err == nil && string(magic) != stateMagic {
		return fmt.Errorf("not a %s state blob", stateMagic)
	}
	if ver := s.read8(); s.err == nil && ver != stateVersion {
		return fmt.Errorf("unsupported state version %d", ver)
	}

	var m CHIP8
	s.readData(m.v[:])
	m.i = s.read16()
	m.pc = s.read16()
	m.sp = s.read8()
	for n := range m.stack {
		m.stack[n] = s.read16()
	}
	m.dt = s.read8()
	m.st = s.read8()
	m.keys = s.read16()
	m.rng = s.read32()
	s.readData(m.display[:])
	s.readData(m.mem[:])

	if s.err != nil {
		return s.err
	}
	if s.pos != len(data) {
		return fmt.Errorf("state blob has %d trailing bytes", len(data)-s.pos)
	}

	*c = m
	return nil
}

// state is an append/consume codec over a raw byte slice. Reads past the
// end record an error instead of panicking; once set, every further read
// returns zeros.
type state struct {
	raw []byte
	pos int
	err error
}

func newStateWriter() *state {
	return &state{raw: make([]byte, 0, stateSize)}
}

func (s *state) write8(v byte) {
	s.raw = append(s.raw, v)
}

func (s *state) write16(v uint16) {
	s.raw = append(s.raw, byte(v), byte(v>>8))
}

func (s *state) write32(v uint32) {
	s.raw = append(s.raw, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func (s *state) writeData(p []byte) {
	s.raw = append(s.raw, p...)
}

func (s *state) need(n int) bool {
	if s.err != nil {
		return false
	}
	if s.pos+n > len(s.raw) {
		s.err = fmt.Errorf("state blob truncated at byte %d", s.pos)
		return false
	}
	return true
}

func (s *state) read8() byte {
	if !s.need(1) {
		return 0
	}
	v := s.raw[s.pos]
	s.pos++
	return v
}

func (s *state) read16() uint16 {
	if !s.need(2) {
		return 0
	}
	v := uint16(s.raw[s.pos]) | uint16(s.raw[s.pos+1])<<8
	s.pos += 2
	return v
}

func (s *state) read32() uint32 {
	if !s.need(4) {
		return 0
	}
	v := uint32(s.raw[s.pos]) | uint32(s.raw[s.pos+1])<<8 | uint32(s.raw[s.pos+2])<<16 | uint32(s.raw[s.pos+3])<<24
	s.pos += 4
	return v
}

func (s *state) readData(p []byte) {
	if !s.need(len(p)) {
		return
	}
	copy(p, s.raw[s.pos:])
	s.pos += len(p)
}
