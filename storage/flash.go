// Package storage holds window sinks that persist recordings on the device.
package storage

import (
	"errors"

	"adcrec/core"

	"tinygo.org/x/drivers"
)

// SPI NOR command set (common to W25Q, GD25Q, AT25SF parts)
const (
	cmdWriteEnable = 0x06
	cmdPageProgram = 0x02
	cmdReadStatus  = 0x05
	cmdRead        = 0x03
	cmdSectorErase = 0x20
	cmdJEDECID     = 0x9F

	statusBusy = 0x01
)

const (
	PageSize   = 256
	SectorSize = 4096

	// erasePolls bounds the busy wait of a sector erase
	erasePolls = 100000
)

var (
	ErrRegionAlignment = errors.New("flash region must be a whole number of sectors")
	ErrFlashTimeout    = errors.New("flash stayed busy")
	ErrNoChannels      = errors.New("flash sink needs at least one channel")
)

// FlashSink writes each channel's windows to its own fixed region of a SPI
// NOR flash. Writes never wait: while the chip is busy programming a page
// WriteWindow returns 0 and the drainer retries on its next poll.
type FlashSink struct {
	bus  drivers.SPI
	gpio core.GPIODriver
	cs   core.GPIOPin

	base       uint32
	regionSize uint32
	channels   int

	written [core.MaxChannels]uint32
	lost    uint32
	err     error

	cmd [4]byte
}

// NewFlashSink lays out channels regions of regionSize bytes starting at
// base. Both must be sector aligned.
func NewFlashSink(bus drivers.SPI, gpio core.GPIODriver, cs core.GPIOPin, base, regionSize uint32, channels int) (*FlashSink, error) {
	if channels < 1 || channels > core.MaxChannels {
		return nil, ErrNoChannels
	}
	if regionSize == 0 || regionSize%SectorSize != 0 || base%SectorSize != 0 {
		return nil, ErrRegionAlignment
	}
	if err := gpio.ConfigureOutput(cs); err != nil {
		return nil, err
	}
	f := &FlashSink{
		bus:        bus,
		gpio:       gpio,
		cs:         cs,
		base:       base,
		regionSize: regionSize,
		channels:   channels,
	}
	if err := f.deselect(); err != nil {
		return nil, err
	}
	return f, nil
}

// Erase clears every channel region and resets the write counters. It blocks
// until the chip finishes; call it before starting a session.
func (f *FlashSink) Erase() error {
	end := f.base + f.regionSize*uint32(f.channels)
	for addr := f.base; addr < end; addr += SectorSize {
		if err := f.writeEnable(); err != nil {
			return err
		}
		if err := f.command(cmdSectorErase, addr); err != nil {
			return err
		}
		if err := f.waitReady(); err != nil {
			return err
		}
	}
	f.Reset()
	return nil
}

// Reset forgets what was written without touching the chip.
func (f *FlashSink) Reset() {
	f.written = [core.MaxChannels]uint32{}
	f.lost = 0
	f.err = nil
}

// WriteWindow programs at most one page worth of w. Bytes past the end of a
// channel's region are counted as lost and accepted.
func (f *FlashSink) WriteWindow(seq uint32, w core.Window, offset int) int {
	chunk := w.Data[offset:]
	if f.err != nil || w.Channel >= f.channels {
		f.lost += uint32(len(chunk))
		return len(chunk)
	}

	left := f.regionSize - f.written[w.Channel]
	if left == 0 {
		f.lost += uint32(len(chunk))
		return len(chunk)
	}

	busy, err := f.busy()
	if err != nil {
		f.err = err
		return 0
	}
	if busy {
		return 0
	}

	addr := f.base + uint32(w.Channel)*f.regionSize + f.written[w.Channel]
	n := uint32(PageSize - addr%PageSize)
	if n > left {
		n = left
	}
	if n > uint32(len(chunk)) {
		n = uint32(len(chunk))
	}

	if err := f.program(addr, chunk[:n]); err != nil {
		f.err = err
		return 0
	}
	f.written[w.Channel] += n
	return int(n)
}

// Written returns the bytes stored for channel ch.
func (f *FlashSink) Written(ch int) uint32 {
	return f.written[ch]
}

// Lost returns bytes discarded because a region was full or the bus failed.
func (f *FlashSink) Lost() uint32 {
	return f.lost
}

// Err returns the first bus error. After an error every window is discarded.
func (f *FlashSink) Err() error {
	return f.err
}

// ReadAt reads back channel ch's data starting at off.
func (f *FlashSink) ReadAt(ch int, off uint32, p []byte) error {
	addr := f.base + uint32(ch)*f.regionSize + off
	f.setAddress(cmdRead, addr)
	if err := f.selectChip(); err != nil {
		return err
	}
	err := f.readInto(p)
	return errors.Join(err, f.deselect())
}

func (f *FlashSink) readInto(p []byte) error {
	if err := f.bus.Tx(f.cmd[:], nil); err != nil {
		return err
	}
	for i := range p {
		b, err := f.bus.Transfer(0)
		if err != nil {
			return err
		}
		p[i] = b
	}
	return nil
}

// JEDECID returns the manufacturer and device ID bytes.
func (f *FlashSink) JEDECID() ([3]byte, error) {
	var id [3]byte
	f.cmd[0] = cmdJEDECID
	if err := f.selectChip(); err != nil {
		return id, err
	}
	err := f.transfer(f.cmd[:1], id[:])
	return id, errors.Join(err, f.deselect())
}

func (f *FlashSink) program(addr uint32, data []byte) error {
	if err := f.writeEnable(); err != nil {
		return err
	}
	f.setAddress(cmdPageProgram, addr)
	if err := f.selectChip(); err != nil {
		return err
	}
	err := f.bus.Tx(f.cmd[:], nil)
	if err == nil {
		err = f.bus.Tx(data, nil)
	}
	return errors.Join(err, f.deselect())
}

func (f *FlashSink) writeEnable() error {
	f.cmd[0] = cmdWriteEnable
	return f.selected(f.cmd[:1], nil)
}

func (f *FlashSink) command(op byte, addr uint32) error {
	f.setAddress(op, addr)
	return f.selected(f.cmd[:], nil)
}

func (f *FlashSink) busy() (bool, error) {
	var status [1]byte
	f.cmd[0] = cmdReadStatus
	if err := f.selected(f.cmd[:1], status[:]); err != nil {
		return false, err
	}
	return status[0]&statusBusy != 0, nil
}

// selected runs one transaction with the chip selected. Nothing reaches the
// bus if the select line cannot be driven.
func (f *FlashSink) selected(out, in []byte) error {
	if err := f.selectChip(); err != nil {
		return err
	}
	err := f.transfer(out, in)
	return errors.Join(err, f.deselect())
}

// transfer shifts out then clocks in len(in) bytes.
func (f *FlashSink) transfer(out, in []byte) error {
	if err := f.bus.Tx(out, nil); err != nil {
		return err
	}
	for i := range in {
		b, err := f.bus.Transfer(0)
		if err != nil {
			return err
		}
		in[i] = b
	}
	return nil
}

func (f *FlashSink) waitReady() error {
	for i := 0; i < erasePolls; i++ {
		busy, err := f.busy()
		if err != nil {
			return err
		}
		if !busy {
			return nil
		}
	}
	return ErrFlashTimeout
}

func (f *FlashSink) setAddress(op byte, addr uint32) {
	f.cmd[0] = op
	f.cmd[1] = byte(addr >> 16)
	f.cmd[2] = byte(addr >> 8)
	f.cmd[3] = byte(addr)
}

func (f *FlashSink) selectChip() error {
	return f.gpio.SetPin(f.cs, false)
}

func (f *FlashSink) deselect() error {
	return f.gpio.SetPin(f.cs, true)
}
