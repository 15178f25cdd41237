//go:build atmega2560

package main

import (
	"adcrec/core"
	"errors"
	"machine"
)

var errNoPowerPin = errors.New("pin cannot switch sensor power")

// Arduino digital numbers usable as sensor power lines.
var powerPins = map[core.GPIOPin]machine.Pin{
	22: machine.D22,
	23: machine.D23,
	24: machine.D24,
	25: machine.D25,
	26: machine.D26,
	27: machine.D27,
	28: machine.D28,
	29: machine.D29,
}

// AVRGPIODriver implements core.GPIODriver over the Arduino pin numbers in
// powerPins.
type AVRGPIODriver struct{}

func (AVRGPIODriver) pin(n core.GPIOPin) (machine.Pin, error) {
	p, ok := powerPins[n]
	if !ok {
		return machine.NoPin, errNoPowerPin
	}
	return p, nil
}

func (d AVRGPIODriver) ConfigureOutput(n core.GPIOPin) error {
	p, err := d.pin(n)
	if err != nil {
		return err
	}
	p.Configure(machine.PinConfig{Mode: machine.PinOutput})
	return nil
}

func (d AVRGPIODriver) SetPin(n core.GPIOPin, value bool) error {
	p, err := d.pin(n)
	if err != nil {
		return err
	}
	p.Set(value)
	return nil
}
