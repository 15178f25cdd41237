package core

// AnalogPin identifies an analog input pin. Values follow the Arduino Mega
// numbering where A0 is digital pin 54.
type AnalogPin uint8

const (
	PinA0 AnalogPin = 54 + iota
	PinA1
	PinA2
	PinA3
	PinA4
	PinA5
	PinA6
	PinA7
	PinA8
	PinA9
	PinA10
	PinA11
	PinA12
	PinA13
	PinA14
	PinA15
)

// MaxChannels is the number of multiplexer inputs (selectors 0-15).
const MaxChannels = 16

// NoPower marks a channel without a power-control pin.
const NoPower = -1

// MuxSelector is the code that routes an analog pin to the converter.
// Selectors 8-15 form the high group and need the auxiliary mux bit.
type MuxSelector uint8

// High reports whether the selector needs the auxiliary high-group bit.
func (s MuxSelector) High() bool {
	return s >= 8
}

// Low returns the three selector bits shared by both groups.
func (s MuxSelector) Low() uint8 {
	return uint8(s) & 0x07
}

// Channel is a single analog input plus its optional power line.
type Channel struct {
	Pin        AnalogPin
	Power      int8 // GPIO number, NoPower if the sensor is always on
	ActiveHigh bool
}

// NewChannel returns a channel without a power pin.
func NewChannel(pin AnalogPin) Channel {
	return Channel{Pin: pin, Power: NoPower}
}

// Selector resolves the channel's multiplexer selector. The second result
// is false for pins that are not routed to the converter.
func (c Channel) Selector() (MuxSelector, bool) {
	if c.Pin < PinA0 || c.Pin > PinA15 {
		return 0, false
	}
	return MuxSelector(c.Pin - PinA0), true
}

// HasPower reports whether the channel has a power-control pin.
func (c Channel) HasPower() bool {
	return c.Power >= 0
}

// PowerOn drives the power pin to its active level.
func (c Channel) PowerOn(gpio GPIODriver) error {
	return c.setPower(gpio, true)
}

// PowerOff drives the power pin to its inactive level.
func (c Channel) PowerOff(gpio GPIODriver) error {
	return c.setPower(gpio, false)
}

func (c Channel) setPower(gpio GPIODriver, on bool) error {
	if !c.HasPower() {
		return nil
	}
	pin := GPIOPin(c.Power)
	if err := gpio.ConfigureOutput(pin); err != nil {
		return err
	}
	// active-low sensors are powered by pulling the line down
	return gpio.SetPin(pin, on == c.ActiveHigh)
}
