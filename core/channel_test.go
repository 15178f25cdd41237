package core

import "testing"

type fakeGPIO struct {
	outputs map[GPIOPin]bool
	levels  map[GPIOPin]bool
}

func newFakeGPIO() *fakeGPIO {
	return &fakeGPIO{outputs: make(map[GPIOPin]bool), levels: make(map[GPIOPin]bool)}
}

func (g *fakeGPIO) ConfigureOutput(pin GPIOPin) error {
	g.outputs[pin] = true
	return nil
}

func (g *fakeGPIO) SetPin(pin GPIOPin, value bool) error {
	g.levels[pin] = value
	return nil
}

func TestChannelSelector(t *testing.T) {
	tests := []struct {
		pin  AnalogPin
		sel  MuxSelector
		ok   bool
		high bool
	}{
		{PinA0, 0, true, false},
		{PinA7, 7, true, false},
		{PinA8, 8, true, true},
		{PinA15, 15, true, true},
		{PinA0 - 1, 0, false, false},
		{PinA15 + 1, 0, false, false},
	}

	for _, tt := range tests {
		sel, ok := NewChannel(tt.pin).Selector()
		if ok != tt.ok {
			t.Errorf("Pin %d: expected ok=%v, got %v", tt.pin, tt.ok, ok)
			continue
		}
		if !ok {
			continue
		}
		if sel != tt.sel {
			t.Errorf("Pin %d: expected selector %d, got %d", tt.pin, tt.sel, sel)
		}
		if sel.High() != tt.high {
			t.Errorf("Pin %d: expected high group %v, got %v", tt.pin, tt.high, sel.High())
		}
		if sel.Low() != uint8(tt.sel)&0x07 {
			t.Errorf("Pin %d: expected low bits %d, got %d", tt.pin, uint8(tt.sel)&0x07, sel.Low())
		}
	}
}

func TestChannelPowerPolarity(t *testing.T) {
	gpio := newFakeGPIO()

	high := Channel{Pin: PinA0, Power: 22, ActiveHigh: true}
	low := Channel{Pin: PinA1, Power: 23, ActiveHigh: false}

	high.PowerOn(gpio)
	low.PowerOn(gpio)
	if !gpio.outputs[22] || !gpio.outputs[23] {
		t.Error("Expected power pins configured as outputs")
	}
	if !gpio.levels[22] {
		t.Error("Expected active-high sensor powered by a high level")
	}
	if gpio.levels[23] {
		t.Error("Expected active-low sensor powered by a low level")
	}

	high.PowerOff(gpio)
	low.PowerOff(gpio)
	if gpio.levels[22] || !gpio.levels[23] {
		t.Errorf("Expected inactive levels low/high, got %v/%v", gpio.levels[22], gpio.levels[23])
	}
}

func TestChannelWithoutPower(t *testing.T) {
	gpio := newFakeGPIO()
	ch := NewChannel(PinA2)

	if ch.HasPower() {
		t.Error("Expected no power pin")
	}
	if err := ch.PowerOn(gpio); err != nil {
		t.Errorf("PowerOn failed: %v", err)
	}
	if len(gpio.outputs) != 0 {
		t.Error("Expected no GPIO activity for a channel without power pin")
	}
}
