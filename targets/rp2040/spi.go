//go:build rp2040

package main

import (
	"machine"

	"tinygo.org/x/drivers"
)

// Flash wiring: SPI0 on GPIO16-19, chip select driven as a plain GPIO.
const (
	flashSCK  = machine.GPIO18
	flashSDO  = machine.GPIO19
	flashSDI  = machine.GPIO16
	flashCS   = machine.GPIO17
	flashFreq = 20000000
)

// flashBus configures SPI0 for the external NOR flash. machine.SPI already
// implements drivers.SPI.
func flashBus() (drivers.SPI, error) {
	spi := machine.SPI0
	err := spi.Configure(machine.SPIConfig{
		Frequency: flashFreq,
		SCK:       flashSCK,
		SDO:       flashSDO,
		SDI:       flashSDI,
		Mode:      0,
	})
	if err != nil {
		return nil, err
	}
	return spi, nil
}
