//go:build rp2040

package main

import (
	"adcrec/core"
	"adcrec/storage"
	"machine"
	"time"
)

// Flash layout: one region per channel after the first megabyte.
const (
	flashBase       = 0x100000
	flashRegionSize = 0x100000
)

// RunStandaloneMode records one 8-bit session into the external flash, then
// stops and lights the LED. Progress goes to the debug writer.
func RunStandaloneMode() {
	led := machine.LED
	led.Configure(machine.PinConfig{Mode: machine.PinOutput})

	bus, err := flashBus()
	if err != nil {
		blinkForever(100 * time.Millisecond)
	}
	sink, err := storage.NewFlashSink(bus, gpio, core.GPIOPin(flashCS), flashBase, flashRegionSize, len(channels))
	if err != nil {
		blinkForever(100 * time.Millisecond)
	}
	if id, err := sink.JEDECID(); err == nil {
		core.DebugPrintln(string(core.AppendHex([]byte("[FLASH] jedec "), id[:]...)))
	}

	core.DebugPrintln("[FLASH] erasing")
	if err := sink.Erase(); err != nil {
		core.DebugPrintln("[FLASH] erase failed: " + err.Error())
		blinkForever(250 * time.Millisecond)
	}

	session := GetStandaloneSession()
	drainer := core.NewDrainer(recorder, sink)
	powerChannels(true)
	UpdateSystemTime()
	if err := recorder.Start(core.Resolution8, session.SampleRate, session.Window, session.Warmup); err != nil {
		core.DebugPrintln("[REC] start failed: " + err.Error())
		blinkForever(250 * time.Millisecond)
	}
	led.High()

	deadline := time.Now().Add(session.Duration)
	for time.Now().Before(deadline) && sink.Err() == nil && !recorder.Errored() {
		UpdateSystemTime()
		core.ProcessTimers()
		drainer.Poll()
		time.Sleep(10 * time.Microsecond)
	}

	collected := recorder.Stop()
	drainer.Finish()
	for !drainer.Poll() {
		time.Sleep(10 * time.Microsecond)
	}
	powerChannels(false)
	led.Low()

	core.DebugPrintln("[REC] collected " + core.FormatUint(collected) + " samples in " + core.FormatUint(drainer.Windows()) + " windows")
	for ch := range channels {
		core.DebugPrintln("[FLASH] ch" + core.FormatUint(uint32(ch)) + " " + core.FormatUint(sink.Written(ch)) + " bytes")
	}
	if lost := sink.Lost(); lost > 0 {
		core.DebugPrintln("[FLASH] lost " + core.FormatUint(lost) + " bytes")
	}
	if err := sink.Err(); err != nil {
		core.DebugPrintln("[FLASH] error: " + err.Error())
	}
	core.DumpEventRing()

	for {
		time.Sleep(time.Second)
	}
}
