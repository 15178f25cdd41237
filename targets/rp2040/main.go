//go:build rp2040

package main

import (
	"adcrec/core"
	"adcrec/protocol"
	"machine"
	"time"
)

// Board setup.
const (
	// triggerPin carries the pacer pulse; leave it unconnected.
	triggerPin = machine.GPIO22
	bufferSize = 8192
)

var channels = []core.Channel{
	core.NewChannel(core.PinA0),
	core.NewChannel(core.PinA1),
	{Pin: core.PinA2, Power: 15, ActiveHigh: true},
}

var (
	sampleBuffer [bufferSize]byte

	// Buffers for communication
	inputBuffer  *protocol.FifoBuffer
	outputBuffer *protocol.ScratchOutput
	transport    *protocol.Transport

	recorder *core.Recorder
	gpio     *RPGPIODriver

	// Debug counters
	msgerrors uint32

	usbWasDisconnected       bool
	consecutiveWriteFailures uint32
)

func main() {
	// Disable a watchdog left running by a previous image
	if err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0}); err != nil {
		return
	}

	InitUSB()
	UpdateSystemTime()
	core.TimerInit()
	core.SetDebugWriter(func(s string) {
		// debug output shares the USB port only in standalone mode
		if GetMode().Standalone {
			USBWriteBytes([]byte(s + "\n"))
		}
	})

	gpio = NewRPGPIODriver()
	core.SetGPIODriver(gpio)

	pacer := NewPIOPacer(0, 0, triggerPin)
	if err := pacer.Init(); err != nil {
		blinkForever(100 * time.Millisecond)
	}
	adcDriver := NewRPAdcDriver(pacer, triggerPin)
	core.SetADCDriver(adcDriver)

	var err error
	recorder, err = core.NewRecorder(adcDriver, core.NewHardwareClock(pacer), channels, sampleBuffer[:])
	if err != nil {
		blinkForever(100 * time.Millisecond)
	}
	adcDriver.SetResultHandler(recorder.OnConversion)
	powerChannels(false)

	if GetMode().Standalone {
		RunStandaloneMode()
		return
	}

	// Sensors stay powered while a host may start sessions at any time
	powerChannels(true)
	if err := core.InitRecorderCommands(recorder); err != nil {
		blinkForever(100 * time.Millisecond)
	}

	inputBuffer = protocol.NewFifoBuffer(256)
	outputBuffer = protocol.NewScratchOutput(protocol.OutputBufferSize)
	transport = protocol.NewTransport(outputBuffer, handleCommand)
	transport.SetResetCallback(func() {
		recorder.Stop()
		inputBuffer.Reset()
		outputBuffer.Reset()
	})
	// ACKs go out before any response
	transport.SetFlushCallback(writeUSB)
	core.SetGlobalTransport(transport)

	go usbReaderLoop()

	for {
		func() {
			defer func() {
				if r := recover(); r != nil {
					msgerrors++
					inputBuffer.Reset()
					outputBuffer.Reset()
				}
			}()

			UpdateSystemTime()

			if inputBuffer.Available() > 0 {
				data := inputBuffer.Data()
				originalLen := len(data)
				inputBuf := protocol.NewSliceInputBuffer(data)
				transport.Receive(inputBuf)
				if consumed := originalLen - inputBuf.Available(); consumed > 0 {
					inputBuffer.Pop(consumed)
				}
			}

			core.ProcessTimers()
			core.RecordingTask()

			if len(outputBuffer.Result()) > 0 {
				writeUSB()
			}
		}()

		time.Sleep(10 * time.Microsecond)
	}
}

// powerChannels switches every channel's sensor supply.
func powerChannels(on bool) {
	for _, ch := range channels {
		if !ch.HasPower() {
			continue
		}
		if on {
			ch.PowerOn(gpio)
		} else {
			ch.PowerOff(gpio)
		}
	}
}

// usbReaderLoop runs in a goroutine to continuously read USB data
func usbReaderLoop() {
	defer func() {
		if r := recover(); r != nil {
			msgerrors++
			time.Sleep(100 * time.Millisecond)
			go usbReaderLoop()
		}
	}()

	for {
		if USBAvailable() > 0 {
			data, err := USBRead()
			if err != nil {
				msgerrors++
				time.Sleep(1 * time.Millisecond)
				continue
			}

			// A host reconnecting after a disconnect starts from scratch
			if usbWasDisconnected {
				usbWasDisconnected = false
				recorder.Stop()
				inputBuffer.Reset()
				outputBuffer.Reset()
				transport.Reset()
				consecutiveWriteFailures = 0
			}

			if inputBuffer.Write([]byte{data}) == 0 {
				msgerrors++
				time.Sleep(10 * time.Millisecond)
			}
		}
		time.Sleep(100 * time.Microsecond)
	}
}

// handleCommand dispatches received commands to the command registry
func handleCommand(cmdID uint16, data *[]byte) error {
	return core.DispatchCommand(cmdID, data)
}

// writeUSB writes the output buffer to USB. Repeated failures mark the host
// as gone and drop stale output.
func writeUSB() {
	result := outputBuffer.Result()
	written := 0
	for written < len(result) {
		n, err := USBWriteBytes(result[written:])
		if err != nil || n == 0 {
			consecutiveWriteFailures++
			if consecutiveWriteFailures > 10 {
				usbWasDisconnected = true
				consecutiveWriteFailures = 0
				outputBuffer.Reset()
				inputBuffer.Reset()
			}
			return
		}
		written += n
	}
	consecutiveWriteFailures = 0
	outputBuffer.Reset()
}

// blinkForever signals a fatal setup error on the LED.
func blinkForever(period time.Duration) {
	led := machine.LED
	led.Configure(machine.PinConfig{Mode: machine.PinOutput})
	for {
		led.High()
		time.Sleep(period)
		led.Low()
		time.Sleep(period)
	}
}
