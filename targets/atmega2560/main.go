//go:build atmega2560

package main

import (
	"adcrec/core"
	"adcrec/protocol"
	"machine"
	"time"
)

// Board setup. The sample buffer takes a quarter of the 8 KB SRAM.
const (
	baudRate   = 250000
	bufferSize = 2048
)

var channels = []core.Channel{
	core.NewChannel(core.PinA0),
	core.NewChannel(core.PinA1),
	{Pin: core.PinA8, Power: 22, ActiveHigh: true},
}

var (
	sampleBuffer [bufferSize]byte

	uart         = machine.UART0
	inputBuffer  *protocol.FifoBuffer
	outputBuffer *protocol.ScratchOutput
	transport    *protocol.Transport

	recorder *core.Recorder
	gpio     AVRGPIODriver

	bootTime  time.Time
	msgerrors uint32
)

func main() {
	uart.Configure(machine.UARTConfig{BaudRate: baudRate})
	bootTime = time.Now()
	UpdateSystemTime()
	core.TimerInit()

	core.SetGPIODriver(gpio)
	adcDriver := NewAVRAdcDriver()
	core.SetADCDriver(adcDriver)

	var err error
	recorder, err = core.NewRecorder(adcDriver, core.NewHardwareClock(Timer1{}), channels, sampleBuffer[:])
	if err != nil {
		blinkForever(100 * time.Millisecond)
	}
	adcDriver.SetResultHandler(recorder.OnConversion)

	powerChannels(true)
	if err := core.InitRecorderCommands(recorder); err != nil {
		blinkForever(100 * time.Millisecond)
	}

	inputBuffer = protocol.NewFifoBuffer(128)
	outputBuffer = protocol.NewScratchOutput(2 * protocol.MessageLengthMax)
	transport = protocol.NewTransport(outputBuffer, func(cmdID uint16, data *[]byte) error {
		return core.DispatchCommand(cmdID, data)
	})
	transport.SetResetCallback(func() {
		recorder.Stop()
		inputBuffer.Reset()
		outputBuffer.Reset()
	})
	transport.SetFlushCallback(writeUART)
	core.SetGlobalTransport(transport)

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
			readUART()

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
				writeUART()
			}
		}()
	}
}

// UpdateSystemTime feeds the scheduler clock from the runtime's monotonic
// time. The tick counter wraps like the hardware one would.
func UpdateSystemTime() {
	us := uint32(time.Since(bootTime) / time.Microsecond)
	core.SetTime(us * (core.TimerFreq / 1000000))
}

// readUART moves whatever the UART ring holds into the input FIFO.
func readUART() {
	for uart.Buffered() > 0 {
		b, err := uart.ReadByte()
		if err != nil {
			msgerrors++
			return
		}
		if inputBuffer.Write([]byte{b}) == 0 {
			msgerrors++
			return
		}
	}
}

func writeUART() {
	if _, err := uart.Write(outputBuffer.Result()); err != nil {
		msgerrors++
	}
	outputBuffer.Reset()
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
