package core

// TriggerSource selects what starts a conversion.
type TriggerSource uint8

const (
	TriggerFreeRunning TriggerSource = iota
	TriggerTimerCompare
	TriggerExternal
)

// ConverterTiming describes the converter's own clock tree so the recorder
// can size its divisor with the frequency solver.
type ConverterTiming struct {
	// ClockHz is the clock feeding the converter divisor.
	ClockHz uint32
	// Divisors are the supported divisor values, any order.
	Divisors []uint32
	// HalfCyclesPerSample is converter clocks per conversion, times two
	// (13.5 cycles on AVR is 27).
	HalfCyclesPerSample uint32
	// Bits is the native result width. Wider results are shifted down to
	// the session resolution; zero means results already match it.
	Bits uint8
}

// ConverterDriver is the abstract analog converter used by the recorder.
// Every method called from OnConversion must be allocation-free and must not
// block.
type ConverterDriver interface {
	// PowerOn wakes the converter and enables it.
	PowerOn()
	// PowerOff disables the converter and lets it sleep.
	PowerOff()

	// EnableInterrupt unmasks the conversion-complete interrupt.
	EnableInterrupt()
	// DisableInterrupt masks the conversion-complete interrupt.
	DisableInterrupt()

	// EnableAutoTrigger lets the trigger source start conversions.
	EnableAutoTrigger()
	// DisableAutoTrigger stops conversions from being re-armed.
	DisableAutoTrigger()

	// SetTriggerSource selects the auto-trigger source.
	SetTriggerSource(src TriggerSource)

	// Timing reports the converter clock tree.
	Timing() ConverterTiming

	// SetDivisor programs the converter clock divisor. It must be one of
	// Timing().Divisors.
	SetDivisor(divisor uint32) error

	// SetLeftAdjust left-aligns results so ReadHigh yields the top 8 bits.
	SetLeftAdjust(on bool)

	// SelectChannel routes a selector to the converter input. Returns false
	// if the board cannot route it.
	SelectChannel(sel MuxSelector) bool

	// ReadHigh returns the high result byte.
	ReadHigh() uint8
	// ReadRaw returns the right-aligned N-bit result.
	ReadRaw() uint16

	// AckTrigger clears the trigger flag so the next period can start a
	// conversion.
	AckTrigger()
}

// Global singleton used by core code.
var adcDriver ConverterDriver

// SetADCDriver is called by target-specific code to register its driver.
func SetADCDriver(d ConverterDriver) {
	adcDriver = d
}

// MustADC returns the configured driver or panics if missing.
func MustADC() ConverterDriver {
	if adcDriver == nil {
		panic("ADC driver not configured")
	}
	return adcDriver
}
