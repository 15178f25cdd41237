package core

// HardwareClock drives a shared periodic timer. Activation saves the timer's
// registers and deactivation puts them back, so the timer can be borrowed
// from other subsystems between sessions.
type HardwareClock struct {
	drv    TimerDriver
	saved  TimerSnapshot
	active bool
	cfg    TimerConfig
}

// NewHardwareClock wraps a timer driver.
func NewHardwareClock(drv TimerDriver) *HardwareClock {
	return &HardwareClock{drv: drv}
}

// Configure solves for desired using the driver's clock tree. The search
// runs to completion (early stop at zero error).
func (c *HardwareClock) Configure(desired uint32, bias Bias) (TimerConfig, error) {
	return Solve(c.drv.SourceHz(), desired, c.drv.Divisors(), c.drv.MaxCompare(), bias, 0)
}

// Check verifies that cfg can be programmed into this timer.
func (c *HardwareClock) Check(cfg TimerConfig) error {
	if cfg.Compare == 0 || cfg.Compare > c.drv.MaxCompare() {
		return ErrCompareRange
	}
	for _, d := range c.drv.Divisors() {
		if d == cfg.Divisor {
			return nil
		}
	}
	return ErrUnsupportedDivisor
}

// Activate programs the timer with cfg. A still-active previous
// configuration is deactivated first.
func (c *HardwareClock) Activate(cfg TimerConfig) error {
	if err := c.Check(cfg); err != nil {
		return err
	}
	if c.active {
		c.Deactivate()
	}

	state := disableInterrupts()
	c.saved = c.drv.Save()
	c.drv.Program(cfg.Divisor, cfg.Compare)
	c.cfg = cfg
	c.active = true
	restoreInterrupts(state)
	return nil
}

// Deactivate restores the registers saved by Activate. No-op when inactive.
func (c *HardwareClock) Deactivate() {
	if !c.active {
		return
	}
	state := disableInterrupts()
	c.drv.Restore(c.saved)
	c.active = false
	restoreInterrupts(state)
}

// Active reports whether the timer is currently programmed by this clock.
func (c *HardwareClock) Active() bool {
	return c.active
}

// Config returns the configuration of the last activation.
func (c *HardwareClock) Config() TimerConfig {
	return c.cfg
}
