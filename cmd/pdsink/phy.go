package main

import (
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

const busNumber = "1"

// alertPinName is the FUSB302's INT_N line, wired to the per-port event loop
// through the driver's interrupt-driven Wait instead of register polling
// (original_source/src/driver/fusb302.c is interrupt-driven; the teacher's
// phy.go polls only). Empty means "not wired on this board", in which case
// fusb302.New falls back to polling.
const alertPinName = "GPIO17"

func getI2C() (i2c.Bus, gpio.PinIn) {
	if _, err := host.Init(); err != nil {
		panic(err)
	}
	b, err := i2creg.Open(busNumber)
	if err != nil {
		panic(err)
	}
	b.SetSpeed(1000000)

	var alert gpio.PinIn
	if p := gpioreg.ByName(alertPinName); p != nil {
		if err := p.In(gpio.PullUp, gpio.FallingEdge); err == nil {
			alert = p
		}
	}
	return b, alert
}
