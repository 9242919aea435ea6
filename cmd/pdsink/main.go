// Command pdsink negotiates a single fixed power contract from a USB-PD
// source and prints the source's advertised capabilities, the same job the
// teacher's simplepower example does, wired through this build's policy
// engine and event loop instead.
//
// To configure, edit the policy below to the voltage/current profile you
// want before building.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"go.uber.org/zap"

	"github.com/puzrin/pdsink/dpm"
	"github.com/puzrin/pdsink/pdtimer"
	"github.com/puzrin/pdsink/pe"
	"github.com/puzrin/pdsink/ploop"
	"github.com/puzrin/pdsink/prl"
	"github.com/puzrin/pdsink/tc"
	"github.com/puzrin/pdsink/tcpm/fusb302"
)

var policy = dpm.CVPolicy{
	MinVoltage: 9000,
	MaxVoltage: 9000,
	Current:    2000,
}

func main() {
	log, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, "pdsink: logger init:", err)
		os.Exit(1)
	}
	defer log.Sync()
	sugar := log.Sugar()

	bus, alert := getI2C()
	drv := fusb302.New(bus, fusb302.FUSB302BMPX, alert)
	if err := drv.Init(); err != nil {
		sugar.Fatalw("tcpm init failed", "error", err)
	}

	evaluator := dpm.NewLogger(os.Stdout, "\n", &policy)
	dpmPort := dpm.NewBasicPort(evaluator)
	tcPort := tc.NewBasicPort()
	timer := pdtimer.New(1)

	prlPort := prl.New(drv, sugar)
	engine := pe.New(0, prlPort, dpmPort, tcPort, timer, drv, sugar)
	loop := ploop.New(0, engine, prlPort, drv, sugar)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	// With INT_N wired, wake the loop as soon as the line asserts rather
	// than only on its periodic tick.
	if alert != nil {
		go func() {
			for ctx.Err() == nil {
				drv.Wait(100 * time.Millisecond)
				loop.Wake()
			}
		}()
	}

	sugar.Info("starting up")
	loop.Run(ctx)
}
