// Command dirt runs the plugin micro-runtime host process: it loads
// settings.ini, boots the configured main plugin, and ticks the VM pool
// until told to stop (§4.6 "App").
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/pkg/profile"

	"github.com/dirtvm/dirt/app"
	"github.com/dirtvm/dirt/vm"
)

// CLI is the top-level kong command, grounded on the teacher's
// flag/runs.go kong.Parse/ctx.Run() shape.
type CLI struct {
	Root     string `default:"." help:"Asset root directory containing plugins/ and the settings file."`
	Settings string `default:"settings.ini" help:"Settings file name, resolved relative to --root."`
	Profile  string `default:"" help:"Enable pkg/profile (cpu, mem, block, goroutine, mutex); empty disables."`     //nolint:lll
	Debug    string `default:"" help:"Address for an fgprof debug listener (e.g. localhost:6060); empty disables."` //nolint:lll
	Ticks    int    `default:"0" help:"Number of tick cycles to run before exiting; 0 runs until interrupted."`
}

func (c *CLI) Run() error {
	if c.Profile != "" {
		mode, err := profileMode(c.Profile)
		if err != nil {
			return err
		}

		defer profile.Start(mode, profile.ProfilePath(".")).Stop()
	}

	a := app.New(c.Root, vm.DefaultSpeed)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if c.Debug != "" {
		go func() {
			if err := a.ServeDebug(ctx, c.Debug); err != nil {
				log.Printf("dirt: debug listener: %v", err)
			}
		}()
	}

	if err := a.Boot(filepath.Join(c.Root, c.Settings)); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	for i := 0; c.Ticks == 0 || i < c.Ticks; i++ {
		select {
		case <-sigCh:
			return a.Shutdown()
		default:
			a.Tick()
		}
	}

	return a.Shutdown()
}

func profileMode(name string) (func(*profile.Profile), error) {
	switch name {
	case "cpu":
		return profile.CPUProfile, nil
	case "mem":
		return profile.MemProfile, nil
	case "block":
		return profile.BlockProfile, nil
	case "goroutine":
		return profile.GoroutineProfile, nil
	case "mutex":
		return profile.MutexProfile, nil
	default:
		return nil, errors.New("dirt: unknown --profile mode " + name)
	}
}

func main() {
	c := CLI{}

	ctx := kong.Parse(&c,
		kong.Name("dirt"),
		kong.Description("dirt runs untrusted Thumb plugin binaries against a host scene, "+
			"key-value model, and message bus"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}))

	if err := ctx.Run(); err != nil {
		log.Fatal(err)
	}
}
