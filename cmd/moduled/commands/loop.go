// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/moduled/cmd/moduled/cli"
	"github.com/bureau-foundation/moduled/lib/image"
	"github.com/bureau-foundation/moduled/lib/loop"
)

func newAllocator(configuration *configFlags, logger *slog.Logger) (*loop.Allocator, int, error) {
	cfg, err := configuration.load()
	if err != nil {
		return nil, 0, err
	}
	config, err := loopConfig(cfg, logger)
	if err != nil {
		return nil, 0, err
	}
	return loop.New(config), cfg.Loop.PreAllocate, nil
}

func attachCommand() *cli.Command {
	var (
		configuration configFlags
		keep          bool
	)

	return &cli.Command{
		Name:    "attach",
		Summary: "Attach an image payload to a loop device",
		Description: `Attach the payload of a plain image to a free loop device (read-only,
autoclear, direct I/O when possible) and print the device path.

The device stays attached until the command is interrupted. Without
--keep it is then detached. With --keep the descriptor is released
without detaching: a mount made in the meantime keeps the device
alive, and autoclear detaches it after unmount.`,
		Usage: "moduled attach [flags] <image.mpkg>",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("attach", pflag.ContinueOnError)
			configuration.register(flagSet)
			flagSet.BoolVar(&keep, "keep", false, "leave the device attached on exit")
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: moduled attach [flags] <image.mpkg>")
			}
			module, err := image.Open(args[0])
			if err != nil {
				return err
			}
			if module.IsCompressed() {
				return fmt.Errorf("%s is compressed; decompress it first", args[0])
			}
			allocator, _, err := newAllocator(&configuration, logger)
			if err != nil {
				return err
			}

			device, err := allocator.CreateAndConfigureLoopDevice(module.Path(),
				uint64(module.PayloadOffset()), uint64(module.PayloadSize()))
			if err != nil {
				return err
			}
			defer device.Close()
			fmt.Fprintln(stdout, device.Path())

			<-ctx.Done()
			if keep {
				logger.Info("releasing loop device", "device", device.Path(), "module", module.Name())
				return device.Keep()
			}
			logger.Info("detaching loop device", "device", device.Path(), "module", module.Name())
			return device.Close()
		},
	}
}

func finishCommand() *cli.Command {
	var configuration configFlags

	return &cli.Command{
		Name:    "finish",
		Summary: "Verify a mounted loop device and set autoclear",
		Description: `Check that the loop device is attached read-only to the given image
and set autoclear if it is missing, so the device goes away with its
last user. Safe to repeat.`,
		Usage: "moduled finish [flags] <device> <image.mpkg>",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("finish", pflag.ContinueOnError)
			configuration.register(flagSet)
			return flagSet
		},
		Run: func(_ context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 2 {
				return fmt.Errorf("usage: moduled finish [flags] <device> <image.mpkg>")
			}
			allocator, _, err := newAllocator(&configuration, logger)
			if err != nil {
				return err
			}
			return allocator.FinishConfiguring(args[0], args[1])
		},
	}
}

func detachCommand() *cli.Command {
	var configuration configFlags

	return &cli.Command{
		Name:    "detach",
		Summary: "Detach loop devices created by moduled",
		Description: `Detach each loop device given. Devices that moduled did not create,
devices with nothing attached, and missing nodes are left alone;
failures are logged, never fatal.`,
		Usage: "moduled detach [flags] <device>...",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("detach", pflag.ContinueOnError)
			configuration.register(flagSet)
			return flagSet
		},
		Run: func(_ context.Context, args []string, logger *slog.Logger) error {
			if len(args) == 0 {
				return fmt.Errorf("usage: moduled detach [flags] <device>...")
			}
			allocator, _, err := newAllocator(&configuration, logger)
			if err != nil {
				return err
			}
			for _, path := range args {
				allocator.DestroyLoopDevice(path, nil)
			}
			return nil
		},
	}
}

func preallocateCommand() *cli.Command {
	var (
		configuration configFlags
		count         int
	)

	return &cli.Command{
		Name:    "preallocate",
		Summary: "Create loop devices ahead of use",
		Description: `Create loop devices above the highest existing index so that later
attaches find ready device nodes. Waits for the loop control node
first (loop.control_timeout).`,
		Usage: "moduled preallocate [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("preallocate", pflag.ContinueOnError)
			configuration.register(flagSet)
			flagSet.IntVarP(&count, "count", "n", -1, "number of devices (default loop.pre_allocate)")
			return flagSet
		},
		Run: func(_ context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 0 {
				return fmt.Errorf("usage: moduled preallocate [flags]")
			}
			allocator, configured, err := newAllocator(&configuration, logger)
			if err != nil {
				return err
			}
			if count < 0 {
				count = configured
			}
			return allocator.PreAllocateLoopDevices(count)
		},
	}
}
