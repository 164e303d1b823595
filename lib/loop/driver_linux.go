// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package loop

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

type linuxDriver struct{}

func platformDriver() driver { return linuxDriver{} }

func (linuxDriver) getFree(controlPath string) (int, error) {
	control, err := os.OpenFile(controlPath, os.O_RDWR, 0)
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", controlPath, err)
	}
	defer control.Close()

	index, err := unix.IoctlRetInt(int(control.Fd()), unix.LOOP_CTL_GET_FREE)
	if err != nil {
		return 0, fmt.Errorf("LOOP_CTL_GET_FREE: %w", err)
	}
	return index, nil
}

func (linuxDriver) add(controlPath string, index int) error {
	control, err := os.OpenFile(controlPath, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("opening %s: %w", controlPath, err)
	}
	defer control.Close()

	if err := unix.IoctlSetInt(int(control.Fd()), unix.LOOP_CTL_ADD, index); err != nil {
		return fmt.Errorf("LOOP_CTL_ADD %d: %w", index, err)
	}
	return nil
}

func (linuxDriver) openDevice(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_RDWR, 0)
}

func (linuxDriver) openBacking(path string, direct bool) (*os.File, error) {
	flags := os.O_RDONLY
	if direct {
		flags |= unix.O_DIRECT
	}
	return os.OpenFile(path, flags, 0)
}

func (d linuxDriver) attach(device, backing *os.File, settings attachSettings) error {
	info := loopInfo(Status{
		BackingFile: settings.BackingName,
		Offset:      settings.Offset,
		SizeLimit:   settings.SizeLimit,
		Flags:       settings.Flags,
		Tag:         settings.Tag,
	})
	deviceFd := int(device.Fd())

	// LOOP_CONFIGURE sets up the device atomically (Linux 5.8+).
	err := unix.IoctlLoopConfigure(deviceFd, &unix.LoopConfig{
		Fd:   uint32(backing.Fd()),
		Info: info,
	})
	if err == nil {
		return nil
	}
	if !errors.Is(err, unix.EINVAL) && !errors.Is(err, unix.ENOTTY) {
		return fmt.Errorf("LOOP_CONFIGURE: %w", err)
	}

	// Older kernels: attach, then set status, then direct I/O.
	if err := unix.IoctlSetInt(deviceFd, unix.LOOP_SET_FD, int(backing.Fd())); err != nil {
		return fmt.Errorf("LOOP_SET_FD: %w", err)
	}
	directIO := info.Flags&FlagDirectIO != 0
	info.Flags &^= FlagDirectIO
	if err := unix.IoctlLoopSetStatus64(deviceFd, &info); err != nil {
		statusErr := fmt.Errorf("LOOP_SET_STATUS64: %w", err)
		if clearErr := d.clear(device); clearErr != nil {
			return errors.Join(statusErr, fmt.Errorf("detaching after failed status: %w", clearErr))
		}
		return statusErr
	}
	if directIO {
		// Failure leaves the device on buffered I/O, which is correct
		// if slower.
		unix.IoctlSetInt(deviceFd, unix.LOOP_SET_DIRECT_IO, 1)
	}
	return nil
}

func (linuxDriver) flushBuffers(device *os.File) error {
	if err := unix.IoctlSetInt(int(device.Fd()), unix.BLKFLSBUF, 0); err != nil {
		return fmt.Errorf("BLKFLSBUF: %w", err)
	}
	return nil
}

func (linuxDriver) status(device *os.File) (Status, error) {
	info, err := unix.IoctlLoopGetStatus64(int(device.Fd()))
	if err != nil {
		return Status{}, fmt.Errorf("LOOP_GET_STATUS64: %w", err)
	}
	return Status{
		BackingFile: cString(info.File_name[:]),
		Offset:      info.Offset,
		SizeLimit:   info.Sizelimit,
		Flags:       info.Flags,
		Number:      info.Number,
		Tag:         cString(info.Crypt_name[:]),
	}, nil
}

func (linuxDriver) setFlags(device *os.File, flags uint32) error {
	deviceFd := int(device.Fd())
	info, err := unix.IoctlLoopGetStatus64(deviceFd)
	if err != nil {
		return fmt.Errorf("LOOP_GET_STATUS64: %w", err)
	}
	info.Flags = flags
	if err := unix.IoctlLoopSetStatus64(deviceFd, info); err != nil {
		return fmt.Errorf("LOOP_SET_STATUS64: %w", err)
	}
	return nil
}

func (linuxDriver) clear(device *os.File) error {
	if err := unix.IoctlSetInt(int(device.Fd()), unix.LOOP_CLR_FD, 0); err != nil {
		return fmt.Errorf("LOOP_CLR_FD: %w", err)
	}
	return nil
}

func loopInfo(status Status) unix.LoopInfo64 {
	info := unix.LoopInfo64{
		Offset:    status.Offset,
		Sizelimit: status.SizeLimit,
		Flags:     status.Flags,
	}
	copy(info.File_name[:len(info.File_name)-1], status.BackingFile)
	copy(info.Crypt_name[:len(info.Crypt_name)-1], status.Tag)
	return info
}

func cString(field []byte) string {
	if end := bytes.IndexByte(field, 0); end >= 0 {
		field = field[:end]
	}
	return string(field)
}
