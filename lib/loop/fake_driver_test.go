// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package loop

import (
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
)

// fakeDriver simulates the kernel with regular files standing in for
// device nodes. Nodes appear in nodeDirectory after getFree hands out
// their index, optionally only after nodeDelay failed opens. Like
// current kernels it drops the crypt-name tag unless keepsTag is set,
// and when sysfsDirectory is set it publishes loop/backing_file there
// while a device is attached.
type fakeDriver struct {
	nodeDirectory  string
	sysfsDirectory string
	nodeDelay      int

	nextIndex   int
	getFreeErrs []error
	pending     map[string]int
	getFrees    int

	addErrs map[int]error
	added   []int

	directFails  bool
	backingOpens []bool

	keepsTag   bool
	attachErrs []error
	flushErr   error
	clearErr   error

	devices map[string]*fakeDevice
	cleared []string
}

type fakeDevice struct {
	attached bool
	status   Status
}

func newFakeDriver(nodeDirectory string) *fakeDriver {
	return &fakeDriver{
		nodeDirectory: nodeDirectory,
		pending:       make(map[string]int),
		addErrs:       make(map[int]error),
		devices:       make(map[string]*fakeDevice),
	}
}

func (f *fakeDriver) nodePath(index int) string {
	return filepath.Join(f.nodeDirectory, "loop"+strconv.Itoa(index))
}

func (f *fakeDriver) getFree(string) (int, error) {
	f.getFrees++
	if len(f.getFreeErrs) > 0 {
		err := f.getFreeErrs[0]
		f.getFreeErrs = f.getFreeErrs[1:]
		return 0, err
	}
	index := f.nextIndex
	f.nextIndex++
	f.pending[f.nodePath(index)] = f.nodeDelay
	return index, nil
}

func (f *fakeDriver) add(_ string, index int) error {
	if err, ok := f.addErrs[index]; ok {
		return err
	}
	f.added = append(f.added, index)
	return nil
}

func (f *fakeDriver) openDevice(path string) (*os.File, error) {
	if remaining, ok := f.pending[path]; ok {
		if remaining > 0 {
			f.pending[path] = remaining - 1
			return nil, &fs.PathError{Op: "open", Path: path, Err: syscall.ENOENT}
		}
		delete(f.pending, path)
		if err := os.WriteFile(path, nil, 0600); err != nil {
			return nil, err
		}
	}
	return os.OpenFile(path, os.O_RDWR, 0)
}

func (f *fakeDriver) openBacking(path string, direct bool) (*os.File, error) {
	f.backingOpens = append(f.backingOpens, direct)
	if direct && f.directFails {
		return nil, &fs.PathError{Op: "open", Path: path, Err: syscall.EINVAL}
	}
	return os.Open(path)
}

func (f *fakeDriver) attach(device, backing *os.File, settings attachSettings) error {
	if len(f.attachErrs) > 0 {
		err := f.attachErrs[0]
		f.attachErrs = f.attachErrs[1:]
		if err != nil {
			return err
		}
	}
	f.devices[device.Name()] = &fakeDevice{
		attached: true,
		status: Status{
			BackingFile: settings.BackingName,
			Offset:      settings.Offset,
			SizeLimit:   settings.SizeLimit,
			Flags:       settings.Flags,
		},
	}
	if f.keepsTag {
		f.devices[device.Name()].status.Tag = settings.Tag
	}
	if f.sysfsDirectory != "" {
		attribute := filepath.Join(f.sysfsDirectory, filepath.Base(device.Name()), "loop")
		if err := os.MkdirAll(attribute, 0755); err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(attribute, "backing_file"), []byte(backing.Name()+"\n"), 0644); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeDriver) flushBuffers(*os.File) error { return f.flushErr }

func (f *fakeDriver) status(device *os.File) (Status, error) {
	state, ok := f.devices[device.Name()]
	if !ok || !state.attached {
		return Status{}, syscall.ENXIO
	}
	return state.status, nil
}

func (f *fakeDriver) setFlags(device *os.File, flags uint32) error {
	state, ok := f.devices[device.Name()]
	if !ok || !state.attached {
		return syscall.ENXIO
	}
	state.status.Flags = flags
	return nil
}

func (f *fakeDriver) clear(device *os.File) error {
	state, ok := f.devices[device.Name()]
	if !ok || !state.attached {
		return syscall.ENXIO
	}
	if f.clearErr != nil {
		return f.clearErr
	}
	state.attached = false
	if f.sysfsDirectory != "" {
		os.RemoveAll(filepath.Join(f.sysfsDirectory, filepath.Base(device.Name()), "loop"))
	}
	f.cleared = append(f.cleared, device.Name())
	return nil
}

// attachedStatus returns the status of the device at path, or false
// when nothing is attached.
func (f *fakeDriver) attachedStatus(path string) (Status, bool) {
	state, ok := f.devices[path]
	if !ok || !state.attached {
		return Status{}, false
	}
	return state.status, true
}
