// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package loop

import "os"

type unsupportedDriver struct{}

func platformDriver() driver { return unsupportedDriver{} }

func (unsupportedDriver) getFree(string) (int, error) { return 0, ErrUnsupported }
func (unsupportedDriver) add(string, int) error       { return ErrUnsupported }
func (unsupportedDriver) openDevice(string) (*os.File, error) {
	return nil, ErrUnsupported
}
func (unsupportedDriver) openBacking(string, bool) (*os.File, error) {
	return nil, ErrUnsupported
}
func (unsupportedDriver) attach(*os.File, *os.File, attachSettings) error { return ErrUnsupported }
func (unsupportedDriver) flushBuffers(*os.File) error                     { return ErrUnsupported }
func (unsupportedDriver) status(*os.File) (Status, error)                 { return Status{}, ErrUnsupported }
func (unsupportedDriver) setFlags(*os.File, uint32) error                 { return ErrUnsupported }
func (unsupportedDriver) clear(*os.File) error                            { return ErrUnsupported }
