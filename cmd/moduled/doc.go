// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Moduled is the command-line front end to the module package
// repository and loop-device allocator. It provides subcommands for
// scanning module directories (scan), reading images (inspect,
// decompress), building the active-module list of a system image
// (info-list), and managing loop devices (attach, finish, detach,
// preallocate).
//
// Configuration comes from the file named by --config or
// MODULED_CONFIG, else built-in device defaults; --root relocates every
// default path under a staging tree.
package main
