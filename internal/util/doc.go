// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small file and string helpers shared by kontor packages.
//
// # Key Functions
//
// File Operations:
//   - AtomicWriteFile: crash-safe write (temp file, fsync, rename)
//   - EnsurePrivateDir: create a directory readable only by the owner
//   - CheckPrivateMode: reject files or directories with group/world bits
//
// String Utilities:
//   - MaskID: shorten an identifier for log lines (abcd...wxyz)
//   - TruncateRunes: UTF-8 safe truncation with ellipsis
//
// # Usage
//
//	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
//	    return err
//	}
package util
