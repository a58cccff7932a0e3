// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build !windows

package util

import (
	"fmt"
	"os"
)

// CheckPrivateMode returns an error if path grants any group or world
// permission bits.
func CheckPrivateMode(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode&0077 != 0 {
		return fmt.Errorf("%s has insecure permissions (%o); fix with: chmod %o %s",
			path, mode, privateModeFor(info), path)
	}
	return nil
}

func privateModeFor(info os.FileInfo) os.FileMode {
	if info.IsDir() {
		return PrivateDirMode
	}
	return PrivateFileMode
}
