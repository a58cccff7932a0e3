// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build windows

package util

import "os"

// CheckPrivateMode only verifies that path exists on Windows. Access there is
// governed by the profile directory ACL, not by Unix mode bits.
func CheckPrivateMode(path string) error {
	_, err := os.Stat(path)
	return err
}
