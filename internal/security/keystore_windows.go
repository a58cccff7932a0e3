// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build windows
// +build windows

package security

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/morganforge/kontor/internal/util"
)

// WindowsKeyStore wraps the key with DPAPI so only the current Windows
// account can unwrap it.
type WindowsKeyStore struct {
	path string
}

// NewKeyStore returns a DPAPI-backed key store at path.
func NewKeyStore(path string) KeyStore {
	return &WindowsKeyStore{path: path}
}

func (w *WindowsKeyStore) Path() string { return w.path }

func (w *WindowsKeyStore) Store(key []byte) error {
	encrypted, err := dpAPIEncrypt(key)
	if err != nil {
		return fmt.Errorf("DPAPI encryption failed: %w", err)
	}
	if err := util.AtomicWriteFile(w.path, encrypted, util.PrivateFileMode); err != nil {
		return fmt.Errorf("write key file: %w", err)
	}
	return nil
}

func (w *WindowsKeyStore) Retrieve() ([]byte, error) {
	encrypted, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	key, err := dpAPIDecrypt(encrypted)
	if err != nil {
		return nil, fmt.Errorf("DPAPI decryption failed: %w", err)
	}
	return key, nil
}

func (w *WindowsKeyStore) Exists() bool {
	_, err := os.Stat(w.path)
	return err == nil
}

// =============================================================================
// DPAPI
// =============================================================================

type dataBLOB struct {
	cbData uint32
	pbData *byte
}

var (
	crypt32                = windows.NewLazySystemDLL("crypt32.dll")
	procCryptProtectData   = crypt32.NewProc("CryptProtectData")
	procCryptUnprotectData = crypt32.NewProc("CryptUnprotectData")
	kernel32               = windows.NewLazySystemDLL("kernel32.dll")
	procLocalFree          = kernel32.NewProc("LocalFree")
)

// cryptProtectUIForbidden suppresses DPAPI prompts.
const cryptProtectUIForbidden = 0x01

func dpAPIEncrypt(data []byte) ([]byte, error) {
	return dpAPICall(procCryptProtectData, data)
}

func dpAPIDecrypt(data []byte) ([]byte, error) {
	return dpAPICall(procCryptUnprotectData, data)
}

func dpAPICall(proc *windows.LazyProc, data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty data")
	}

	in := dataBLOB{cbData: uint32(len(data)), pbData: &data[0]}
	var out dataBLOB

	ret, _, err := proc.Call(
		uintptr(unsafe.Pointer(&in)),
		0, 0, 0, 0,
		cryptProtectUIForbidden,
		uintptr(unsafe.Pointer(&out)),
	)
	if ret == 0 {
		return nil, fmt.Errorf("%s failed: %w", proc.Name, err)
	}
	defer procLocalFree.Call(uintptr(unsafe.Pointer(out.pbData)))

	result := make([]byte, out.cbData)
	copy(result, unsafe.Slice(out.pbData, out.cbData))
	return result, nil
}
