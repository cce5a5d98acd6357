// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"log/slog"
	"os"
	"sync"

	"github.com/awnumar/memguard"
	"golang.org/x/sys/unix"
)

// minMlockLimitKB is the minimum mlock limit required for the token
// enclave's guarded pages.
const minMlockLimitKB = 64

var (
	// secureMemoryOnce ensures memguard initialization happens only once.
	secureMemoryOnce sync.Once

	// mlockSufficient is set during initialization to indicate if secure memory is available.
	mlockSufficient bool

	// currentMlockLimitKB stores the current mlock limit for logging.
	currentMlockLimitKB int64
)

// initSecureMemory wires interrupt handling and probes mlock limits.
func initSecureMemory() {
	secureMemoryOnce.Do(func() {
		memguard.CatchInterrupt()
		mlockSufficient, currentMlockLimitKB = checkMlockLimit()
		if mlockSufficient {
			slog.Info("Secure memory initialized",
				"mlock_limit_kb", currentMlockLimitKB,
				"required_kb", minMlockLimitKB,
			)
		}
	})
}

// checkMlockLimit checks if the system has sufficient mlock limits.
//
// Returns true plus the current limit in kilobytes (-1 if unlimited).
func checkMlockLimit() (bool, int64) {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &rlimit); err != nil {
		slog.Warn("Could not determine mlock limit", "error", err)
		return true, -1
	}

	if rlimit.Cur == unix.RLIM_INFINITY {
		return true, -1
	}

	limitKB := int64(rlimit.Cur / 1024)
	return limitKB >= minMlockLimitKB, limitKB
}

// TokenVault holds the upstream API token in guarded memory so the
// secret never sits in plain process heap between requests.
//
// # Thread Safety
//
// Safe for concurrent use; the enclave handles its own locking.
type TokenVault struct {
	enclave *memguard.Enclave
	plain   string // set only in the insecure fallback mode
}

// NewTokenVault seals secret into an encrypted enclave.
//
// # Description
//
// An empty secret returns a nil vault (no auth header is sent). When
// mlock limits are insufficient, the vault fails unless
// SIGNAL_INSECURE_MEMORY=true acknowledges the fallback to plain
// process memory.
func NewTokenVault(secret string) (*TokenVault, error) {
	if secret == "" {
		return nil, nil
	}

	initSecureMemory()
	if !mlockSufficient {
		if os.Getenv("SIGNAL_INSECURE_MEMORY") != "true" {
			slog.Error("mlock limit insufficient for secure token storage",
				"current_limit_kb", currentMlockLimitKB,
				"required_kb", minMlockLimitKB,
				"help", "raise RLIMIT_MEMLOCK or set SIGNAL_INSECURE_MEMORY=true",
			)
			return nil, errors.New("mlock limit insufficient for secure token storage")
		}
		slog.Warn("SECURITY: Holding upstream token in insecure memory",
			"current_limit_kb", currentMlockLimitKB,
			"required_kb", minMlockLimitKB,
			"env_override", "SIGNAL_INSECURE_MEMORY=true",
		)
		return &TokenVault{plain: secret}, nil
	}

	return &TokenVault{enclave: memguard.NewEnclave([]byte(secret))}, nil
}

// Token opens the enclave and returns the secret. The caller puts it
// straight into a request header; nothing retains it.
func (v *TokenVault) Token() (string, error) {
	if v == nil {
		return "", nil
	}
	if v.enclave == nil {
		return v.plain, nil
	}

	buf, err := v.enclave.Open()
	if err != nil {
		return "", err
	}
	defer buf.Destroy()
	return string(buf.Bytes()), nil
}

// purgeSecureMemory wipes every guarded buffer. Called once at shutdown.
func purgeSecureMemory() {
	memguard.Purge()
}
