package mfa

import (
	"crypto/rand"
	"strings"

	"care-platform/backend/internal/security"
)

// DefaultBackupCodeCount is the number of recovery codes issued on enrollment.
const DefaultBackupCodeCount = 10

// backupAlphabet omits 0/O and 1/I/L to keep codes readable.
const backupAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

const backupCodeLen = 10

// GenerateBackupCodes returns n codes formatted as XXXXX-XXXXX.
func GenerateBackupCodes(n int) ([]string, error) {
	codes := make([]string, 0, n)
	seen := make(map[string]bool, n)
	for len(codes) < n {
		b := make([]byte, backupCodeLen)
		if _, err := rand.Read(b); err != nil {
			return nil, err
		}
		s := make([]byte, backupCodeLen)
		for i := range b {
			// 248 is the largest multiple of 31 below 256; rejecting above it avoids modulo bias.
			for b[i] >= 248 {
				if _, err := rand.Read(b[i : i+1]); err != nil {
					return nil, err
				}
			}
			s[i] = backupAlphabet[int(b[i])%len(backupAlphabet)]
		}
		code := string(s[:5]) + "-" + string(s[5:])
		if seen[code] {
			continue
		}
		seen[code] = true
		codes = append(codes, code)
	}
	return codes, nil
}

// NormalizeBackupCode uppercases the code and drops dashes and whitespace.
func NormalizeBackupCode(code string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '-' || r == ' ' || r == '\t':
			return -1
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		}
		return r
	}, code)
}

// HashBackupCode returns the stored form of a backup code.
func HashBackupCode(code string) string {
	return security.HashSecret(NormalizeBackupCode(code))
}
