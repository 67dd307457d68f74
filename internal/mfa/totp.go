package mfa

import (
	"bytes"
	"crypto/subtle"
	"encoding/base64"
	"image/png"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// RFC 6238 parameters used by every authenticator enrollment.
const (
	Period     = 30
	SecretSize = 20
	Skew       = 1
	qrSize     = 200
)

var validateOpts = totp.ValidateOpts{
	Period:    Period,
	Skew:      0,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// generateKey creates a new TOTP key for accountName under issuer.
func generateKey(issuer, accountName string) (*otp.Key, error) {
	return totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: accountName,
		Period:      Period,
		SecretSize:  SecretSize,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
}

// qrDataURL renders key as a PNG QR code data URL.
func qrDataURL(key *otp.Key) (string, error) {
	img, err := key.Image(qrSize, qrSize)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// normalizeCode strips spaces. It returns "" unless the result is exactly six digits.
func normalizeCode(code string) string {
	code = strings.ReplaceAll(strings.TrimSpace(code), " ", "")
	if len(code) != 6 {
		return ""
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return ""
		}
	}
	return code
}

// StepAt returns the TOTP time step containing t.
func StepAt(t time.Time) int64 {
	return t.Unix() / Period
}

// matchStep compares code against the codes of steps T-1, T and T+1 in constant time and returns the
// matching step. Every candidate is computed and compared so timing does not reveal which one matched.
func matchStep(secret, code string, now time.Time) (int64, bool) {
	code = normalizeCode(code)
	if code == "" {
		return 0, false
	}
	var (
		matched int64
		found   bool
	)
	for offset := -Skew; offset <= Skew; offset++ {
		at := now.Add(time.Duration(offset*Period) * time.Second)
		candidate, err := totp.GenerateCodeCustom(secret, at, validateOpts)
		if err != nil {
			return 0, false
		}
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(code)) == 1 && !found {
			matched = StepAt(at)
			found = true
		}
	}
	return matched, found
}
