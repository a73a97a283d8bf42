package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"token-ledger/pkg/apperror"
)

// HMACSignatureService implements ports.SignatureService for provider
// webhooks signed as "t=<unix>,v1=<hex hmac-sha256 of "<t>.<body>">".
type HMACSignatureService struct {
	tolerance time.Duration
	now       func() time.Time
}

// NewHMACSignatureService creates a signature service that rejects headers
// whose timestamp is further than tolerance from the current time.
func NewHMACSignatureService(tolerance time.Duration) *HMACSignatureService {
	return &HMACSignatureService{
		tolerance: tolerance,
		now:       time.Now,
	}
}

// Sign returns the full signature header for payload at timestamp.
func (s *HMACSignatureService) Sign(secret string, timestamp int64, payload []byte) string {
	ts := strconv.FormatInt(timestamp, 10)
	return "t=" + ts + ",v1=" + computeSignature(secret, ts, payload)
}

// Verify checks header against payload. Any v1 entry may match, which lets
// the provider roll secrets. Uses constant-time comparison.
func (s *HMACSignatureService) Verify(secret string, header string, payload []byte) error {
	if secret == "" || header == "" {
		return apperror.ErrInvalidSignature()
	}

	var ts string
	var candidates []string
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			ts = value
		case "v1":
			candidates = append(candidates, value)
		}
	}
	if ts == "" || len(candidates) == 0 {
		return apperror.ErrInvalidSignature()
	}

	timestamp, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return apperror.ErrInvalidSignature()
	}
	age := s.now().Sub(time.Unix(timestamp, 0))
	if age < 0 {
		age = -age
	}
	if s.tolerance > 0 && age > s.tolerance {
		return apperror.ErrTimestampExpired()
	}

	expected := []byte(computeSignature(secret, ts, payload))
	for _, candidate := range candidates {
		if hmac.Equal(expected, []byte(candidate)) {
			return nil
		}
	}
	return apperror.ErrInvalidSignature()
}

func computeSignature(secret, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
