package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"horse.fit/pulse/internal/globaltime"
)

// SignFeedbackLink produces the signature for a reviewer feedback link. The
// link carries the sentiment id and an expiry; anyone holding a valid
// signature may submit feedback for that one mention until it expires.
func SignFeedbackLink(secret, sentimentID string, expiresAt time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s:%d", sentimentID, expiresAt.Unix())
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyFeedbackLink checks a signature produced by SignFeedbackLink.
// Returns false for bad signatures, expired links, or an unset secret
// (signed links are disabled entirely without a secret).
func VerifyFeedbackLink(secret, sentimentID, expiresUnix, signature string) bool {
	if strings.TrimSpace(secret) == "" {
		return false
	}
	exp, err := strconv.ParseInt(strings.TrimSpace(expiresUnix), 10, 64)
	if err != nil {
		return false
	}
	expiresAt := time.Unix(exp, 0)
	if globaltime.UTC().After(expiresAt) {
		return false
	}
	want := SignFeedbackLink(secret, sentimentID, expiresAt)
	return hmac.Equal([]byte(want), []byte(strings.TrimSpace(signature)))
}
