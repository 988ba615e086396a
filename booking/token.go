package booking

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// TokenBytes is the entropy of a reservation access token.
const TokenBytes = 32

// NewToken returns a hex encoded random token for self-service access.
func NewToken() (string, error) {
	b := make([]byte, TokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// TokenMatches compares in constant time. An empty presented token never
// matches.
func TokenMatches(stored, presented string) bool {
	if presented == "" || stored == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) == 1
}

// AccessURL builds the guest's direct link to their reservation.
func AccessURL(base string, id ReservationID, token string) string {
	q := url.Values{}
	q.Set("reservation_id", strconv.FormatInt(int64(id), 10))
	q.Set("token", token)
	return strings.TrimRight(base, "/") + "/html/bookingdetails.html?" + q.Encode()
}
