// Package auth implements the two HMAC-SHA256 signature schemes the broker
// relies on for trust: per-channel subscription auth for private/presence
// channels, and per-request signing for the admin HTTP API. Neither scheme
// ever compares signatures with ==; both route through crypto/subtle.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Sign returns the lowercase-hex HMAC-SHA256 of message under secret.
func Sign(secret, message string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature is the correct HMAC-SHA256 of message
// under secret, using a constant-time comparison so mismatched signatures
// cannot be distinguished by timing.
func Verify(secret, message, signature string) bool {
	expected := Sign(secret, message)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// ChannelAuthString builds the string a client must sign to subscribe to a
// private or presence channel: "socket_id:channel_name", with ":channel_data"
// appended for presence channels carrying a channel_data payload.
func ChannelAuthString(socketID, channel, channelData string) string {
	if channelData == "" {
		return fmt.Sprintf("%s:%s", socketID, channel)
	}
	return fmt.Sprintf("%s:%s:%s", socketID, channel, channelData)
}

// VerifyChannelAuth checks a client-supplied "key:signature" auth token
// (spec §4.2 subscribe auth) against the channel auth string built from the
// connection's socket ID, the channel name, and optional channel data.
func VerifyChannelAuth(secret, key, auth, socketID, channel, channelData string) bool {
	parts := strings.SplitN(auth, ":", 2)
	if len(parts) != 2 {
		return false
	}
	if parts[0] != key {
		return false
	}
	message := ChannelAuthString(socketID, channel, channelData)
	return Verify(secret, message, parts[1])
}

// RequestAuthString builds the string an admin API caller must sign:
// method, path, and the request's query parameters sorted and joined as a
// standard query string, per spec §6.2. auth_signature itself is never part
// of the signed string.
func RequestAuthString(method, path string, query url.Values) string {
	filtered := url.Values{}
	for k, v := range query {
		if k == "auth_signature" {
			continue
		}
		filtered[k] = v
	}

	keys := make([]string, 0, len(filtered))
	for k := range filtered {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		sort.Strings(filtered[k])
		for _, v := range filtered[k] {
			pairs = append(pairs, k+"="+v)
		}
	}

	return strings.Join([]string{
		strings.ToUpper(method),
		path,
		strings.Join(pairs, "&"),
	}, "\n")
}

// VerifyRequestAuth checks the admin API's auth_signature query parameter
// against the canonical request string for method, path and query.
func VerifyRequestAuth(secret, method, path string, query url.Values) bool {
	signature := query.Get("auth_signature")
	if signature == "" {
		return false
	}
	message := RequestAuthString(method, path, query)
	return Verify(secret, message, signature)
}
