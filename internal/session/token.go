package session

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	qrcode "github.com/skip2/go-qrcode"
)

// ErrInvalidToken reports a token that does not decode to a payload.
var ErrInvalidToken = errors.New("invalid session token")

// TokenPayload is what a QR code carries. The session id is a pointer to
// server state; ValidUntil is a client-side hint and verification always
// re-checks expiry against the stored session.
type TokenPayload struct {
	SessionID  string    `json:"sid"`
	ClassID    string    `json:"cls"`
	SubjectID  string    `json:"sub"`
	ValidUntil time.Time `json:"exp"`
}

// EncodeToken packs a payload into an opaque URL-safe string.
func EncodeToken(p TokenPayload) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeToken unpacks a scanned string. Any malformed input maps to
// ErrInvalidToken so callers never see codec internals.
func DecodeToken(token string) (TokenPayload, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return TokenPayload{}, ErrInvalidToken
	}
	var p TokenPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return TokenPayload{}, ErrInvalidToken
	}
	if p.SessionID == "" {
		return TokenPayload{}, ErrInvalidToken
	}
	return p, nil
}

// QRPNG renders a token as a PNG for the teacher screen.
func QRPNG(token string, size int) ([]byte, error) {
	if size <= 0 {
		size = 256
	}
	return qrcode.Encode(token, qrcode.Medium, size)
}
