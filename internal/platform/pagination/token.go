package pagination

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Tokens are base64url("<created_at unix micros>:<id>"). Postgres stores
// microsecond timestamps, so nothing is lost on the round trip.
const tokenSeparator = ":"

// EncodeToken returns the opaque pageToken for cursor; the zero cursor encodes
// to the empty string.
func EncodeToken(cursor Cursor) (string, error) {
	if cursor.IsZero() {
		return "", nil
	}
	if strings.TrimSpace(cursor.ID) == "" {
		return "", fmt.Errorf("pagination: cursor without id")
	}
	raw := strconv.FormatInt(cursor.CreatedAt.UnixMicro(), 10) + tokenSeparator + cursor.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw)), nil
}

// DecodeToken reverses EncodeToken. Any malformed token wraps ErrInvalidPageToken.
func DecodeToken(token string) (Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Cursor{}, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: not base64url", ErrInvalidPageToken)
	}
	micros, id, ok := strings.Cut(string(raw), tokenSeparator)
	if !ok || id == "" {
		return Cursor{}, fmt.Errorf("%w: missing position", ErrInvalidPageToken)
	}
	ts, err := strconv.ParseInt(micros, 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: bad timestamp", ErrInvalidPageToken)
	}
	return Cursor{CreatedAt: time.UnixMicro(ts).UTC(), ID: id}, nil
}
