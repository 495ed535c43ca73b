// Package pagination encodes keyset cursors as opaque, versioned tokens.
package pagination

import (
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-press/pkg/apperrors"
)

// Version is the current token format. Tokens with any other version are rejected.
const Version = "v1"

// Kind tags which ordering a cursor belongs to so tokens cannot be replayed
// against a different listing.
type Kind string

const (
	KindFeedRecent   Kind = "feed_new"
	KindFeedPopular  Kind = "feed_popular"
	KindReviewQueue  Kind = "review_queue"
	KindPublishQueue Kind = "publish_queue"
	KindAudit        Kind = "audit"
)

// Cursor identifies the last row of a page. Likes is only meaningful for
// popularity ordering.
type Cursor struct {
	Kind  Kind
	Time  time.Time
	ID    uuid.UUID
	Likes int64
}

// Encode serialises the cursor to an opaque URL-safe token.
func Encode(c Cursor) string {
	raw := strings.Join([]string{
		Version,
		string(c.Kind),
		strconv.FormatInt(c.Time.UnixMicro(), 10),
		c.ID.String(),
		strconv.FormatInt(c.Likes, 10),
	}, "|")
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// Decode parses a token produced by Encode and checks it belongs to kind.
// Any malformed or foreign token is a validation error.
func Decode(token string, kind Kind) (*Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, invalid("not a cursor token")
	}

	parts := strings.Split(string(raw), "|")
	if len(parts) != 5 {
		return nil, invalid("malformed cursor")
	}
	if parts[0] != Version {
		return nil, invalid("unsupported cursor version %q", parts[0])
	}
	if Kind(parts[1]) != kind {
		return nil, invalid("cursor does not belong to this listing")
	}

	micros, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return nil, invalid("malformed cursor timestamp")
	}
	id, err := uuid.Parse(parts[3])
	if err != nil {
		return nil, invalid("malformed cursor id")
	}
	likes, err := strconv.ParseInt(parts[4], 10, 64)
	if err != nil || likes < 0 {
		return nil, invalid("malformed cursor count")
	}

	return &Cursor{
		Kind:  kind,
		Time:  time.UnixMicro(micros).UTC(),
		ID:    id,
		Likes: likes,
	}, nil
}

// DecodeOptional returns nil for an empty token.
func DecodeOptional(token string, kind Kind) (*Cursor, error) {
	if token == "" {
		return nil, nil
	}
	return Decode(token, kind)
}

func invalid(format string, args ...any) error {
	return apperrors.NewValidationError("cursor", format, args...)
}
