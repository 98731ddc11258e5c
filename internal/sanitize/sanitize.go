// Package sanitize normalizes and constrains untrusted request input before
// it reaches persistence or audit logs. Every function is total: malformed
// input degrades to an empty or clamped value instead of failing.
package sanitize

import (
	"math"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"github.com/atriumhr/telework-engine/internal/model"
)

const (
	// MaxActivityLen bounds free-form activity descriptions.
	MaxActivityLen = 500
	// MaxReasonLen bounds forced-checkout reasons.
	MaxReasonLen = 100
	// MaxMetadataLen bounds best-effort header metadata (country, device).
	MaxMetadataLen = 64
)

const sessionIDPrefix = "tws_"

// strict strips every HTML element and escapes what remains. The policy is
// safe for concurrent use.
var strict = bluemonday.StrictPolicy()

// Text normalizes untrusted free text: control characters become spaces,
// whitespace runs collapse, runes outside the allow-list are dropped, HTML is
// stripped and escaped, and the result is truncated to maxLen runes without
// cutting an escape entity in half. Applying Text twice yields the same
// output as applying it once.
func Text(raw string, maxLen int) string {
	if raw == "" || maxLen <= 0 {
		return ""
	}

	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, raw)
	cleaned = strict.Sanitize(cleaned)
	cleaned = filterAllowed(cleaned)
	// Collapse after filtering so dropped runes cannot leave double spaces
	// behind and break idempotence.
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	return truncateEntitySafe(cleaned, maxLen)
}

// allowedPunct also covers the characters bluemonday emits when escaping
// (&, #, ;) so that escaped output survives a second pass unchanged.
const allowedPunct = "&#;.,:!?'\"()/@+%=_*-"

func filterAllowed(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			return r
		case r == ' ':
			return r
		case strings.ContainsRune(allowedPunct, r):
			return r
		default:
			return -1
		}
	}, s)
}

func truncateEntitySafe(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) > maxLen {
		runes = runes[:maxLen]
	}
	out := string(runes)

	// A truncated escape entity ("&amp" without its ";") would get
	// re-escaped on the next pass; drop it entirely.
	if i := strings.LastIndexByte(out, '&'); i >= 0 && !strings.ContainsRune(out[i:], ';') && len(out)-i <= 8 {
		out = out[:i]
	}
	return strings.TrimRight(out, " ")
}

// ValidSessionID reports whether id has the exact server-generated shape
// "tws_<uuid>". Anything else is rejected before it reaches the store.
func ValidSessionID(id string) bool {
	// uuid.Parse accepts several variants; pin the canonical 36-char form.
	if len(id) != len(sessionIDPrefix)+36 || !strings.HasPrefix(id, sessionIDPrefix) {
		return false
	}
	_, err := uuid.Parse(strings.TrimPrefix(id, sessionIDPrefix))
	return err == nil
}

// NewSessionID generates a session identifier in the shape ValidSessionID
// accepts.
func NewSessionID() string {
	return sessionIDPrefix + uuid.NewString()
}

// ParseStatus validates a caller-supplied status update. The terminal
// hors_ligne state is never client-settable.
func ParseStatus(raw string) (model.SessionStatus, bool) {
	switch model.SessionStatus(raw) {
	case model.StatusConnected, model.StatusPaused, model.StatusMeeting:
		return model.SessionStatus(raw), true
	default:
		return "", false
	}
}

// ClampSeconds normalizes a client-reported elapsed-time increment into
// [0, ceiling]. Absent or non-numeric input yields zero.
func ClampSeconds(v *float64, ceiling int) int {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return 0
	}
	n := int(math.Floor(*v))
	if n < 0 {
		return 0
	}
	if n > ceiling {
		return ceiling
	}
	return n
}

// ShortID returns the prefix of an identifier for operational logs. Full ids
// never appear in log output.
func ShortID(id string) string {
	const keep = 8
	if len(id) <= keep {
		return id
	}
	return id[:keep] + "…"
}
