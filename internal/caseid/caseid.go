// Package caseid parses the case numbers users send to the bot.
package caseid

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Pattern is the accepted case-number syntax. Input is matched case-insensitively.
var Pattern = regexp.MustCompile(`(?i)^([A-Z]{2,4})-?(\d{4,6})$`)

// ErrInvalid is returned when input does not look like a case number.
var ErrInvalid = errors.New("invalid case identifier")

// ID is a normalized case identifier such as REQ-360275.
type ID struct {
	prefix string
	number string
}

// Parse trims and validates raw input, normalizing it to the dashed uppercase form.
func Parse(raw string) (ID, error) {
	m := Pattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return ID{}, fmt.Errorf("%w: %q", ErrInvalid, raw)
	}
	return ID{prefix: strings.ToUpper(m[1]), number: m[2]}, nil
}

// Match reports whether raw would parse.
func Match(raw string) bool {
	return Pattern.MatchString(strings.TrimSpace(raw))
}

// MustParse is Parse for literals in tests and defaults.
func MustParse(raw string) ID {
	id, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return id
}

func (id ID) Prefix() string { return id.prefix }
func (id ID) Number() string { return id.number }

// IsZero reports whether id was never parsed.
func (id ID) IsZero() bool { return id.prefix == "" && id.number == "" }

func (id ID) String() string {
	if id.IsZero() {
		return ""
	}
	return id.prefix + "-" + id.number
}

// Matches reports whether text mentions this case, with or without the dash. The mention
// must stand alone: REQ-1234 does not match inside XREQ-1234 or REQ-123456.
func (id ID) Matches(text string) bool {
	if id.IsZero() {
		return false
	}
	mention := regexp.MustCompile(`(?i)(?:^|[^A-Z])` + regexp.QuoteMeta(id.prefix) + `-?` +
		regexp.QuoteMeta(id.number) + `(?:$|\D)`)
	return mention.MatchString(text)
}
