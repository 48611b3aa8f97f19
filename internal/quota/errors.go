package quota

import (
	"errors"
	"regexp"
	"strings"
)

// ErrExhausted marks a failure caused by the upstream service rejecting a
// request for quota reasons.
var ErrExhausted = errors.New("quota exhausted")

// exhaustionReporter is implemented by provider errors that know their own
// upstream status.
type exhaustionReporter interface {
	QuotaExhausted() bool
}

var exhaustionMarkers = []string{
	"resource_exhausted",
	"resource exhausted",
	"too many requests",
}

// statusTooMany matches 429 as a standalone number, so token counts such
// as 14290 do not read as quota errors.
var statusTooMany = regexp.MustCompile(`\b429\b`)

// IsExhausted reports whether err signals upstream quota exhaustion.
func IsExhausted(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrExhausted) {
		return true
	}
	var reporter exhaustionReporter
	if errors.As(err, &reporter) && reporter.QuotaExhausted() {
		return true
	}
	msg := strings.ToLower(err.Error())
	if statusTooMany.MatchString(msg) {
		return true
	}
	for _, marker := range exhaustionMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
