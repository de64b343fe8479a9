package stats

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// StatusRange is an inclusive range of HTTP status codes.
type StatusRange struct {
	From int
	To   int
}

// StatusClass is the set of status codes that count as failed requests.
type StatusClass []StatusRange

// DefaultFailedStatuses marks every 4xx and 5xx response as failed.
var DefaultFailedStatuses = StatusClass{{From: 400, To: 599}}

// ParseStatusClass accepts entries like "404" or "500-599".
func ParseStatusClass(specs []string) (StatusClass, error) {
	if len(specs) == 0 {
		return DefaultFailedStatuses, nil
	}
	class := make(StatusClass, 0, len(specs))
	for _, spec := range specs {
		spec = strings.TrimSpace(spec)
		from, to, isRange := strings.Cut(spec, "-")
		lo, err := parseStatus(from)
		if err != nil {
			return nil, errors.Wrapf(err, "failed status %q", spec)
		}
		hi := lo
		if isRange {
			if hi, err = parseStatus(to); err != nil {
				return nil, errors.Wrapf(err, "failed status %q", spec)
			}
		}
		if hi < lo {
			return nil, errors.Errorf("failed status %q: range is reversed", spec)
		}
		class = append(class, StatusRange{From: lo, To: hi})
	}
	return class, nil
}

func parseStatus(s string) (int, error) {
	code, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if code < 100 || code > 999 {
		return 0, errors.Errorf("status %d out of range", code)
	}
	return code, nil
}

func (c StatusClass) Contains(status int) bool {
	for _, r := range c {
		if status >= r.From && status <= r.To {
			return true
		}
	}
	return false
}
