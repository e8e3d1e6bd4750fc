package checker

import (
	"fmt"
	"strconv"
	"time"
)

// ParseTimeout accepts Go duration strings ("6s", "500ms") as well as bare
// numbers, which are read as seconds ("6", "2.5"). Values at or below zero
// are coerced to one second.
func ParseTimeout(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		seconds, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return 0, fmt.Errorf("invalid timeout %q", s)
		}
		d = time.Duration(seconds * float64(time.Second))
	}
	if d <= 0 {
		d = time.Second
	}
	return d, nil
}
