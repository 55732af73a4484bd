package verify

import (
	"errors"
	"fmt"
	"time"
)

// ConditionTimeoutError reports that a condition did not hold before the
// timeout. LastObserved is what the final attempt saw.
type ConditionTimeoutError struct {
	Locator      string
	Condition    string
	Expected     string
	LastObserved string
	Attempts     int
	Timeout      time.Duration
}

func (e *ConditionTimeoutError) Error() string {
	subject := e.Locator
	if subject == "" {
		subject = "page"
	}
	return fmt.Sprintf("CONDITION_TIMEOUT: %s %s not met after %s (%d attempts): expected %s, last observed %s",
		subject, e.Condition, e.Timeout, e.Attempts, e.Expected, e.LastObserved)
}

// UnexpectedCountError reports a count that stayed at the wrong value for the
// whole settle window.
type UnexpectedCountError struct {
	Locator   string
	Expected  int
	Actual    int
	StableFor time.Duration
}

func (e *UnexpectedCountError) Error() string {
	return fmt.Sprintf("UNEXPECTED_COUNT: %s matched %d elements, expected %d (stable for %s)",
		e.Locator, e.Actual, e.Expected, e.StableFor)
}

// IsConditionTimeout reports whether err is or wraps a ConditionTimeoutError.
func IsConditionTimeout(err error) bool {
	var ct *ConditionTimeoutError
	return errors.As(err, &ct)
}

// IsUnexpectedCount reports whether err is or wraps an UnexpectedCountError.
func IsUnexpectedCount(err error) bool {
	var uc *UnexpectedCountError
	return errors.As(err, &uc)
}
