package subscription

import (
	"fmt"
	"strings"
)

// Status is the provider-reported subscription status.
type Status string

const (
	StatusIncomplete        Status = "incomplete"
	StatusIncompleteExpired Status = "incomplete_expired"
	StatusTrialing          Status = "trialing"
	StatusActive            Status = "active"
	StatusPastDue           Status = "past_due"
	StatusCanceled          Status = "canceled"
	StatusUnpaid            Status = "unpaid"
)

// ParseStatus accepts every status in the enumeration plus the provider
// spellings "cancelled" and "paused" (mapped to unpaid).
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusIncomplete, StatusIncompleteExpired, StatusTrialing, StatusActive,
		StatusPastDue, StatusCanceled, StatusUnpaid:
		return st, nil
	case "cancelled":
		return StatusCanceled, nil
	case "paused":
		return StatusUnpaid, nil
	default:
		return "", fmt.Errorf("%w: unknown subscription status %q", ErrMalformedEvent, s)
	}
}

func (s Status) IsTerminal() bool {
	return s == StatusCanceled
}

// ScheduledChangeType names a change that takes effect at a future date.
type ScheduledChangeType string

const (
	ChangeCancel    ScheduledChangeType = "cancel"
	ChangeUpgrade   ScheduledChangeType = "upgrade"
	ChangeDowngrade ScheduledChangeType = "downgrade"
)

// MetadataUserIDKey is the provider metadata key carrying the owning user.
const MetadataUserIDKey = "clerk_user_id"
