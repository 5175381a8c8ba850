package logger

import (
	"log/slog"
	"time"
)

// Group creates a slog group attribute from the provided attributes.
func Group(name string, attrs ...slog.Attr) slog.Attr {
	return slog.Attr{Key: name, Value: slog.GroupValue(attrs...)}
}

// Error records err under the key "error". A nil error yields an empty Attr,
// which slog drops.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// UserID records the identity provider subject under "user_id".
func UserID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("user_id", id)
}

// SubscriptionID records the payment provider subscription id under "subscription_id".
func SubscriptionID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("subscription_id", id)
}

// CustomerID records the payment provider customer id under "customer_id".
func CustomerID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("customer_id", id)
}

// PriceID records the payment provider price id under "price_id".
func PriceID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("price_id", id)
}

func RequestID(id string) slog.Attr {
	return slog.String("request_id", id)
}

func EventType(eventType string) slog.Attr {
	return slog.String("event_type", eventType)
}

func EventID(id string) slog.Attr {
	return slog.String("event_id", id)
}

func Provider(name string) slog.Attr {
	return slog.String("provider", name)
}

func Component(name string) slog.Attr {
	return slog.String("component", name)
}

func Attempt(n int) slog.Attr {
	return slog.Int("attempt", n)
}

func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

// State records a lifecycle state name under "state".
func State(name string) slog.Attr {
	return slog.String("state", name)
}
