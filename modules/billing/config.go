package billing

import "time"

type Config struct {
	WebhookBodyLimit     int64         `env:"BILLING_WEBHOOK_BODY_LIMIT" envDefault:"1048576"`
	PlansCacheTTL        time.Duration `env:"BILLING_PLANS_CACHE_TTL" envDefault:"1h"`
	SubscriptionCacheTTL time.Duration `env:"BILLING_SUBSCRIPTION_CACHE_TTL" envDefault:"5m"`
}

const defaultWebhookBodyLimit = 1 << 20

func (c Config) bodyLimit() int64 {
	if c.WebhookBodyLimit <= 0 {
		return defaultWebhookBodyLimit
	}
	return c.WebhookBodyLimit
}
