// Package clerk is a small client for the identity provider's user metadata
// API. It writes and reads a user's public metadata and classifies failures
// as permanent (4xx other than 408, 425 and 429) or temporary so callers can
// decide whether to retry.
//
//	c := clerk.New(cfg)
//	err := c.UpdateUserMetadata(ctx, "user_42", map[string]string{"subscription_status": "active"})
//	if clerk.IsTemporary(err) {
//		// retry later
//	}
package clerk
