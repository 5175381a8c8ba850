// Package jwt verifies bearer tokens issued by the identity provider and
// exposes the resulting claims to handlers through the request context.
//
// It builds on github.com/golang-jwt/jwt/v5. JWKSVerifier validates RS256
// tokens against the provider's published key set, refreshing it when a token
// carries an unknown key id. HMACService signs and verifies HS256 tokens and
// is meant for internal callers and tests.
//
//	verifier := jwt.NewJWKSVerifier(cfg)
//	r.Use(jwt.Middleware(verifier))
//	...
//	claims, ok := jwt.ClaimsFromContext(r.Context())
package jwt
