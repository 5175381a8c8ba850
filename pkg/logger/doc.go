// Package logger builds *slog.Logger values for the billing service.
//
// New applies a list of Option values (format, level, static attributes,
// environment presets) and wraps the resulting handler with a decorator that
// pulls request-scoped attributes, such as the request id, out of the
// context on every log call.
//
//	log := logger.New(
//		logger.WithEnvironment(cfg.Env, "billing-api"),
//		logger.WithLevelName(cfg.LogLevel),
//		logger.WithContextExtractors(requestid.LoggerExtractor()),
//	)
//	log.InfoContext(ctx, "subscription reconciled",
//		logger.UserID(userID),
//		logger.SubscriptionID(subID),
//	)
//
// Attribute helpers in attr.go keep key names consistent across packages.
package logger
