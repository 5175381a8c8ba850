// Package environment names the deployment environment and carries it through
// request contexts so handlers and loggers can adapt their behavior.
package environment
