// Package observability owns construction of the process logger. All
// services receive a *zap.Logger built here; nothing else in the tree
// configures logging.
package observability
