// Package service holds the business logic between the HTTP handlers
// and the repositories. Services depend on narrow consumer-side
// interfaces so tests can substitute in-memory fakes.
package service

import "time"

func nowUTC() time.Time {
	return time.Now().UTC()
}
