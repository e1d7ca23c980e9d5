/*
identity.go - Request actor resolution

PURPOSE:
  Authentication lives outside this system (the surrounding platform
  fronts every request). This file only maps trusted identity headers
  to a booking.Actor for permission checks.

HEADERS:
  X-User-ID    the authenticated user's ID
  X-User-Role  "member" (default) or "admin"
*/
package api

import (
	"net/http"

	"github.com/forgefit/coin-engine/booking"
)

const (
	headerUserID   = "X-User-ID"
	headerUserRole = "X-User-Role"
)

// currentActor resolves the acting identity from request headers.
func currentActor(r *http.Request) booking.Actor {
	actor := booking.Actor{
		ID:   r.Header.Get(headerUserID),
		Role: r.Header.Get(headerUserRole),
	}
	if actor.Role == "" {
		actor.Role = "member"
	}
	return actor
}
