// Package domain defines the core domain types shared across the server.
//
// This package contains concept-oriented files (errors.go, operation.go, user.go, events.go)
// with shared types and the closed inbound/outbound event unions. No implementation code - just contracts.
// Prevents circular imports by keeping the wire model out of the session and transport packages.
package domain
