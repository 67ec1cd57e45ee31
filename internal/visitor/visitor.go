/*
Package visitor models who a request belongs to.

A Visitor is identified by its device id, which partitions the durable store. An
authenticated identity may be attached; it is carried on impression and conversion
records but never used to key assignments, so a visitor who clears local state is
treated as a new participant.
*/
package visitor

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/khanglvm/personalize/internal/storage"
)

// SessionKey is the per-visitor key holding the stable session id.
const SessionKey = "ab_session_id"

// ErrNoDevice is returned when a visitor has no device id.
var ErrNoDevice = errors.New("visitor: device id is required")

// Visitor identifies the owner of a request.
type Visitor struct {
	// DeviceID partitions the durable per-visitor store.
	DeviceID string `json:"device_id"`

	// IdentityID is the authenticated identity, empty when anonymous.
	IdentityID string `json:"identity_id,omitempty"`
}

// Validate reports whether the visitor can own persisted state.
func (v Visitor) Validate() error {
	if v.DeviceID == "" {
		return ErrNoDevice
	}
	return nil
}

// Authenticated reports whether an identity is attached.
func (v Visitor) Authenticated() bool {
	return v.IdentityID != ""
}

// Sessions issues stable device-local session ids.
type Sessions struct {
	kv    storage.KV
	newID func() string
}

// NewSessions creates a session issuer backed by kv.
func NewSessions(kv storage.KV) *Sessions {
	return &Sessions{kv: kv, newID: uuid.NewString}
}

// Ensure returns the visitor's session id, generating and persisting one on first use.
//
// Concurrent first calls agree on a single id. If the store rejects the write the
// freshly generated id is returned with the error so callers can continue.
func (s *Sessions) Ensure(ctx context.Context, v Visitor) (string, error) {
	if err := v.Validate(); err != nil {
		return "", err
	}

	if raw, err := s.kv.Get(ctx, v.DeviceID, SessionKey); err == nil && len(raw) > 0 {
		return string(raw), nil
	}

	candidate := s.newID()
	stored, _, err := s.kv.SetIfAbsent(ctx, v.DeviceID, SessionKey, []byte(candidate))
	if err != nil {
		return candidate, fmt.Errorf("persist session id: %w", err)
	}

	return string(stored), nil
}
