// Package domain holds the identifier types shared across the module.
// Identifiers coming over a trust boundary go through a Parse function;
// internal construction uses the typed values directly.
package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "gridgrant/pkg/domain-errors"
)

// PermissionID identifies one permission request for its whole lifecycle.
type PermissionID uuid.UUID

// NewPermissionID mints a random identifier.
func NewPermissionID() PermissionID {
	return PermissionID(uuid.New())
}

// ParsePermissionID validates an externally-supplied identifier.
func ParsePermissionID(raw string) (PermissionID, error) {
	if raw == "" {
		return PermissionID{}, dErrors.New(dErrors.CodeBadRequest, "permission id is required")
	}
	u, err := uuid.Parse(raw)
	if err != nil {
		return PermissionID{}, dErrors.Wrap(dErrors.CodeBadRequest, "invalid permission id", err)
	}
	if u == uuid.Nil {
		return PermissionID{}, dErrors.New(dErrors.CodeBadRequest, "permission id must not be nil")
	}
	return PermissionID(u), nil
}

func (id PermissionID) String() string { return uuid.UUID(id).String() }

// IsNil reports whether the identifier is the zero value.
func (id PermissionID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

func (id PermissionID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *PermissionID) UnmarshalText(data []byte) error {
	parsed, err := ParsePermissionID(string(data))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ConnectionID names the customer-facing connection a permission was
// requested through. Opaque to this module.
type ConnectionID string

func ParseConnectionID(raw string) (ConnectionID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", dErrors.New(dErrors.CodeBadRequest, "connection id is required")
	}
	return ConnectionID(trimmed), nil
}

func (id ConnectionID) String() string { return string(id) }

// DataNeedID names the data need the permission fulfills. Opaque.
type DataNeedID string

func ParseDataNeedID(raw string) (DataNeedID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", dErrors.New(dErrors.CodeBadRequest, "data need id is required")
	}
	return DataNeedID(trimmed), nil
}

func (id DataNeedID) String() string { return string(id) }

// MeteringPointID identifies a metering point in the administrator's
// numbering plan.
type MeteringPointID string

func ParseMeteringPointID(raw string) (MeteringPointID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", dErrors.New(dErrors.CodeBadRequest, "metering point id is required")
	}
	return MeteringPointID(trimmed), nil
}

func (id MeteringPointID) String() string { return string(id) }
