package access

import (
	"time"

	"health-access-ledger/internal/domain/accessgrants"
)

type Reason string

const (
	ReasonOwnerSelfAccess Reason = "owner_self_access"
	ReasonGrantMatch      Reason = "grant_match"
	ReasonNoMatchingGrant Reason = "no_matching_grant"
	// ReasonRecordOwnerMismatch: el registro existe pero pertenece a otro owner.
	ReasonRecordOwnerMismatch Reason = "record_owner_mismatch"
)

// Decision es el resultado de un access check. Grant sólo viene en Allow
// por grant_match.
type Decision struct {
	Allowed bool
	Reason  Reason
	Grant   *accessgrants.Grant

	AuditEntryID string
	CheckedAt    time.Time
}

func (d Decision) result() string {
	if d.Allowed {
		return "allow"
	}
	return "deny"
}

// target describe el registro evaluado. Type vacío = no se pudo resolver
// (sólo matchean filtros all o record).
type target struct {
	RecordID string
	Type     string
}
