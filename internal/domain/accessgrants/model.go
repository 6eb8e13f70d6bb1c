package accessgrants

import (
	"strings"
	"time"
)

// Scope es el nivel de permiso de un grant. Write implica Read.
type Scope string

const (
	ScopeRead  Scope = "read"
	ScopeWrite Scope = "write"
)

func (s Scope) Valid() bool {
	return s == ScopeRead || s == ScopeWrite
}

// Covers reporta si el scope alcanza para el permiso pedido.
func (s Scope) Covers(p Permission) bool {
	switch s {
	case ScopeWrite:
		return p == PermissionRead || p == PermissionWrite
	case ScopeRead:
		return p == PermissionRead
	default:
		return false
	}
}

type Permission string

const (
	PermissionRead  Permission = "read"
	PermissionWrite Permission = "write"
)

func (p Permission) Valid() bool {
	return p == PermissionRead || p == PermissionWrite
}

type Status string

const (
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
	// StatusExpired nunca se persiste: lo calcula EffectiveStatus.
	StatusExpired Status = "expired"
)

type FilterKind string

const (
	FilterAll      FilterKind = "all"
	FilterCategory FilterKind = "category"
	FilterRecord   FilterKind = "record"
)

// RecordFilter delimita a qué registros del owner aplica un grant.
type RecordFilter struct {
	Kind  FilterKind
	Value string // tipo de registro o record id; vacío para "all"
}

var FilterAllRecords = RecordFilter{Kind: FilterAll}

// Specificity: record > category > all.
func (f RecordFilter) Specificity() int {
	switch f.Kind {
	case FilterRecord:
		return 2
	case FilterCategory:
		return 1
	default:
		return 0
	}
}

// Matches evalúa el filtro contra un registro. recordType vacío significa
// que el registro no se pudo resolver; en ese caso category no matchea.
func (f RecordFilter) Matches(recordID, recordType string) bool {
	switch f.Kind {
	case FilterAll:
		return true
	case FilterRecord:
		return recordID != "" && f.Value == recordID
	case FilterCategory:
		return recordType != "" && f.Value == recordType
	default:
		return false
	}
}

func (f RecordFilter) String() string {
	if f.Kind == FilterAll || f.Kind == "" {
		return string(FilterAll)
	}
	return string(f.Kind) + ":" + f.Value
}

// ParseRecordFilter acepta "all", "category:<tipo>" o "record:<id>".
// Vacío equivale a "all".
func ParseRecordFilter(s string) (RecordFilter, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == string(FilterAll) {
		return FilterAllRecords, nil
	}
	kind, value, ok := strings.Cut(s, ":")
	value = strings.TrimSpace(value)
	if !ok || value == "" {
		return RecordFilter{}, ErrInvalidInput
	}
	switch FilterKind(kind) {
	case FilterCategory, FilterRecord:
		return RecordFilter{Kind: FilterKind(kind), Value: value}, nil
	default:
		return RecordFilter{}, ErrInvalidInput
	}
}

// Key identifica la tupla sobre la que rige "a lo sumo un grant activo".
type Key struct {
	OwnerID   string
	GranteeID string
	Scope     Scope
	Filter    RecordFilter
}

func (k Key) String() string {
	return k.OwnerID + "|" + k.GranteeID + "|" + string(k.Scope) + "|" + k.Filter.String()
}

type Grant struct {
	ID string

	OwnerID   string // quien comparte
	GranteeID string // profesional / delegado

	Scope  Scope
	Filter RecordFilter

	ValidFrom  time.Time
	ValidUntil *time.Time // nil = sin vencimiento

	Status Status

	CreatedAt time.Time
	RevokedAt *time.Time

	// Version se incrementa en cada escritura (control optimista).
	Version int64
}

func (g Grant) Key() Key {
	return Key{OwnerID: g.OwnerID, GranteeID: g.GranteeID, Scope: g.Scope, Filter: g.Filter}
}

// EffectiveStatus es puro: Expired es una vista sobre filas activas con
// ValidUntil estrictamente pasado, nunca un estado almacenado. En el instante
// exacto de ValidUntil el grant sigue Active, aunque InWindow ya lo excluye.
func EffectiveStatus(g Grant, now time.Time) Status {
	if g.Status == StatusActive && g.ValidUntil != nil && now.After(*g.ValidUntil) {
		return StatusExpired
	}
	return g.Status
}

// InWindow reporta si now cae en [ValidFrom, ValidUntil).
func (g Grant) InWindow(now time.Time) bool {
	if now.Before(g.ValidFrom) {
		return false
	}
	if g.ValidUntil != nil && !now.Before(*g.ValidUntil) {
		return false
	}
	return true
}
