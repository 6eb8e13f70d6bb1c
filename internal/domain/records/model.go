package records

import (
	"strings"
	"time"
)

// RecordType define las categorías de registro soportadas.
// @Enum consultation, lab-result, imaging, prescription, other
type RecordType string

const (
	TypeConsultation RecordType = "consultation"
	TypeLabResult    RecordType = "lab-result"
	TypeImaging      RecordType = "imaging"
	TypePrescription RecordType = "prescription"
	TypeOther        RecordType = "other"
)

func ParseRecordType(s string) (RecordType, error) {
	switch t := RecordType(strings.ToLower(strings.TrimSpace(s))); t {
	case TypeConsultation, TypeLabResult, TypeImaging, TypePrescription, TypeOther:
		return t, nil
	default:
		return "", ErrInvalidType
	}
}

// Record referencia un documento clínico. Es inmutable: una enmienda crea
// un Record nuevo con SupersedesID apuntando al anterior.
type Record struct {
	ID      string
	OwnerID string // paciente

	// AuthorID vacío = subido por el propio paciente.
	AuthorID string

	Type       RecordType
	ContentRef string

	SupersedesID string

	CreatedAt time.Time
}

// Cursor pagina listados newest-first por (createdAt, id).
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

func (r Record) Cursor() Cursor {
	return Cursor{CreatedAt: r.CreatedAt, ID: r.ID}
}

// Before reporta si r va estrictamente después de c en el orden newest-first.
func (r Record) Before(c Cursor) bool {
	if r.CreatedAt.Equal(c.CreatedAt) {
		return r.ID < c.ID
	}
	return r.CreatedAt.Before(c.CreatedAt)
}

// NewerFirst ordena por createdAt descendente y desempata por id descendente.
func NewerFirst(a, b Record) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID > b.ID
	}
	return a.CreatedAt.After(b.CreatedAt)
}
