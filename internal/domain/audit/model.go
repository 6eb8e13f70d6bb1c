package audit

import "time"

type Action string

const (
	ActionGrant       Action = "grant"
	ActionRevoke      Action = "revoke"
	ActionAccessCheck Action = "access_check"
)

type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	ResultAllow   Result = "allow"
	ResultDeny    Result = "deny"
)

// Entry es inmutable una vez insertada: no existe update ni delete.
type Entry struct {
	ID        string
	Timestamp time.Time

	ActorID string
	Action  Action

	SubjectOwnerID   string
	SubjectGranteeID string

	// Contexto opcional según la acción
	GrantID    string
	RecordID   string
	Permission string

	Result Result
	Reason string
}

// Position identifica una entrada dentro del orden total (timestamp, id).
// Sirve de cursor para reanudar una consulta.
type Position struct {
	Timestamp time.Time
	ID        string
}

func (e Entry) Position() Position {
	return Position{Timestamp: e.Timestamp, ID: e.ID}
}

// After reporta si e va estrictamente después de p en el orden total.
func (e Entry) After(p Position) bool {
	if e.Timestamp.Equal(p.Timestamp) {
		return e.ID > p.ID
	}
	return e.Timestamp.After(p.Timestamp)
}

// Less ordena por timestamp y desempata por id (ids v7, monotónicos por inserción).
func Less(a, b Entry) bool {
	if a.Timestamp.Equal(b.Timestamp) {
		return a.ID < b.ID
	}
	return a.Timestamp.Before(b.Timestamp)
}
