package auth

// Method indica cómo se autenticó el principal del request.
type Method string

const (
	MethodDev    Method = "dev"
	MethodBearer Method = "bearer"
)

// Claims identifica al principal autenticado. UserID es el principalId que
// usan ledger, engine y audit log.
type Claims struct {
	UserID   string
	Email    string
	TenantID string

	Method Method
}

func (c Claims) Authenticated() bool {
	return c.UserID != ""
}
