package domain

// Identity is the verified subject bound to a credential.
type Identity struct {
	UserID string
	Role   Role
}
