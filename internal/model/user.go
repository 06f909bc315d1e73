package model

// User is the platform user acting on an integration, as identified by the UI session.
type User struct {
	ID    int64  `json:"id"`
	Email string `json:"email,omitempty"`
}

// SystemUser acts when an installation revoked upstream has no recorded owner.
var SystemUser = User{ID: 0}

func (u User) IsSystem() bool {
	return u.ID == 0
}
