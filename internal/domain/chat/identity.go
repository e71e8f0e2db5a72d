package chat

// Identity is who the client is currently acting as. It is either Personal or
// Company.
type Identity interface {
	Participant() Participant
	// PersonalUserID is the human behind the identity; for a company it is
	// the operator the session reverts to when leaving company mode.
	PersonalUserID() string
	isIdentity()
}

// Personal is the authenticated human acting as themselves.
type Personal struct {
	UserID string
}

func (p Personal) Participant() Participant { return User(p.UserID) }
func (p Personal) PersonalUserID() string   { return p.UserID }
func (Personal) isIdentity()                {}

// Company is a human operator acting on behalf of a company they manage.
type Company struct {
	CompanyID  string
	OperatorID string
}

func (c Company) Participant() Participant { return CompanyParticipant(c.CompanyID) }
func (c Company) PersonalUserID() string   { return c.OperatorID }
func (Company) isIdentity()                {}

// SameIdentity reports whether two identities bind the same participant.
func SameIdentity(a, b Identity) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Participant() == b.Participant()
}
