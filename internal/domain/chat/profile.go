package chat

// Profile is the public card of a participant as shown next to a chat.
type Profile struct {
	Participant Participant `json:"participant"`
	DisplayName string      `json:"display_name"`
	Headline    string      `json:"headline,omitempty"`
	AvatarURL   string      `json:"avatar_url,omitempty"`
	IsDeleted   bool        `json:"is_deleted"`
}

// DeletedProfile is substituted when a participant no longer exists.
func DeletedProfile(p Participant) Profile {
	name := "Deleted user"
	if p.Type == ParticipantCompany {
		name = "Deleted company"
	}
	return Profile{
		Participant: p,
		DisplayName: name,
		IsDeleted:   true,
	}
}
