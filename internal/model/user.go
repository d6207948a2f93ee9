package model

// User is the profile the chat core knows about a subject. Credentials live
// in the auth subsystem.
type User struct {
	ID       string `json:"id" bson:"_id"`
	Fullname string `json:"fullname" bson:"fullname"`
	Username string `json:"username" bson:"username"`
	Avatar   string `json:"avatar" bson:"avatar"`
}

// Summary builds the event summary for u.
func (u User) Summary(lastMessage string) UserSummary {
	return UserSummary{
		ID:          u.ID,
		Fullname:    u.Fullname,
		Username:    u.Username,
		Avatar:      u.Avatar,
		LastMessage: lastMessage,
	}
}

// UpdateProfileRequest is the request to update the caller's profile.
type UpdateProfileRequest struct {
	Fullname string `json:"fullname"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}
