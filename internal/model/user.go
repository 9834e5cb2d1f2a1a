package model

import "time"

type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	AvatarURL string    `json:"avatar_url"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatUser is the public projection attached to messages, participants and
// presence grants.
type ChatUser struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

func (u *User) ToChatUser() ChatUser {
	return ChatUser{ID: u.ID, Name: u.Name, AvatarURL: u.AvatarURL}
}
