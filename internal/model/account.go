package model

import "time"

type Account struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Token     string    `json:"token,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HasToken reports whether the account can authenticate reservation calls.
func (a Account) HasToken() bool {
	return a.Token != ""
}
