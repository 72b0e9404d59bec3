package model

// User is the slice of a host-application account the engine reads.
// Users are owned elsewhere; the engine never writes them.
type User struct {
	ID            string `json:"id" db:"id"`
	Email         string `json:"email" db:"email"`
	Active        bool   `json:"active" db:"active"`
	EmailVerified bool   `json:"emailVerified" db:"email_verified"`
}

// Recipient is one resolved addressee of an editorial send.
//
// Exactly one of UnsubscribeToken and PreferencesURL is set: subscription
// recipients unsubscribe by token, account-only recipients manage consent in
// the preference center.
type Recipient struct {
	Email            string `json:"email"`
	UserID           string `json:"userId,omitempty"`
	UnsubscribeToken string `json:"unsubscribeToken,omitempty"`
	PreferencesURL   string `json:"preferencesUrl,omitempty"`
}

// HasToken reports whether the recipient came from a subscription.
func (r Recipient) HasToken() bool {
	return r.UnsubscribeToken != ""
}
