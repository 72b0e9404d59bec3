package model

import (
	"time"

	"github.com/google/uuid"
)

// Preference holds a registered user's account-level consent flags.
//
// There is at most one row per user. A missing row behaves exactly like
// DefaultPreference: every flag enabled.
type Preference struct {
	ID                    string    `json:"id" db:"id"`
	UserID                string    `json:"userId" db:"user_id"`
	TransactionalEnabled  bool      `json:"transactionalEnabled" db:"transactional_enabled"`
	EditorialEnabled      bool      `json:"editorialEnabled" db:"editorial_enabled"` // Master switch for blog/press/product
	BlogUpdatesEnabled    bool      `json:"blogUpdatesEnabled" db:"blog_updates_enabled"`
	PressUpdatesEnabled   bool      `json:"pressUpdatesEnabled" db:"press_updates_enabled"`
	ProductUpdatesEnabled bool      `json:"productUpdatesEnabled" db:"product_updates_enabled"`
	SecurityAlertsEnabled bool      `json:"securityAlertsEnabled" db:"security_alerts_enabled"`
	CreatedAt             time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt             time.Time `json:"updatedAt" db:"updated_at"`
}

// TableName returns the database table name for Preference.
func (p Preference) TableName() string {
	return tablePrefix + "preference"
}

// DefaultPreference returns the preference a user has before any row exists.
// The ID is left empty; NewPreference assigns one for insertion.
func DefaultPreference(userID string) Preference {
	now := time.Now().UTC()
	return Preference{
		UserID:                userID,
		TransactionalEnabled:  true,
		EditorialEnabled:      true,
		BlogUpdatesEnabled:    true,
		PressUpdatesEnabled:   true,
		ProductUpdatesEnabled: true,
		SecurityAlertsEnabled: true,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
}

// NewPreference creates a default preference row ready for insertion.
func NewPreference(userID string) Preference {
	p := DefaultPreference(userID)
	p.ID = uuid.NewString()
	return p
}

// PreferenceFlags is a partial update. Nil fields are left unchanged.
type PreferenceFlags struct {
	TransactionalEnabled  *bool `json:"transactionalEnabled,omitempty"`
	EditorialEnabled      *bool `json:"editorialEnabled,omitempty"`
	BlogUpdatesEnabled    *bool `json:"blogUpdatesEnabled,omitempty"`
	PressUpdatesEnabled   *bool `json:"pressUpdatesEnabled,omitempty"`
	ProductUpdatesEnabled *bool `json:"productUpdatesEnabled,omitempty"`
	SecurityAlertsEnabled *bool `json:"securityAlertsEnabled,omitempty"`
}

// IsEmpty reports whether the update would change nothing.
func (f PreferenceFlags) IsEmpty() bool {
	return f.TransactionalEnabled == nil && f.EditorialEnabled == nil &&
		f.BlogUpdatesEnabled == nil && f.PressUpdatesEnabled == nil &&
		f.ProductUpdatesEnabled == nil && f.SecurityAlertsEnabled == nil
}

// Apply copies every non-nil flag onto p.
func (p *Preference) Apply(f PreferenceFlags) {
	set := func(dst *bool, src *bool) {
		if src != nil {
			*dst = *src
		}
	}
	set(&p.TransactionalEnabled, f.TransactionalEnabled)
	set(&p.EditorialEnabled, f.EditorialEnabled)
	set(&p.BlogUpdatesEnabled, f.BlogUpdatesEnabled)
	set(&p.PressUpdatesEnabled, f.PressUpdatesEnabled)
	set(&p.ProductUpdatesEnabled, f.ProductUpdatesEnabled)
	set(&p.SecurityAlertsEnabled, f.SecurityAlertsEnabled)
	p.UpdatedAt = time.Now().UTC()
}

// AllowsTopic reports the effective consent for topic.
// Editorial topics need both the master switch and the topic flag.
func (p *Preference) AllowsTopic(topic Topic) bool {
	switch topic {
	case TopicBlog:
		return p.EditorialEnabled && p.BlogUpdatesEnabled
	case TopicPress:
		return p.EditorialEnabled && p.PressUpdatesEnabled
	case TopicProduct:
		return p.EditorialEnabled && p.ProductUpdatesEnabled
	case TopicSecurity:
		return p.SecurityAlertsEnabled
	case TopicAccount, TopicContact:
		return p.TransactionalEnabled
	}
	return false
}
