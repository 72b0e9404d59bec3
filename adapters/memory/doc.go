// Package memory provides in-process implementations of the courier
// repositories. They enforce the same unique constraints as the SQL schema
// (idempotency key, provider event id, email+topic, unsubscribe token, user id),
// so services behave identically against them.
//
// Use them in tests and for single-process demos:
//
//	repos := memory.NewRepositories()
//	consent, _ := courier.NewConsentStore(
//	    courier.WithConsentRepositories(repos.Subscription, repos.Preference),
//	    courier.WithConsentLogger(&courier.NoopLogger{}),
//	)
package memory

// Repositories bundles one instance of every in-memory repository.
type Repositories struct {
	Message      *MessageRepository
	Event        *EventRepository
	Subscription *SubscriptionRepository
	Preference   *PreferenceRepository
	Users        *UserDirectory
}

// NewRepositories creates empty repositories.
func NewRepositories() *Repositories {
	return &Repositories{
		Message:      NewMessageRepository(),
		Event:        NewEventRepository(),
		Subscription: NewSubscriptionRepository(),
		Preference:   NewPreferenceRepository(),
		Users:        NewUserDirectory(),
	}
}
