package courier

import "github.com/coregx/courier/model"

// StatusTransitionPolicy decides whether a provider event may move a message
// from one status to another.
type StatusTransitionPolicy interface {
	Allow(from, to model.MessageStatus) bool
}

// PermissivePolicy accepts every transition, so a late "delivered" can follow
// an "opened". This is the default.
type PermissivePolicy struct{}

// Allow always returns true.
func (PermissivePolicy) Allow(_, _ model.MessageStatus) bool { return true }

// statusRank orders statuses along the delivery funnel. Terminal negative
// outcomes share the top rank so none of them can be overwritten.
var statusRank = map[model.MessageStatus]int{
	model.StatusQueued:     0,
	model.StatusFailed:     1,
	model.StatusSent:       2,
	model.StatusDelivered:  3,
	model.StatusOpened:     4,
	model.StatusClicked:    5,
	model.StatusBounced:    6,
	model.StatusComplained: 6,
	model.StatusSuppressed: 6,
}

// ForwardOnlyPolicy rejects transitions that would move a message backwards
// along the funnel (delivered after opened, sent after bounced, ...).
// Same-status updates are rejected as well.
type ForwardOnlyPolicy struct{}

// Allow reports whether to ranks strictly above from.
func (ForwardOnlyPolicy) Allow(from, to model.MessageStatus) bool {
	fr, ok := statusRank[from]
	if !ok {
		return true
	}
	tr, ok := statusRank[to]
	if !ok {
		return false
	}
	return tr > fr
}
