package enums

import (
	"fmt"
	"strings"
)

// NotificationType is the server-assigned type_code of a notification.
// The set is open: codes the client does not know are still delivered.
type NotificationType string

const (
	NotificationTypeRefundRequested       NotificationType = "REFUND_REQUESTED"
	NotificationTypeRefundApproved        NotificationType = "REFUND_APPROVED"
	NotificationTypeRefundRejected        NotificationType = "REFUND_REJECTED"
	NotificationTypeAILimitUpdated        NotificationType = "AI_LIMIT_UPDATED"
	NotificationTypeAILimitReached        NotificationType = "AI_LIMIT_REACHED"
	NotificationTypeSubscriptionCreated   NotificationType = "SUBSCRIPTION_CREATED"
	NotificationTypeSubscriptionUpdated   NotificationType = "SUBSCRIPTION_UPDATED"
	NotificationTypeSubscriptionCancelled NotificationType = "SUBSCRIPTION_CANCELLED"
	NotificationTypePlanUpdated           NotificationType = "PLAN_UPDATED"
	NotificationTypeSystemAnnouncement    NotificationType = "SYSTEM_ANNOUNCEMENT"
)

var notificationIcons = map[NotificationType]string{
	NotificationTypeRefundRequested:       "receipt-refund",
	NotificationTypeRefundApproved:        "check-circle",
	NotificationTypeRefundRejected:        "x-circle",
	NotificationTypeAILimitUpdated:        "sparkles",
	NotificationTypeAILimitReached:        "exclamation-triangle",
	NotificationTypeSubscriptionCreated:   "credit-card",
	NotificationTypeSubscriptionUpdated:   "credit-card",
	NotificationTypeSubscriptionCancelled: "no-symbol",
	NotificationTypePlanUpdated:           "rectangle-stack",
	NotificationTypeSystemAnnouncement:    "megaphone",
}

const defaultNotificationIcon = "bell"

// IsValid checks whether the type is one the client knows how to present.
func (n NotificationType) IsValid() bool {
	_, ok := notificationIcons[n]
	return ok
}

// Icon returns the display icon for the type, falling back to a generic bell.
func (n NotificationType) Icon() string {
	if icon, ok := notificationIcons[n]; ok {
		return icon
	}
	return defaultNotificationIcon
}

// AffectsSubscription reports whether the event should invalidate cached subscription/usage state.
func (n NotificationType) AffectsSubscription() bool {
	switch n {
	case NotificationTypeAILimitUpdated,
		NotificationTypeAILimitReached,
		NotificationTypeSubscriptionCreated,
		NotificationTypeSubscriptionUpdated,
		NotificationTypeSubscriptionCancelled,
		NotificationTypePlanUpdated:
		return true
	}
	return false
}

// ParseNotificationType normalizes a raw code. Unknown codes are rejected so
// callers can decide whether to keep them as opaque values.
func ParseNotificationType(value string) (NotificationType, error) {
	candidate := NotificationType(strings.ToUpper(strings.TrimSpace(value)))
	if candidate.IsValid() {
		return candidate, nil
	}
	return "", fmt.Errorf("invalid notification type %q", value)
}
