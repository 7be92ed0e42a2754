package models

// MarkNotificationsRequest selects the notification groups to mark. No groups
// means all of them.
type MarkNotificationsRequest struct {
	Groups []string `json:"groups" validate:"omitempty,dive,required"`
}
