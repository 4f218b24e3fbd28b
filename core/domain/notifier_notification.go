package domain

// Lifecycle event values delivered by the provider.
const (
	LifecycleMissed                  = "missed"
	LifecycleDeleted                 = "deleted"
	LifecycleSubscriptionRemoved     = "subscriptionRemoved"
	LifecycleReauthorizationRequired = "reauthorizationRequired"
)

// NotificationPayload is the body of a webhook delivery.
type NotificationPayload struct {
	Value []NotificationEvent `json:"value"`
}

// NotificationEvent is one entry of a webhook delivery. It is processed and
// discarded, never stored.
type NotificationEvent struct {
	SubscriptionID                 string        `json:"subscriptionId,omitempty"`
	SubscriptionExpirationDateTime string        `json:"subscriptionExpirationDateTime,omitempty"`
	ChangeType                     string        `json:"changeType,omitempty"`
	Resource                       string        `json:"resource,omitempty"`
	ClientState                    string        `json:"clientState"`
	TenantID                       string        `json:"tenantId,omitempty"`
	LifecycleEvent                 string        `json:"lifecycleEvent,omitempty"`
	ResourceData                   *ResourceData `json:"resourceData,omitempty"`
}

// ResourceData identifies the changed item.
type ResourceData struct {
	ID        string `json:"id"`
	ODataType string `json:"@odata.type,omitempty"`
	ODataID   string `json:"@odata.id,omitempty"`
	ODataEtag string `json:"@odata.etag,omitempty"`
}

// MessageID returns the changed message identifier, or "".
func (e *NotificationEvent) MessageID() string {
	if e.ResourceData == nil {
		return ""
	}
	return e.ResourceData.ID
}

// IsLifecycle reports whether the entry is a lifecycle event.
func (e *NotificationEvent) IsLifecycle() bool {
	return e.LifecycleEvent != ""
}

// DispatchReport counts per-entry outcomes of one webhook delivery.
type DispatchReport struct {
	Received  int `json:"received"`
	Discarded int `json:"discarded"`
	Ignored   int `json:"ignored"`
	Duplicate int `json:"duplicate"`
	Fetched   int `json:"fetched"`
	Created   int `json:"created"`
	Renewed   int `json:"renewed"`
	Failed    int `json:"failed"`
}

// RenewalReport counts the outcome of one proactive renewal sweep.
type RenewalReport struct {
	Checked   int `json:"checked"`
	Renewed   int `json:"renewed"`
	Recreated int `json:"recreated"`
	Failed    int `json:"failed"`
}
