package schema

// NotifyDeliveryStateTable represents the 'notify.deliverystate' table
type NotifyDeliveryStateTable struct {
	Table         string
	ID            string
	ReleaseID     string
	Channel       string
	Status        string
	ExternalRef   string
	RetryCount    string
	LastError     string
	LastAttemptAt string
	CreatedAt     string
	UpdatedAt     string
}

// NotifyDeliveryState is the schema definition for notify.deliverystate
var NotifyDeliveryState = NotifyDeliveryStateTable{
	Table:         "notify.deliverystate",
	ID:            "id",
	ReleaseID:     "releaseid",
	Channel:       "channel",
	Status:        "status",
	ExternalRef:   "externalref",
	RetryCount:    "retrycount",
	LastError:     "lasterror",
	LastAttemptAt: "lastattemptat",
	CreatedAt:     "createdat",
	UpdatedAt:     "updatedat",
}

func (t NotifyDeliveryStateTable) Columns() []string {
	return []string{
		t.ID, t.ReleaseID, t.Channel, t.Status, t.ExternalRef, t.RetryCount,
		t.LastError, t.LastAttemptAt, t.CreatedAt, t.UpdatedAt,
	}
}
