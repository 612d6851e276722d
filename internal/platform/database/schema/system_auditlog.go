package schema

// SystemAuditLogTable represents the 'system.auditlog' table
type SystemAuditLogTable struct {
	Table       string
	ID          string
	EventType   string
	SubjectType string
	SubjectID   string
	Channel     string
	Outcome     string
	Detail      string
	CreatedAt   string
}

// SystemAuditLog is the schema definition for system.auditlog
var SystemAuditLog = SystemAuditLogTable{
	Table:       "system.auditlog",
	ID:          "id",
	EventType:   "eventtype",
	SubjectType: "subjecttype",
	SubjectID:   "subjectid",
	Channel:     "channel",
	Outcome:     "outcome",
	Detail:      "detail",
	CreatedAt:   "createdat",
}
