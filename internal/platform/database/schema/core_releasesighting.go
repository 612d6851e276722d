package schema

// CoreReleaseSightingTable represents the 'core.releasesighting' table
type CoreReleaseSightingTable struct {
	Table      string
	ReleaseID  string
	SourceName string
	SourceURL  string
	SeenAt     string
}

// CoreReleaseSighting is the schema definition for core.releasesighting
var CoreReleaseSighting = CoreReleaseSightingTable{
	Table:      "core.releasesighting",
	ReleaseID:  "releaseid",
	SourceName: "sourcename",
	SourceURL:  "sourceurl",
	SeenAt:     "seenat",
}
