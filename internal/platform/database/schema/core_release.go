package schema

// CoreReleaseTable represents the 'core.release' table
type CoreReleaseTable struct {
	Table         string
	ID            string
	WorkID        string
	UnitKind      string
	UnitNumber    string
	Platform      string
	ReleaseDate   string
	SourceName    string
	SourceURL     string
	IsFilteredOut string
	FilterRule    string
	CreatedAt     string
}

// CoreRelease is the schema definition for core.release
var CoreRelease = CoreReleaseTable{
	Table:         "core.release",
	ID:            "id",
	WorkID:        "workid",
	UnitKind:      "unitkind",
	UnitNumber:    "unitnumber",
	Platform:      "platform",
	ReleaseDate:   "releasedate",
	SourceName:    "sourcename",
	SourceURL:     "sourceurl",
	IsFilteredOut: "isfilteredout",
	FilterRule:    "filterrule",
	CreatedAt:     "createdat",
}

func (t CoreReleaseTable) Columns() []string {
	return []string{
		t.ID, t.WorkID, t.UnitKind, t.UnitNumber, t.Platform, t.ReleaseDate,
		t.SourceName, t.SourceURL, t.IsFilteredOut, t.FilterRule, t.CreatedAt,
	}
}
