package schema

// CoreWorkTable represents the 'core.work' table
type CoreWorkTable struct {
	Table        string
	ID           string
	Title        string
	TitleNative  string
	TitleEnglish string
	Kind         string
	SourceURL    string
	IsDeleted    string
	CreatedAt    string
	UpdatedAt    string
}

// CoreWork is the schema definition for core.work
var CoreWork = CoreWorkTable{
	Table:        "core.work",
	ID:           "id",
	Title:        "title",
	TitleNative:  "titlenative",
	TitleEnglish: "titleenglish",
	Kind:         "kind",
	SourceURL:    "sourceurl",
	IsDeleted:    "isdeleted",
	CreatedAt:    "createdat",
	UpdatedAt:    "updatedat",
}

func (t CoreWorkTable) Columns() []string {
	return []string{
		t.ID, t.Title, t.TitleNative, t.TitleEnglish, t.Kind, t.SourceURL,
		t.IsDeleted, t.CreatedAt, t.UpdatedAt,
	}
}
