package schema

// CrawlerSourceCursorTable represents the 'crawler.sourcecursor' table
type CrawlerSourceCursorTable struct {
	Table            string
	Source           string
	ValidatorToken   string
	LastSuccessAt    string
	ConsecutiveFails string
	SuspendedUntil   string
	UpdatedAt        string
}

// CrawlerSourceCursor is the schema definition for crawler.sourcecursor
var CrawlerSourceCursor = CrawlerSourceCursorTable{
	Table:            "crawler.sourcecursor",
	Source:           "source",
	ValidatorToken:   "validatortoken",
	LastSuccessAt:    "lastsuccessat",
	ConsecutiveFails: "consecutivefails",
	SuspendedUntil:   "suspendeduntil",
	UpdatedAt:        "updatedat",
}
