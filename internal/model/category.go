package model

// CategoryMapping resolves an expense's category label to a posting account.
// Resolved is false when the label has no known mapping; such expenses can
// never auto-post.
type CategoryMapping struct {
	Name          string
	AccountCode   string
	RequiresEvent bool
	Resolved      bool
}
