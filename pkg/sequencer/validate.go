package sequencer

// Issue is a validation problem found on one node of a tree.
type Issue struct {
	Path     string `json:"path"`
	EntityID string `json:"entity_id"`
	Message  string `json:"message"`
}

// ValidateTree walks e and every node below it, including conditions, triggers and
// trigger runners, and collects the issues reported by Validatable nodes. Disabled
// nodes are not validated.
func ValidateTree(e Entity) []Issue {
	var issues []Issue
	collectIssues(e, &issues)
	return issues
}

func collectIssues(e Entity, issues *[]Issue) {
	if e.Status() == StatusDisabled {
		return
	}
	if v, ok := e.(Validatable); ok {
		for _, msg := range v.Validate() {
			*issues = append(*issues, Issue{Path: Path(e), EntityID: e.ID(), Message: msg})
		}
	}

	var c *Container
	switch n := e.(type) {
	case *RootContainer:
		c = n.Container
		defer collectIssues(n.EndArea(), issues)
	case *Container:
		c = n
	case Trigger:
		collectIssues(n.TriggerRunner(), issues)
		return
	default:
		return
	}

	for _, cond := range c.Conditions() {
		collectIssues(cond, issues)
	}
	for _, t := range c.Triggers() {
		collectIssues(t, issues)
	}
	for _, it := range c.Items() {
		collectIssues(it, issues)
	}
}
