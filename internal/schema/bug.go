package schema

func bugsSprints() Schema {
	return Schema{
		Type:        BugsSprints,
		Description: "Bug reports with sprint assignment",
		Required:    []string{"title", "severity", "status"},
		Optional:    []string{"description", "sprint_name", "assignee", "priority"},
		Validators: map[string]Predicate{
			"status":   OneOf("open", "in_progress", "resolved", "closed"),
			"priority": OneOf("low", "medium", "high", "urgent"),
		},
		Columns: []string{"title", "description", "severity", "status", "sprint_name", "assignee", "priority"},
		Transform: func(fields map[string]string) (Record, error) {
			r := newRowReader(fields)
			rec := Record{
				"title":       r.Text("title"),
				"description": r.Text("description"),
				"severity":    r.Text("severity"),
				"status":      r.Enum("status"),
				"sprint_name": r.Text("sprint_name"),
				"assignee":    r.Text("assignee"),
				"priority":    r.Enum("priority"),
			}
			return rec, r.Err()
		},
	}
}
