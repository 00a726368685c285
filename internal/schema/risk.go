package schema

func risks() Schema {
	return Schema{
		Type:        Risks,
		Description: "Risk register entries",
		Required:    []string{"title", "severity", "likelihood"},
		Optional:    []string{"description", "category", "mitigation"},
		Validators: map[string]Predicate{
			"severity":   OneOf("low", "medium", "high", "critical"),
			"likelihood": OneOf("very_low", "low", "medium", "high", "very_high"),
			"category":   OneOf("technical", "business", "operational", "security"),
		},
		Columns: []string{"title", "description", "severity", "likelihood", "category", "mitigation"},
		Transform: func(fields map[string]string) (Record, error) {
			r := newRowReader(fields)
			rec := Record{
				"title":       r.Text("title"),
				"description": r.Text("description"),
				"severity":    r.Enum("severity"),
				"likelihood":  r.Enum("likelihood"),
				"category":    r.Enum("category"),
				"mitigation":  r.Text("mitigation"),
			}
			return rec, r.Err()
		},
	}
}
