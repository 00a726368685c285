package schema

func kpiMetrics() Schema {
	return Schema{
		Type:        KPIMetrics,
		Description: "KPI metrics by reporting period",
		Required:    []string{"metric_name", "value", "period"},
		Optional:    []string{"target", "category", "description"},
		Validators: map[string]Predicate{
			"metric_name": NotBlank,
			"value":       Number,
			"target":      Number,
			"period":      Period,
		},
		Columns: []string{"metric_name", "value", "target", "period", "category", "description"},
		Transform: func(fields map[string]string) (Record, error) {
			r := newRowReader(fields)
			rec := Record{
				"metric_name": r.Text("metric_name"),
				"value":       r.Float("value"),
				"target":      r.Float("target"),
				"period":      r.Text("period"),
				"category":    r.Text("category"),
				"description": r.Text("description"),
			}
			return rec, r.Err()
		},
	}
}
