package schema

func infraMetrics() Schema {
	return Schema{
		Type:        InfraMetrics,
		Description: "Infrastructure metric samples",
		Required:    []string{"metric_name", "value", "timestamp"},
		Optional:    []string{"threshold", "service", "environment"},
		Validators: map[string]Predicate{
			"value":       Number,
			"timestamp":   Timestamp,
			"threshold":   Number,
			"environment": OneOf("dev", "staging", "prod"),
		},
		Columns: []string{"metric_name", "value", "threshold", "timestamp", "service", "environment"},
		Transform: func(fields map[string]string) (Record, error) {
			r := newRowReader(fields)
			rec := Record{
				"metric_name": r.Text("metric_name"),
				"value":       r.Float("value"),
				"threshold":   r.Float("threshold"),
				"timestamp":   r.Time("timestamp"),
				"service":     r.Text("service"),
				"environment": r.Enum("environment"),
			}
			return rec, r.Err()
		},
	}
}
