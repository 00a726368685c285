package schema

func contentPerformance() Schema {
	return Schema{
		Type:        ContentPerformance,
		Description: "Content views, engagement and revenue per platform",
		Required:    []string{"content_title", "views", "platform"},
		Optional:    []string{"engagement_rate", "revenue", "duration"},
		Validators: map[string]Predicate{
			"views":           Count,
			"engagement_rate": Between(0, 100),
			"revenue":         Number,
			"platform":        OneOf("web", "mobile", "tv", "ott"),
			"duration":        Count,
		},
		Columns: []string{"content_title", "views", "engagement_rate", "revenue", "platform", "duration"},
		Transform: func(fields map[string]string) (Record, error) {
			r := newRowReader(fields)
			rec := Record{
				"content_title":   r.Text("content_title"),
				"views":           r.Int("views"),
				"engagement_rate": r.Float("engagement_rate"),
				"revenue":         r.Float("revenue"),
				"platform":        r.Enum("platform"),
				"duration":        r.Int("duration"),
			}
			return rec, r.Err()
		},
	}
}
