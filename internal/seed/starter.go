package seed

func fp(v float64) *float64 { return &v }

// Starter returns the built-in fitness taxonomy used when no seed file
// is given: two areas covering daily health metrics and training
// sessions, with a nested category to show the hierarchy off.
func Starter() *File {
	return &File{
		Areas: []Area{
			{
				Name:        "Health",
				Icon:        "🏥",
				Color:       "#4CAF50",
				Description: "Daily health metrics and wellness tracking",
				Categories: []Category{
					{
						Name:        "Sleep",
						Description: "Sleep tracking and analysis",
						Attributes: []Attribute{
							{Name: "Total Sleep", Type: "number", Unit: "hours", Required: true, Min: fp(0), Max: fp(24)},
							{Name: "Deep Sleep", Type: "number", Unit: "hours", Min: fp(0), Max: fp(12)},
							{Name: "Sleep Quality", Type: "number", Unit: "score", Min: fp(0), Max: fp(100)},
						},
					},
					{
						Name:        "Daily Wellness",
						Description: "Daily health metrics",
						Attributes: []Attribute{
							{Name: "Steps", Type: "number", Unit: "steps", Min: fp(0), Max: fp(100000)},
							{Name: "Resting HR", Type: "number", Unit: "bpm", Min: fp(30), Max: fp(120)},
							{Name: "HRV", Type: "number", Unit: "ms", Min: fp(0), Max: fp(200)},
							{Name: "Body Battery", Type: "number", Unit: "score", Min: fp(0), Max: fp(100)},
						},
					},
				},
			},
			{
				Name:        "Training",
				Icon:        "💪",
				Color:       "#2196F3",
				Description: "Workout activities and training sessions",
				Categories: []Category{
					{
						Name:        "Cardio",
						Description: "Cardiovascular training",
						Attributes: []Attribute{
							{Name: "Duration", Type: "number", Unit: "minutes", Required: true, Min: fp(1), Max: fp(600)},
							{Name: "Distance", Type: "number", Unit: "km", Min: fp(0), Max: fp(200)},
							{Name: "Avg Heart Rate", Type: "number", Unit: "bpm", Min: fp(40), Max: fp(220)},
							{Name: "Calories", Type: "number", Unit: "kcal", Min: fp(0), Max: fp(5000)},
						},
					},
					{
						Name:        "Strength",
						Description: "Resistance training",
						Attributes: []Attribute{
							{Name: "Duration", Type: "number", Unit: "minutes", Required: true, Min: fp(1), Max: fp(180)},
							{Name: "Exercises", Type: "text"},
						},
						Children: []Category{
							{
								Name:        "Upper Body",
								Description: "Upper body strength exercises",
								Attributes: []Attribute{
									{Name: "Bench Press Weight", Type: "number", Unit: "kg", Min: fp(0), Max: fp(300)},
									{Name: "Reps", Type: "number", Unit: "count", Min: fp(1), Max: fp(100)},
								},
							},
						},
					},
				},
			},
		},
	}
}
