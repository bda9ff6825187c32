package story

import "fablecast/server/internal/models"

// SampleStory returns the built-in demo story. It exercises every
// branch mechanic: gated choices, consequences, tone shifts and a
// persona voice change, so a fresh install has something playable
// before any story files are configured.
func SampleStory() *models.Story {
	return &models.Story{
		ID:        "the-last-lighthouse",
		Title:     "The Last Lighthouse",
		StartNode: "arrival",
		Metadata: models.StoryMetadata{
			DurationMinutes: 15,
			Maturity:        "standard",
			BranchingFactor: 2,
			SaveSlots:       3,
		},
		Personas: map[string]*models.Persona{
			"keeper": {
				ID:        "keeper",
				Name:      "Edrin the Keeper",
				Role:      "guide",
				Backstory: "Forty years tending a light nobody sails by anymore.",
				Personality: models.Personality{
					Openness:          0.8,
					Conscientiousness: 0.9,
					Extraversion:      0.2,
					Agreeableness:     0.6,
					Neuroticism:       0.4,
				},
				SpeechPatterns: []models.SpeechPattern{
					{
						Triggers:    []string{"storm", "wind"},
						Replacement: "The sea does not ask permission. Neither does what rides it.",
						Probability: 0.35,
					},
				},
				EmotionalRange: []string{"neutral", "somber", "hopeful", "tense"},
			},
		},
		Nodes: map[string]*models.StoryNode{
			"arrival": {
				ID:      "arrival",
				Type:    models.NodeScene,
				Content: "Salt wind drags at your coat. The lighthouse stands dark against the dusk, its door ajar.",
				Choices: []models.Choice{
					{ID: "knock", Text: "Knock and step inside", Target: "door"},
					{
						ID:              "beach",
						Text:            "Circle down to the beach first",
						Target:          "beach",
						EmotionalImpact: &models.ToneChange{Primary: "tense", Intensity: 0.6},
					},
				},
			},
			"door": {
				ID:      "door",
				Type:    models.NodeDialogue,
				Speaker: "keeper",
				Emotion: "somber",
				Content: "You are the first set of boots on that stair in nine years. Say what you came to say.",
				Choices: []models.Choice{
					{
						ID:     "ask-light",
						Text:   "Ask why the light is dark",
						Target: "lamp_room",
						Consequences: []models.Consequence{
							{Type: models.ConsequenceSetVariable, Key: "met_keeper", Value: models.BoolValue(true)},
							{Type: models.ConsequenceAddThread, Key: "earn the keeper's trust"},
						},
					},
					{ID: "retreat", Text: "Mutter an apology and retreat", Target: "beach"},
				},
			},
			"beach": {
				ID:      "beach",
				Type:    models.NodeScene,
				Content: "Waves claw the shingle. Far out, something long and pale turns against the current.",
				Choices: []models.Choice{
					{
						ID:         "climb",
						Text:       "Climb to the lamp room with the keeper",
						Target:     "lamp_room",
						Conditions: []models.Condition{{Variable: "met_keeper", Operator: models.OpEquals, Value: models.BoolValue(true)}},
					},
					{
						ID:     "tide",
						Text:   "Follow the tideline into the dark",
						Target: "ending_tide",
						Consequences: []models.Consequence{
							{Type: models.ConsequenceAddEvent, Key: "the tide took the path back"},
						},
						EmotionalImpact: &models.ToneChange{Primary: "somber", Intensity: 0.7},
					},
				},
			},
			"lamp_room": {
				ID:      "lamp_room",
				Type:    models.NodeScene,
				Content: "The great lens sits dead in its cradle. The keeper's hand hovers over the striker, waiting on you.",
				Choices: []models.Choice{
					{
						ID:     "light",
						Text:   "Strike the lamp",
						Target: "ending_beacon",
						Consequences: []models.Consequence{
							{Type: models.ConsequenceSetVariable, Key: "lantern_lit", Value: models.BoolValue(true)},
							{Type: models.ConsequenceSetState, Key: "plot_progress", Value: models.NumberValue(85)},
							{Type: models.ConsequenceVoiceChange, Target: "keeper", Value: models.MapValue(map[string]models.Value{
								"warmth": models.NumberValue(0.9),
								"rate":   models.NumberValue(1.05),
							})},
						},
						EmotionalImpact: &models.ToneChange{Primary: "hopeful", Intensity: 0.8},
					},
					{
						ID:     "smash",
						Text:   "Smash the lens before it wakes",
						Target: "ending_dark",
						Consequences: []models.Consequence{
							{Type: models.ConsequenceSetState, Key: "world.time_of_day", Value: models.StringValue("night")},
							{Type: models.ConsequenceAddEvent, Key: "the lens shattered on the gallery floor"},
						},
						EmotionalImpact: &models.ToneChange{Primary: "fear", Intensity: 0.9},
					},
				},
			},
			"ending_beacon": {
				ID:      "ending_beacon",
				Type:    models.NodeDialogue,
				Speaker: "keeper",
				Emotion: "hopeful",
				Content: "Light sweeps the water and the pale shape dives deep. Whatever else comes, the coast sees again.",
			},
			"ending_tide": {
				ID:      "ending_tide",
				Type:    models.NodeScene,
				Content: "The water closes over the shingle behind you. The lighthouse keeps its silence, and so, now, do you.",
			},
			"ending_dark": {
				ID:      "ending_dark",
				Type:    models.NodeScene,
				Content: "Glass rains past the gallery rail. In the sudden hush you hear the current turn toward shore.",
			},
		},
	}
}
