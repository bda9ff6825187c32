package models

// StoryNode types.
const (
	NodeScene    = "scene"
	NodeDialogue = "dialogue"
	NodeChoice   = "choice"
	NodeEvent    = "event"
	NodeBranch   = "branch"
)

// Condition operators.
const (
	OpEquals         = "equals"
	OpNotEquals      = "not_equals"
	OpGreater        = "greater"
	OpLess           = "less"
	OpGreaterOrEqual = "greater_or_equal"
	OpLessOrEqual    = "less_or_equal"
	OpContains       = "contains"
	OpExists         = "exists"
)

// Consequence types.
const (
	ConsequenceSetVariable = "set_variable"
	ConsequenceSetState    = "set_state"
	ConsequenceAddThread   = "add_thread"
	ConsequenceAddEvent    = "add_event"
	ConsequenceVoiceChange = "voice_change"
)

// Story is an immutable branching narrative definition.
type Story struct {
	ID        string                `json:"id"`
	Title     string                `json:"title"`
	Metadata  StoryMetadata         `json:"metadata"`
	StartNode string                `json:"start_node"`
	Nodes     map[string]*StoryNode `json:"nodes"`
	Personas  map[string]*Persona   `json:"personas,omitempty"`
}

// StoryMetadata describes a story for catalog listings.
type StoryMetadata struct {
	DurationMinutes int    `json:"duration_minutes"`
	Maturity        string `json:"maturity"`
	BranchingFactor int    `json:"branching_factor"`
	SaveSlots       int    `json:"save_slots"`
}

// StoryNode is one position in the narrative graph.
type StoryNode struct {
	ID         string      `json:"id"`
	Type       string      `json:"type"`
	Content    string      `json:"content"`
	Speaker    string      `json:"speaker,omitempty"`
	Emotion    string      `json:"emotion,omitempty"`
	Choices    []Choice    `json:"choices,omitempty"`
	Conditions []Condition `json:"conditions,omitempty"`
}

// IsTerminal reports whether the node ends the story.
func (n *StoryNode) IsTerminal() bool {
	return len(n.Choices) == 0
}

// Choice is one selectable branch out of a node.
type Choice struct {
	ID              string        `json:"id"`
	Text            string        `json:"text"`
	Target          string        `json:"target"`
	Conditions      []Condition   `json:"conditions,omitempty"`
	Consequences    []Consequence `json:"consequences,omitempty"`
	EmotionalImpact *ToneChange   `json:"emotional_impact,omitempty"`
}

// Clone returns a deep copy of the choice.
func (c Choice) Clone() Choice {
	out := c
	if len(c.Conditions) > 0 {
		out.Conditions = make([]Condition, len(c.Conditions))
		for i, cond := range c.Conditions {
			cond.Value = cond.Value.Clone()
			out.Conditions[i] = cond
		}
	}
	if len(c.Consequences) > 0 {
		out.Consequences = make([]Consequence, len(c.Consequences))
		for i, cons := range c.Consequences {
			cons.Value = cons.Value.Clone()
			out.Consequences[i] = cons
		}
	}
	if c.EmotionalImpact != nil {
		impact := *c.EmotionalImpact
		out.EmotionalImpact = &impact
	}
	return out
}

// Condition gates a node or choice on a session variable.
type Condition struct {
	Variable string `json:"variable"`
	Operator string `json:"operator"`
	Value    Value  `json:"value,omitempty"`
}

// Consequence is a state write applied when its choice is accepted.
// Key is a variable name for set_variable, a dotted context path of at
// most two segments for set_state, and free text for threads and events.
// Target names the persona for voice_change.
type Consequence struct {
	Type   string `json:"type"`
	Key    string `json:"key,omitempty"`
	Value  Value  `json:"value,omitempty"`
	Target string `json:"target,omitempty"`
}
