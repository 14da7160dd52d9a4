package goal

// Status is the lifecycle state of a goal.
type Status string

const (
	StatusTodo     Status = "todo"
	StatusBlocked  Status = "blocked"
	StatusDone     Status = "done"
	StatusCanceled Status = "canceled"
)

// Terminal reports whether no automatic transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusCanceled
}

// Category groups goals by life area.
type Category string

const (
	CategoryCareer   Category = "career"
	CategoryHealth   Category = "health"
	CategoryLearning Category = "learning"
	CategoryFinance  Category = "finance"
	CategoryPersonal Category = "personal"
	CategorySocial   Category = "social"
	CategoryCreative Category = "creative"
)

// DependencyType describes how two goals relate. Only DependencyRequires gates readiness.
type DependencyType string

const (
	DependencyRequires DependencyType = "requires" // dependent needs parent done first
	DependencyEnables  DependencyType = "enables"  // parent makes dependent easier to start
	DependencyBlocks   DependencyType = "blocks"   // parent gets in the way of dependent
	DependencyRelated  DependencyType = "related"  // weak association
	DependencyParallel DependencyType = "parallel" // can be worked on together
)

// Gates reports whether edges of this type take part in status propagation,
// cycle detection and transitive reduction.
func (t DependencyType) Gates() bool {
	return t == DependencyRequires
}

// Field bounds.
const (
	MinPriority     = 1
	MaxPriority     = 5
	DefaultPriority = 3

	MinStrength     = 1
	MaxStrength     = 5
	DefaultStrength = 1

	MinDifficulty = 0
	MaxDifficulty = 10

	MaxTitleChars = 500

	// DateLayout is the wire and storage format of deadlines.
	DateLayout = "2006-01-02"
)

// Goal is a user objective and a node of the user's goal graph.
type Goal struct {
	// ID is a ULID that uniquely identifies this goal
	ID string `json:"id"`

	// UserID owns the goal; every edge stays inside one user's graph
	UserID string `json:"user_id"`

	// ChatID is the conversation the goal was created in
	ChatID string `json:"chat_id"`

	Title       string    `json:"title"`
	Description *string   `json:"description,omitempty"`
	Status      Status    `json:"status"`
	Category    *Category `json:"category,omitempty"`
	Priority    int       `json:"priority"`

	// Deadline is a calendar date in DateLayout
	Deadline *string `json:"deadline,omitempty"`

	EstimatedDurationDays *int    `json:"estimated_duration_days,omitempty"`
	DifficultyLevel       int     `json:"difficulty_level"`
	Motivation            *string `json:"motivation,omitempty"`
	SuccessCriteria       *string `json:"success_criteria,omitempty"`

	// CreatedAt is the Unix timestamp when the goal was created
	CreatedAt int64 `json:"created_at"`

	// UpdatedAt is the Unix timestamp of the last change
	UpdatedAt int64 `json:"updated_at"`

	// ArchivedAt is set when the goal was merged into another goal
	ArchivedAt *int64 `json:"archived_at,omitempty"`

	// MergedIntoID is the primary goal this goal was merged into
	MergedIntoID *string `json:"merged_into_id,omitempty"`
}

// Archived reports whether the goal was soft-removed by a merge.
func (g *Goal) Archived() bool {
	return g.ArchivedAt != nil
}

// MergedInto returns the primary goal id, or "" when the goal was not merged.
func (g *Goal) MergedInto() string {
	if g.MergedIntoID == nil {
		return ""
	}
	return *g.MergedIntoID
}

// Duration returns the estimated duration in days, 0 when unknown.
func (g *Goal) Duration() int {
	if g.EstimatedDurationDays == nil {
		return 0
	}
	return *g.EstimatedDurationDays
}

// Dependency is a directed edge parent -> dependent: dependent requires parent.
type Dependency struct {
	ID          string         `json:"id"`
	ParentID    string         `json:"parent_goal_id"`
	DependentID string         `json:"dependent_goal_id"`
	Type        DependencyType `json:"dependency_type"`
	Strength    int            `json:"strength"`
	Notes       *string        `json:"notes,omitempty"`
	CreatedAt   int64          `json:"created_at"`
}

// Embedding is the vector form of a goal's summary text.
// At most one embedding per goal is active; older ones are kept inactive.
type Embedding struct {
	ID          string    `json:"id"`
	GoalID      string    `json:"goal_id"`
	SummaryText string    `json:"summary_text"`
	Vector      []float32 `json:"-"`
	Model       string    `json:"model"`
	ContentHash string    `json:"content_hash"`
	Active      bool      `json:"active"`
	CreatedAt   int64     `json:"created_at"`
}

// StatusChange records one status transition made by a mutation.
type StatusChange struct {
	GoalID    string `json:"goal_id"`
	OldStatus Status `json:"old_status"`
	NewStatus Status `json:"new_status"`
}
