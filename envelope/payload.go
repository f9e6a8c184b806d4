package envelope

// Payloads carried in Envelope.EventData, one per event type. Durations are
// milliseconds.

// PageView is sent when a page view starts, including after in-page
// navigation.
type PageView struct {
	Title    string `json:"title"`
	Path     string `json:"path"`
	Referrer string `json:"referrer"`
}

// Click is sent for every click.
type Click struct {
	X               float64 `json:"x"`
	Y               float64 `json:"y"`
	ElementSelector string  `json:"elementSelector"`
	ElementPath     string  `json:"elementPath"`
	ElementText     string  `json:"elementText"`
	Interactive     bool    `json:"interactive"`
	RageClicks      int     `json:"rageClicks"`
	DeadClicks      int     `json:"deadClicks"`
}

// RageClick is a cluster of rapid clicks on the same spot.
type RageClick struct {
	ClickCount      int     `json:"clickCount"`
	TimeWindow      int64   `json:"timeWindow"`
	X               float64 `json:"x"`
	Y               float64 `json:"y"`
	ElementSelector string  `json:"elementSelector"`
	ElementPath     string  `json:"elementPath"`
	ElementText     string  `json:"elementText"`
	TotalRageClicks int     `json:"totalRageClicks"`
}

// DeadClick is a click on an element that looks interactive but is not.
type DeadClick struct {
	X               float64 `json:"x"`
	Y               float64 `json:"y"`
	ElementSelector string  `json:"elementSelector"`
	ElementPath     string  `json:"elementPath"`
	ElementText     string  `json:"elementText"`
	TotalDeadClicks int     `json:"totalDeadClicks"`
}

// MouseThrash is erratic pointer movement.
type MouseThrash struct {
	TotalDistance    float64 `json:"totalDistance"`
	DirectionChanges int     `json:"directionChanges"`
	Duration         int64   `json:"duration"`
	MovementCount    int     `json:"movementCount"`
}

// Scroll is the debounced scroll summary.
type Scroll struct {
	Depth        int   `json:"depth"`
	MaxDepth     int   `json:"maxDepth"`
	TimeToScroll int64 `json:"timeToScroll"`
}

// ScrollMilestone marks the first crossing of a depth milestone.
type ScrollMilestone struct {
	Depth    int `json:"depth"`
	MaxDepth int `json:"maxDepth"`
}

// FormStart is sent when a form record is created.
type FormStart struct {
	FormID             string `json:"formId"`
	FormName           string `json:"formName"`
	FormAction         string `json:"formAction"`
	FieldCount         int    `json:"fieldCount"`
	RequiredFieldCount int    `json:"requiredFieldCount"`
	FilledFieldCount   int    `json:"filledFieldCount"`
	FillPercentage     int    `json:"fillPercentage"`
	FirstField         string `json:"firstField"`
}

// FormInteract is sent when a tracked field's value changes.
type FormInteract struct {
	FormID    string `json:"formId"`
	FieldName string `json:"fieldName"`
	FieldType string `json:"fieldType"`
	HasValue  bool   `json:"hasValue"`
}

// FormFieldSkip names a required field that was left empty while focus
// moved past it.
type FormFieldSkip struct {
	FormID            string `json:"formId"`
	SkippedField      string `json:"skippedField"`
	SkippedFieldLabel string `json:"skippedFieldLabel"`
	SkippedFieldType  string `json:"skippedFieldType"`
	MovedToField      string `json:"movedToField"`
}

// FormSubmit is sent on submit. Untracked forms only carry identification.
type FormSubmit struct {
	FormID                string `json:"formId"`
	FormName              string `json:"formName"`
	FormAction            string `json:"formAction,omitempty"`
	Tracked               bool   `json:"tracked"`
	FieldsInteractedCount int    `json:"fieldsInteractedCount,omitempty"`
	TimeToComplete        int64  `json:"timeToComplete,omitempty"`
}

// Abandonment reasons.
const (
	ReasonFormRemoved      = "form_removed"
	ReasonContainerRemoved = "container_removed"
	ReasonCancelClicked    = "cancel_clicked"
	ReasonPageExit         = "page_exit"
	ReasonPageNavigation   = "page_navigation"
	ReasonEscapePressed    = "escape_pressed"
	ReasonManual           = "manual"
)

// FormAbandonment is sent when an engaged form is left unsubmitted.
type FormAbandonment struct {
	FormID                string   `json:"formId"`
	FormName              string   `json:"formName"`
	Reason                string   `json:"reason"`
	FieldsInteracted      []string `json:"fieldsInteracted"`
	FieldsInteractedCount int      `json:"fieldsInteractedCount"`
	LastFieldInteracted   string   `json:"lastFieldInteracted"`
	LastFieldLabel        string   `json:"lastFieldLabel"`
	TimeInForm            int64    `json:"timeInForm"`
	FillPercentage        int      `json:"fillPercentage"`
}

// Visibility reports a page visibility transition.
type Visibility struct {
	State       string `json:"state"` // visible | hidden
	VisibleTime int64  `json:"visibleTime"`
}

// ExitIntent is sent when the pointer leaves through the top edge.
type ExitIntent struct {
	TimeOnPage     int64 `json:"timeOnPage"`
	MaxScrollDepth int   `json:"maxScrollDepth"`
}

// Navigation reports an in-page navigation.
type Navigation struct {
	From               string `json:"from"`
	To                 string `json:"to"`
	Type               string `json:"type"`
	TimeOnPreviousPage int64  `json:"timeOnPreviousPage"`
}

// HashChange reports a fragment change.
type HashChange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// PageExit carries the page's aggregate counters.
type PageExit struct {
	TimeOnPage       int64 `json:"timeOnPage"`
	VisibleTime      int64 `json:"visibleTime"`
	MaxScrollDepth   int   `json:"maxScrollDepth"`
	RageClicks       int   `json:"rageClicks"`
	DeadClicks       int   `json:"deadClicks"`
	MouseThrashes    int   `json:"mouseThrashes"`
	FormAbandonments int   `json:"formAbandonments"`
	FieldSkips       int   `json:"fieldSkips"`
	Interactions     int   `json:"interactions"`
}

// Custom is a host-defined event sent through Track.
type Custom struct {
	Name string         `json:"name"`
	Data map[string]any `json:"data,omitempty"`
}

// Identify associates the visitor with a host user id.
type Identify struct {
	UserID string         `json:"userId"`
	Traits map[string]any `json:"traits,omitempty"`
}
