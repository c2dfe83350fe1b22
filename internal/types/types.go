// Package types defines the core data types shared across the paper
// twin-view translator application.
package types

// SegmentType classifies one unit of extracted document content.
// The set is closed: free-form labels coming back from the model are
// coerced onto it before a segment enters the collection.
type SegmentType string

const (
	SegmentText          SegmentType = "text"
	SegmentHeading       SegmentType = "heading"
	SegmentAbstract      SegmentType = "abstract"
	SegmentFigureCaption SegmentType = "figure_caption"
	SegmentEquation      SegmentType = "equation"
	SegmentTable         SegmentType = "table"
	SegmentCode          SegmentType = "code"
)

// Segment is one classified, paired (original + translated) unit of
// document content. IDs are stable for the lifetime of a session; a
// page re-analysis replaces the page's segments and issues fresh IDs.
type Segment struct {
	ID            string      `json:"id"`
	PageIndex     int         `json:"page_index"` // 1-based
	Type          SegmentType `json:"type"`
	Original      string      `json:"original"`
	Translated    string      `json:"translated"`
	Citations     []string    `json:"citations,omitempty"`
	Explanation   string      `json:"explanation,omitempty"`
	ExplanationEn string      `json:"explanation_en,omitempty"`
	IsExplaining  bool        `json:"is_explaining"`
	IsBookmarked  bool        `json:"is_bookmarked"`
	UserNote      string      `json:"user_note,omitempty"`
}

// PaperMetadata holds bibliographic information extracted once per
// document from the first page. First successful extraction wins.
type PaperMetadata struct {
	Title       string   `json:"title"`
	Authors     []string `json:"authors"`
	Year        string   `json:"year,omitempty"`
	Journal     string   `json:"journal,omitempty"`
	VolumeIssue string   `json:"volume_issue,omitempty"`
	Pages       string   `json:"pages,omitempty"`
	DOI         string   `json:"doi,omitempty"`
}

// Explanation is the two-language deep explanation returned for a
// single segment on user request.
type Explanation struct {
	Korean  string `json:"korean"`
	English string `json:"english"`
}

// Tone selects the phrasing register used in translation prompts.
// It is opaque to the pipeline and only affects prompt construction.
type Tone string

const (
	ToneAcademic Tone = "academic"
	TonePlain    Tone = "plain"
	ToneCasual   Tone = "casual"
)

// TranslatePhase is the pipeline processing phase.
type TranslatePhase string

const (
	PhaseIdle        TranslatePhase = "idle"
	PhaseRendering   TranslatePhase = "rendering"
	PhaseMetadata    TranslatePhase = "metadata"
	PhaseTranslating TranslatePhase = "translating"
	PhaseComplete    TranslatePhase = "complete"
	PhaseError       TranslatePhase = "error"
)

// TranslateStatus is the document-scoped pipeline status exposed to the
// frontend. Progress is only meaningful while a batch is in flight.
type TranslateStatus struct {
	Phase    TranslatePhase `json:"phase"`
	Progress int            `json:"progress"` // 0-100
	Message  string         `json:"message"`
	Error    string         `json:"error,omitempty"`
}

// ChatMessage is one turn in the document chat history.
type ChatMessage struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// Config holds the persisted application settings.
type Config struct {
	Provider      string `json:"provider"` // "openai" or any OpenAI-compatible endpoint
	OpenAIAPIKey  string `json:"openai_api_key"`
	OpenAIBaseURL string `json:"openai_base_url"`
	OpenAIModel   string `json:"openai_model"`
	Tone          Tone   `json:"tone"`
	RenderDPI     int    `json:"render_dpi"`      // page rasterization density
	PageCap       int    `json:"page_cap"`        // hard ceiling on pages rasterized per call
	WorkDirectory string `json:"work_directory"`  // scratch dir for page images
	UserStorePath string `json:"user_store_path"` // JSON file backing the account store
}

// ErrorCode is a stable error identifier surfaced to the frontend.
type ErrorCode string

const (
	ErrConfig       ErrorCode = "CONFIG_ERROR"
	ErrFileNotFound ErrorCode = "FILE_NOT_FOUND"
	ErrInvalidInput ErrorCode = "INVALID_INPUT"
	ErrAPICall      ErrorCode = "API_CALL_ERROR"
	ErrAuth         ErrorCode = "AUTH_ERROR"
	ErrStorage      ErrorCode = "STORAGE_ERROR"
	ErrInternal     ErrorCode = "INTERNAL_ERROR"
)

// AppError is the application-level error carrying a stable code for
// the frontend plus an optional wrapped cause.
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
	Cause   error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return e.Message + ": " + e.Details
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewAppError creates a new AppError with the given code and message.
func NewAppError(code ErrorCode, message string, cause error) *AppError {
	return &AppError{Code: code, Message: message, Cause: cause}
}
