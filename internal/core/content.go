package core

// ContentBlockType enumerates the ACP content-block variants spec §4.2/4.3 validate.
type ContentBlockType string

const (
	ContentTypeText             ContentBlockType = "text"
	ContentTypeImage            ContentBlockType = "image"
	ContentTypeAudio            ContentBlockType = "audio"
	ContentTypeResourceLink     ContentBlockType = "resource_link"
	ContentTypeEmbeddedResource ContentBlockType = "resource"
)

// ContentBlock is one element of a prompt's content array.
type ContentBlock struct {
	Type ContentBlockType `json:"type"`

	// Text carries the text variant's body.
	Text string `json:"text,omitempty"`

	// Data carries the base64 payload for image/audio variants.
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`

	// URI carries the resource_link / embedded resource variant's locator.
	URI  string `json:"uri,omitempty"`
	Name string `json:"name,omitempty"`
}

// PromptCapabilities is the client's declared content-kind support,
// negotiated at initialize time (spec §4.2 capability gate).
type PromptCapabilities struct {
	Image             bool
	Audio             bool
	EmbeddedContext   bool
}

// ProcessedContent is the ContentBlockProcessor's per-block result (spec §4.3).
type ProcessedContent struct {
	Type             ContentBlockType
	Rendered         string
	BinaryData       []byte
	MimeType         string
	DataSize         int64
	SourceURI        string
	ProcessingFailed bool
	FailureReason    string
}

// ProcessingSummary is the ContentBlockProcessor's batch result (spec §4.3).
type ProcessingSummary struct {
	Results        []ProcessedContent
	RenderedText   string
	HasBinary      bool
	TotalBytes     int64
	TypeHistogram  map[ContentBlockType]int
}
