package schema

// Frame sampling strategies for video.
const (
	FrameStrategyInterval = "interval"
	FrameStrategyScene    = "scene"
)

// VideoOptions tune video frame sampling for one ingestion run.
type VideoOptions struct {
	FrameStrategy  string  `json:"frame_strategy,omitempty"`
	FrameInterval  float64 `json:"frame_interval_seconds,omitempty"`
	SceneThreshold float64 `json:"scene_threshold,omitempty"`
}

// PDFOptions are passed through to the remote structural parser.
type PDFOptions struct {
	Backend       string   `json:"backend,omitempty"`
	ParseMethod   string   `json:"parse_method,omitempty"`
	Languages     []string `json:"lang_list,omitempty"`
	FormulaEnable bool     `json:"formula_enable,omitempty"`
	TableEnable   bool     `json:"table_enable,omitempty"`
	ResponseZIP   bool     `json:"response_format_zip,omitempty"`
	StartPage     int      `json:"start_page_id,omitempty"`
	EndPage       int      `json:"end_page_id,omitempty"`
}

// ProcessingOptions carry the per-run tuning for the media processors.
type ProcessingOptions struct {
	Video *VideoOptions `json:"video,omitempty"`
	PDF   *PDFOptions   `json:"pdf,omitempty"`
}
