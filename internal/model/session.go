package model

import "time"

// Session tracks one optimize-then-generate pipeline run.
//
// Stages move forward only:
//
//	CREATED (prompt) -> OPTIMIZED (+ optimized prompt) -> GENERATED (+ files)
//
// A Session is only ever stored once it is OPTIMIZED, so the CREATED stage
// never appears in the store. GeneratedAt is set, together with Files, when
// generation succeeds; the file list is never replaced afterwards. It may be
// empty when the model returned no usable entries.
type Session struct {
	ID              string          `json:"id"`
	OriginalPrompt  string          `json:"original_prompt"`
	OptimizedPrompt string          `json:"optimized_prompt"`
	CreatedAt       time.Time       `json:"created_at"`
	Files           []GeneratedFile `json:"files"`
	GeneratedAt     *time.Time      `json:"generated_at,omitempty"`
}

// Generated reports whether the session has reached the GENERATED stage.
func (s Session) Generated() bool {
	return s.GeneratedAt != nil
}
