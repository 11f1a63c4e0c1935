package model

import "time"

// GeneratedFile is one source file produced by the code generator.
// Path is relative ("src/app.py"); Content is the complete file text.
type GeneratedFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Project is a saved generation run in a user's history.
//
// The JSON field names follow the wire format the frontend already speaks
// (snake_case), which is why they differ from the Go field names.
type Project struct {
	ID              string          `json:"id"`
	UserID          string          `json:"-"`
	Name            string          `json:"project_name"`
	InitialPrompt   string          `json:"initial_prompt"`
	OptimizedPrompt string          `json:"optimized_prompt"`
	Files           []GeneratedFile `json:"generated_files"`
	CreatedAt       time.Time       `json:"created_at"`
}
