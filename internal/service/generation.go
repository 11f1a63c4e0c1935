package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sakif/promptforge/internal/apperror"
	"github.com/sakif/promptforge/internal/codegen"
	"github.com/sakif/promptforge/internal/kvstore"
	"github.com/sakif/promptforge/internal/llm"
	"github.com/sakif/promptforge/internal/model"
)

// Defaults for GenerationConfig zero values.
const (
	DefaultOptimizeTimeout = 30 * time.Second
	DefaultGenerateTimeout = 120 * time.Second
	DefaultSessionTTL      = time.Hour
	MaxPromptLength        = 20000
)

// GenerationConfig bounds the model calls and the session lifetime.
type GenerationConfig struct {
	OptimizeTimeout time.Duration
	GenerateTimeout time.Duration
	SessionTTL      time.Duration
}

// GenerationService drives a session through
//
//	Optimize → OPTIMIZED (stored) → Generate → GENERATED (files attached)
//
// and serves the generated files back as a zip or one at a time. Sessions
// live in the keyed store until Sweep removes them.
//
// No lock is held while the model is called. Two concurrent Generate calls on
// one session both run; the store keeps the last write.
type GenerationService struct {
	gen      llm.Generator
	sessions kvstore.Store[model.Session]
	cfg      GenerationConfig
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

// NewGenerationService fills zero config values with the defaults.
func NewGenerationService(
	gen llm.Generator,
	sessions kvstore.Store[model.Session],
	cfg GenerationConfig,
	logger *slog.Logger,
) *GenerationService {
	if cfg.OptimizeTimeout <= 0 {
		cfg.OptimizeTimeout = DefaultOptimizeTimeout
	}
	if cfg.GenerateTimeout <= 0 {
		cfg.GenerateTimeout = DefaultGenerateTimeout
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	return &GenerationService{
		gen:      gen,
		sessions: sessions,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Optimize asks the model to rewrite prompt and opens a session holding both
// texts. Nothing is stored when the model call fails.
func (s *GenerationService) Optimize(ctx context.Context, prompt string) (*model.Session, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, apperror.ValidationFailed("prompt", "prompt is required")
	}
	if len(prompt) > MaxPromptLength {
		return nil, apperror.ValidationFailed("prompt",
			fmt.Sprintf("prompt must be %d characters or less", MaxPromptLength))
	}

	optimized, err := s.callModel(ctx, s.cfg.OptimizeTimeout,
		codegen.OptimizerInstructions, codegen.OptimizeRequest(prompt),
		"Error optimizing prompt", "Prompt optimization timed out")
	if err != nil {
		return nil, err
	}

	sess := model.Session{
		ID:              s.newID(),
		OriginalPrompt:  prompt,
		OptimizedPrompt: optimized,
		CreatedAt:       s.now(),
	}
	if err := s.sessions.Put(ctx, sess.ID, sess); err != nil {
		return nil, fmt.Errorf("service/generation: storing session: %w", err)
	}

	s.logger.Info("session created",
		slog.String("sessionID", sess.ID),
		slog.Int("promptLength", len(prompt)),
	)
	return &sess, nil
}

// Generate asks the model for the file set of a session.
//
// The prompt sent is optimizedPrompt when it is not blank (the user may have
// edited it) and the stored optimized prompt otherwise. A session that already
// has files is a Conflict; files are never replaced. A reply that cannot be
// parsed leaves the session as it was.
func (s *GenerationService) Generate(ctx context.Context, sessionID, optimizedPrompt string) (*model.Session, error) {
	sess, err := s.load(ctx, sessionID, "Session not found")
	if err != nil {
		return nil, err
	}
	if sess.Generated() {
		return nil, apperror.ConflictMessage("Code has already been generated for this session")
	}

	prompt := sess.OptimizedPrompt
	if strings.TrimSpace(optimizedPrompt) != "" {
		prompt = optimizedPrompt
	}
	if len(prompt) > MaxPromptLength {
		return nil, apperror.ValidationFailed("optimized_prompt",
			fmt.Sprintf("prompt must be %d characters or less", MaxPromptLength))
	}

	raw, err := s.callModel(ctx, s.cfg.GenerateTimeout,
		codegen.GeneratorInstructions, prompt,
		"Error generating code", "Code generation timed out")
	if err != nil {
		return nil, err
	}

	files, err := codegen.ParseFiles(raw)
	if err != nil {
		s.logger.Error("unusable generator reply",
			slog.String("sessionID", sessionID),
			slog.Int("replyLength", len(raw)),
			slog.String("error", err.Error()),
		)
		msg := "Invalid generated code structure"
		if errors.Is(err, codegen.ErrNotJSON) {
			msg = "Generated response is not valid JSON"
		}
		return nil, apperror.Upstream(msg, err)
	}

	generatedAt := s.now()
	sess.Files = files
	sess.GeneratedAt = &generatedAt
	if err := s.sessions.Put(ctx, sess.ID, sess); err != nil {
		return nil, fmt.Errorf("service/generation: storing files: %w", err)
	}

	s.logger.Info("files generated",
		slog.String("sessionID", sess.ID),
		slog.Int("files", len(files)),
	)
	return &sess, nil
}

// Archive returns the session's files as a zip archive.
func (s *GenerationService) Archive(ctx context.Context, sessionID string) ([]byte, error) {
	sess, err := s.generated(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	data, err := codegen.Zip(sess.Files, *sess.GeneratedAt)
	if err != nil {
		return nil, fmt.Errorf("service/generation: building archive: %w", err)
	}
	return data, nil
}

// File returns the download name and content of the file at index.
func (s *GenerationService) File(ctx context.Context, sessionID string, index int) (string, []byte, error) {
	sess, err := s.generated(ctx, sessionID)
	if err != nil {
		return "", nil, err
	}
	if index < 0 || index >= len(sess.Files) {
		return "", nil, apperror.NotFoundMessage("File not found")
	}
	f := sess.Files[index]
	return codegen.DownloadName(f.Path), []byte(f.Content), nil
}

// Sweep deletes sessions older than the session TTL. Running it twice in a
// row removes nothing the second time.
func (s *GenerationService) Sweep(ctx context.Context) (int, error) {
	return s.sessions.Sweep(ctx, kvstore.OlderThan(s.now(), s.cfg.SessionTTL, func(sess model.Session) time.Time {
		return sess.CreatedAt
	}))
}

func (s *GenerationService) generated(ctx context.Context, sessionID string) (model.Session, error) {
	sess, err := s.load(ctx, sessionID, "Session or files not found")
	if err != nil {
		return model.Session{}, err
	}
	if !sess.Generated() {
		return model.Session{}, apperror.NotFoundMessage("Session or files not found")
	}
	return sess, nil
}

func (s *GenerationService) load(ctx context.Context, sessionID, notFound string) (model.Session, error) {
	if strings.TrimSpace(sessionID) == "" {
		return model.Session{}, apperror.ValidationFailed("session_id", "session_id is required")
	}
	sess, err := s.sessions.Get(ctx, sessionID)
	if errors.Is(err, kvstore.ErrNotFound) {
		return model.Session{}, apperror.NotFoundMessage(notFound)
	}
	if err != nil {
		return model.Session{}, fmt.Errorf("service/generation: loading session: %w", err)
	}
	return sess, nil
}

// callModel runs one generator call under its own deadline.
//
// A blown deadline becomes a Timeout error. When the caller's own context was
// cancelled (client went away) the context error is returned unchanged. Any
// other failure is an Upstream error whose client-facing text is failMsg.
func (s *GenerationService) callModel(ctx context.Context, timeout time.Duration, system, user, failMsg, timeoutMsg string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := s.now()
	out, err := s.gen.GenerateText(callCtx, system, user)
	if err == nil {
		s.logger.Debug("model call finished", slog.Duration("duration", s.now().Sub(start)))
		return out, nil
	}

	switch {
	case ctx.Err() != nil:
		return "", ctx.Err()
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded):
		s.logger.Error("model call timed out",
			slog.Duration("timeout", timeout),
			slog.String("error", err.Error()),
		)
		return "", apperror.Timeout(timeoutMsg, err)
	default:
		s.logger.Error("model call failed", slog.String("error", err.Error()))
		return "", apperror.Upstream(failMsg, err)
	}
}
