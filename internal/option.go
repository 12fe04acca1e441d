package internal

import (
	"log/slog"

	"github.com/starford/inkwell/internal/collaborator"
)

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config *Config
	logger *slog.Logger
	collab collaborator.Collaborator
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithLogger replaces the JSON stdout logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *application) {
		a.logger = l
	}
}

// WithCollaborator overrides the AI service chosen by the ai config section.
func WithCollaborator(c collaborator.Collaborator) Option {
	return func(a *application) {
		a.collab = c
	}
}
