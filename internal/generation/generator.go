package generation

import (
	"context"

	"github.com/lucidspace/atelier-api/internal/domain"
	"github.com/lucidspace/atelier-api/internal/relay"
)

// ProgressFunc is invoked by providers as long-running generation advances.
// Progress is a percentage in [0, 100].
type ProgressFunc func(stage relay.RenderStage, progress int)

// RenderGenerator defines the interface for producing AI room renders.
// This interface serves as a boundary between the application core and
// external AI services; implementations wrap a specific provider.
type RenderGenerator interface {
	// GenerateRender produces a rendered image for the given prompt.
	// The progress callback may be called zero or more times before the
	// result is returned.
	GenerateRender(ctx context.Context, prompt string, progress ProgressFunc) ([]byte, error)
}

// AgentReply is the outcome of processing one user message. A nil Phase
// means the agent left the session phase unchanged.
type AgentReply struct {
	Reply        string
	Phase        *domain.SessionPhase
	RoomsChanged bool
}

// Agent defines the interface for the conversational design assistant.
type Agent interface {
	// ProcessMessage runs the user's message through the assistant against
	// the current session state.
	ProcessMessage(ctx context.Context, session *domain.Session, message string) (AgentReply, error)
}

// Composer defines the interface for generating deliverable documents.
type Composer interface {
	// ComposeDocument produces the document body for a session.
	ComposeDocument(ctx context.Context, session *domain.Session, kind domain.DocumentKind) ([]byte, error)
}

// Optimizer defines the interface for producing optimized image variants
// from an uploaded asset.
type Optimizer interface {
	// OptimizeVariant produces the given variant from the original image.
	OptimizeVariant(ctx context.Context, original []byte, variant domain.AssetVariantType) ([]byte, error)
}
