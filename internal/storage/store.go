package storage

import (
	"context"

	"github.com/roman-kulish/rig-telemetry/internal/telemetry"
)

// Store provides an interface for managing rig telemetry storage operations.
// It handles sessions and captured samples in a thread-safe manner.
// All operations that write to the database should be considered atomic.
type Store interface {
	// CreateSession records a new connection to the rig controller and returns its unique identifier.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - portID: Identifier of the port the controller is attached to
	//   - baudRate: Line speed the port was opened with
	//   - config: Optional settings in effect. Can be string, []byte, or JSON-serializable object
	//
	// Returns:
	//   - sessionID: Unique identifier for the created session
	//   - error: If session creation fails or context is cancelled
	CreateSession(ctx context.Context, portID string, baudRate int, config any) (sessionID int64, err error)

	// Session retrieves a specific session by its ID.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - id: Unique session identifier
	//
	// Returns:
	//   - session: Pointer to session data, nil if not found
	//   - error: If retrieval fails or context is cancelled
	Session(ctx context.Context, id int64) (session *Session, err error)

	// Sessions returns all sessions stored in the database.
	// Results are ordered by start time in ascending order.
	Sessions(ctx context.Context) (sessions []*Session, err error)

	// InsertSamples saves stamped samples. All records are stored in a single atomic transaction.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - records: Samples tagged with the session they were captured in
	//
	// Returns:
	//   - error: If storage fails or context is cancelled
	InsertSamples(ctx context.Context, records []telemetry.Record) error

	// Clear deletes every stored sample and session.
	Clear(ctx context.Context) error

	// ReadSamples returns a reader over stored samples, oldest first.
	ReadSamples(ctx context.Context, opts ...ReaderOption) (*SqliteSampleReader, error)

	// Summary counts stored samples and reports their capture time span.
	Summary(ctx context.Context, sessionID int64) (*Summary, error)

	// Close releases all database connections and resources.
	// After Close is called, the store instance cannot be reused.
	// It is safe to call Close multiple times.
	Close() error
}

var _ Store = (*SqliteStore)(nil)
