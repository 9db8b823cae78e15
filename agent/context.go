package agent

import (
	"context"
	"strconv"
	"sync"

	"github.com/effective-security/x/values"
	"github.com/effective-security/xdb/pkg/flake"
)

// SessionContext is carried by the context of a running session
type SessionContext interface {
	GetSessionID() string
	// AppData returns immutable app data
	AppData() any
	// GetMetadata retrieves metadata by key
	GetMetadata(key string) (value any, ok bool)
	// SetMetadata sets metadata by key
	SetMetadata(key string, value any)
}

type sessionContext struct {
	sessionID string
	metadata  sync.Map
	appData   any
}

func (c *sessionContext) GetSessionID() string {
	return c.sessionID
}

func (c *sessionContext) AppData() any {
	return c.appData
}

func (c *sessionContext) GetMetadata(key string) (value any, ok bool) {
	return c.metadata.Load(key)
}

func (c *sessionContext) SetMetadata(key string, value any) {
	c.metadata.Store(key, value)
}

// NewSessionContext returns SessionContext,
// a new session ID is generated when sessionID is empty.
func NewSessionContext(sessionID string, appData any) SessionContext {
	return &sessionContext{
		sessionID: values.StringsCoalesce(sessionID, NewSessionID()),
		appData:   appData,
	}
}

type contextKey int

const (
	keyContext contextKey = iota
)

// WithSessionContext returns a new context with SessionContext value
func WithSessionContext(ctx context.Context, sessCtx SessionContext) context.Context {
	return context.WithValue(ctx, keyContext, sessCtx)
}

// GetSessionContext retrieves the SessionContext from the context
func GetSessionContext(ctx context.Context) SessionContext {
	if v, ok := ctx.Value(keyContext).(SessionContext); ok {
		return v
	}
	return nil
}

// GetSessionID retrieves the session ID from the context,
// or returns an empty string.
func GetSessionID(ctx context.Context) string {
	if v, ok := ctx.Value(keyContext).(SessionContext); ok {
		return v.GetSessionID()
	}
	return ""
}

// NewSessionID generates a new session ID
func NewSessionID() string {
	return strconv.FormatUint(flake.DefaultIDGenerator.NextID(), 10)
}
