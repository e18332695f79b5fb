package client

import (
	"github.com/ai-cherry/memory-mediator/client/internal/types"
	"github.com/ai-cherry/memory-mediator/internal/model"
	"github.com/ai-cherry/memory-mediator/internal/propagation"
)

// Public type aliases so SDK consumers can import only the client package.
type (
	// Requests
	StoreRequest  = types.StoreRequest
	SearchRequest = types.SearchRequest
	SearchFilters = types.SearchFilters
	Patch         = model.Patch

	// Domain
	Record       = model.Record
	ScoredRecord = model.ScoredRecord
	Principal    = model.Principal
	Role         = model.Role
	MemoryType   = model.MemoryType
	TimeRange    = model.TimeRange
	Warning      = model.DegradedResultsWarning

	// Responses
	StoreResponse  = types.StoreResponse
	Lookup         = types.Lookup
	SearchResponse = types.SearchResponse
	Stats          = types.Stats
	CacheStats     = types.CacheStats
	TierLatency    = types.TierLatency
	Capabilities   = types.Capabilities
	EnqueueAck     = types.EnqueueAck

	// AsyncQueueConfig tunes the async executor. Zero values take defaults.
	AsyncQueueConfig = propagation.ExecutorConfig
)

const (
	TypeEvent            = model.TypeEvent
	TypeInsight          = model.TypeInsight
	TypeDecision         = model.TypeDecision
	TypeContext          = model.TypeContext
	TypeConversationTurn = model.TypeConversationTurn

	RoleExecutive   = model.RoleExecutive
	RoleManager     = model.RoleManager
	RoleContributor = model.RoleContributor
	RoleReadOnly    = model.RoleReadOnly
)

// ParseRole parses a role name case-insensitively.
func ParseRole(s string) (Role, error) { return model.ParseRole(s) }
