package auditmap

import (
	"strings"
	"time"

	identity "github.com/habitloop/go-identity"
)

const (
	// MetadataKeyError stores the sanitized failure message of an audited attempt.
	MetadataKeyError = "error_message"
	// MetadataKeyOldValues stores the pre-mutation snapshot of the audited resource.
	MetadataKeyOldValues = "old_values"
	// MetadataKeyNewValues stores the post-mutation snapshot of the audited resource.
	MetadataKeyNewValues = "new_values"
)

const (
	defaultChannel    = "identity"
	defaultObjectType = "profile"
	defaultActorID    = "system"
)

// Normalized is a transport-agnostic audit shape for downstream systems.
type Normalized struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Option customizes normalization behavior.
type Option func(*normalizeOptions)

type normalizeOptions struct {
	channel          string
	objectType       string
	actorFallback    string
	objectIDResolver func(identity.AuditEntry) string
}

// Normalize converts an identity.AuditEntry into a generic normalized shape.
func Normalize(entry identity.AuditEntry, opts ...Option) Normalized {
	options := defaultNormalizeOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	actorID := firstNonEmpty(
		strings.TrimSpace(entry.ActorID),
		strings.TrimSpace(entry.ResourceID),
		strings.TrimSpace(options.actorFallback),
	)

	objectType := strings.TrimSpace(entry.ResourceType)
	if objectType == "" {
		objectType = strings.TrimSpace(options.objectType)
	}

	objectID := resolveObjectID(entry, options.objectIDResolver)
	occurredAt := entry.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	return Normalized{
		ActorID:    actorID,
		Verb:       string(entry.Action),
		ObjectType: objectType,
		ObjectID:   objectID,
		Channel:    strings.TrimSpace(options.channel),
		Metadata:   normalizeMetadata(entry),
		OccurredAt: occurredAt,
	}
}

// WithDefaultChannel sets the default channel for normalized records.
func WithDefaultChannel(channel string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.channel = strings.TrimSpace(channel)
	}
}

// WithDefaultObjectType sets the object type used when the entry carries none.
func WithDefaultObjectType(objectType string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.objectType = strings.TrimSpace(objectType)
	}
}

// WithObjectIDResolver overrides object-id extraction from AuditEntry.
func WithObjectIDResolver(resolver func(identity.AuditEntry) string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.objectIDResolver = resolver
	}
}

// WithActorFallback sets the final actor-id fallback when actor/resource ids are empty.
func WithActorFallback(actorID string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.actorFallback = strings.TrimSpace(actorID)
	}
}

func defaultNormalizeOptions() normalizeOptions {
	return normalizeOptions{
		channel:       defaultChannel,
		objectType:    defaultObjectType,
		actorFallback: defaultActorID,
	}
}

func resolveObjectID(entry identity.AuditEntry, resolver func(identity.AuditEntry) string) string {
	if resolver != nil {
		return strings.TrimSpace(resolver(entry))
	}
	return strings.TrimSpace(entry.ResourceID)
}

func normalizeMetadata(entry identity.AuditEntry) map[string]any {
	var metadata map[string]any

	if msg := strings.TrimSpace(entry.ErrorMessage); msg != "" {
		metadata = map[string]any{MetadataKeyError: msg}
	}

	if len(entry.OldValues) > 0 {
		if metadata == nil {
			metadata = map[string]any{}
		}
		metadata[MetadataKeyOldValues] = cloneMap(entry.OldValues)
	}

	if len(entry.NewValues) > 0 {
		if metadata == nil {
			metadata = map[string]any{}
		}
		metadata[MetadataKeyNewValues] = cloneMap(entry.NewValues)
	}

	return metadata
}

func cloneMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
