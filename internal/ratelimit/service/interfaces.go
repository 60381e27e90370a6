package service

import "cmsguard/internal/ratelimit/ports"

// Store is the persistence interface for rate limit records.
type Store = ports.Store

// AuditPublisher is an alias to the shared interface.
type AuditPublisher = ports.AuditPublisher
