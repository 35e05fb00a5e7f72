// Package failure classifies reconciliation errors and decides retries.
// T201: Error taxonomy and retry policy for the operation queue.
package failure

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"net/url"
	"time"

	apperrors "github.com/jwei-lin/notecove/backend/internal/errors"
)

// Kind is the closed classification of a reconciliation failure.
type Kind string

const (
	KindAuthExpired Kind = "auth_expired"
	KindNetwork     Kind = "network"
	KindTimeout     Kind = "timeout"
	KindServer      Kind = "server_error"
	KindNotFound    Kind = "not_found"
	KindConflict    Kind = "conflict"
	KindMalformed   Kind = "malformed"
	KindUnknown     Kind = "unknown"
)

// Classify maps an error to its failure kind. Application error codes
// take precedence; transport shape is consulted after; anything else is
// unknown.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case apperrors.ErrSyncAuthFailed:
			return KindAuthExpired
		case apperrors.ErrSyncConflict:
			return KindConflict
		case apperrors.ErrSyncTimeout:
			return KindTimeout
		case apperrors.ErrSyncNetwork:
			return KindNetwork
		case apperrors.ErrSyncServer, apperrors.ErrSyncQuotaExceeded, apperrors.ErrSyncInvalidResponse:
			return KindServer
		case apperrors.ErrSyncNotFound, apperrors.ErrNotFound,
			apperrors.ErrNoteNotFound, apperrors.ErrFolderNotFound, apperrors.ErrFileNotFound:
			return KindNotFound
		case apperrors.ErrSyncMalformedOp, apperrors.ErrSyncUnsupportedOp:
			return KindMalformed
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	var timeoutErr interface{ Timeout() bool }
	if errors.As(err, &timeoutErr) && timeoutErr.Timeout() {
		return KindTimeout
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return KindNetwork
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindNetwork
	}

	return KindUnknown
}

// Retryable reports whether a failure kind may be retried at all.
// Not-found, conflict, malformed and unknown failures abandon immediately.
func Retryable(kind Kind) bool {
	switch kind {
	case KindAuthExpired, KindNetwork, KindTimeout, KindServer:
		return true
	}
	return false
}

// Backoff computes retry delays.
type Backoff struct {
	Base time.Duration // delay before the first retry
	Max  time.Duration // delay cap
}

// DefaultBackoff returns the standard backoff: 1s doubling up to 300s.
func DefaultBackoff() Backoff {
	return Backoff{Base: time.Second, Max: 300 * time.Second}
}

// Delay returns min(Base * 2^retryCount, Max).
func (b Backoff) Delay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount > 30 {
		return b.Max
	}
	d := b.Base << uint(retryCount)
	if d <= 0 || d > b.Max {
		return b.Max
	}
	return d
}

// DelayJitter returns Delay plus a uniform jitter of up to 25% of the
// capped value, so retries from many queued operations spread out.
func (b Backoff) DelayJitter(retryCount int) time.Duration {
	d := b.Delay(retryCount)
	if d <= 0 {
		return d
	}
	return d + time.Duration(rand.Int63n(int64(d)/4+1))
}

// Policy is the single authority on retry decisions.
type Policy struct {
	MaxRetryCount int
	Backoff       Backoff
}

// DefaultPolicy returns the standard policy: 8 attempts, 1s..300s backoff.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxRetryCount: 8,
		Backoff:       DefaultBackoff(),
	}
}

// Decision is the outcome of Decide. Retry false means abandon.
type Decision struct {
	Retry bool
	Delay time.Duration
	Kind  Kind
}

// Decide classifies err and decides whether the operation retries.
// retryCount is the number of failures recorded so far, the current one
// included.
func (p *Policy) Decide(err error, retryCount int) Decision {
	kind := Classify(err)
	if !Retryable(kind) {
		return Decision{Kind: kind}
	}
	if retryCount >= p.MaxRetryCount {
		return Decision{Kind: kind}
	}
	return Decision{
		Retry: true,
		Delay: p.Backoff.DelayJitter(retryCount),
		Kind:  kind,
	}
}
