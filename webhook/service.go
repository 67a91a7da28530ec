package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/marcelsud/webhook-relay/sources"
	"github.com/marcelsud/webhook-relay/webhook/payload"
)

/* Service represents the Collector pipeline
 * Uses pointer semantics as it's an API, not data
 */

// UseCase defines the Collector operations
type UseCase interface {
	Accept(ctx context.Context, req Request) (string, error)
}

// SourceResolver finds a configured webhook source by exact name
type SourceResolver interface {
	Get(name string) (*sources.Source, error)
}

// Request is an inbound webhook call as seen by the Collector
type Request struct {
	Source  string
	Body    []byte
	Headers http.Header
}

type Service struct {
	Sources SourceResolver
	Queue   Sender
	Now     func() time.Time
}

// NewService creates a new Collector service with dependency injection
func NewService(resolver SourceResolver, queue Sender) *Service {
	return &Service{
		Sources: resolver,
		Queue:   queue,
		Now:     time.Now,
	}
}

/* Accept verifies an inbound webhook and enqueues it
 * Steps: resolve source, check signature, parse body, build payload, send.
 * Client errors wrap ErrUnknownSource, ErrMissingSignature, ErrInvalidSignature or ErrInvalidPayload;
 * queue failures wrap ErrPublish and are not retried here.
 */
func (s *Service) Accept(ctx context.Context, req Request) (string, error) {
	src, err := s.Sources.Get(req.Source)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownSource, req.Source)
	}

	var sig string
	if src.SignatureHeader != "" {
		sig = req.Headers.Get(src.SignatureHeader)
	}

	if src.RequiresSignature() {
		if sig == "" {
			return "", fmt.Errorf("%w: %s", ErrMissingSignature, src.SignatureHeader)
		}
		if !src.Verifier().Verify(req.Body, sig) {
			return "", fmt.Errorf("%w for source %s", ErrInvalidSignature, src.Name)
		}
	}

	content, err := payload.Parse(req.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	md := NewMetadata(src.Name, s.Now(), sig, SnapshotHeaders(req.Headers))

	id, err := s.Queue.Send(ctx, NewPayload(md, content))
	if err != nil {
		if !errors.Is(err, ErrPublish) {
			err = PublishError(err)
		}
		return "", fmt.Errorf("sending webhook: %w", err)
	}

	return id, nil
}

// SnapshotHeaders flattens request headers to their first value under canonical names
func SnapshotHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		if len(values) == 0 {
			continue
		}
		out[http.CanonicalHeaderKey(name)] = values[0]
	}
	return out
}
