package sources

import (
	"fmt"
	"strings"

	"github.com/marcelsud/webhook-relay/config"
	"github.com/marcelsud/webhook-relay/webhook/signature"
)

/* Source represents a named inbound webhook identity
 * A source with a secret requires its signature header; a source without a secret accepts everything
 */
type Source struct {
	Name            string
	Secret          string
	SignatureHeader string
}

// NewSource converts a configured source into a Source
func NewSource(c config.WebhookSourceConfig) *Source {
	return &Source{
		Name:            strings.TrimSpace(c.Name),
		Secret:          c.Secret,
		SignatureHeader: strings.TrimSpace(c.SignatureHeader),
	}
}

// Validate checks if the source configuration is valid
func (s *Source) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("source name cannot be empty")
	}
	if strings.ContainsAny(s.Name, "/ ") {
		return fmt.Errorf("source name cannot contain slashes or spaces: %q", s.Name)
	}
	if s.Secret != "" && s.SignatureHeader == "" {
		return fmt.Errorf("signature_header is required when a secret is set for source %s", s.Name)
	}
	return nil
}

// RequiresSignature reports whether requests for this source must carry a valid signature
func (s *Source) RequiresSignature() bool {
	return s.Secret != "" && s.SignatureHeader != ""
}

// Verifier returns the signature verifier bound to this source's secret
func (s *Source) Verifier() signature.Verifier {
	if !s.RequiresSignature() {
		return signature.Verifier{}
	}
	return signature.NewVerifier(s.Secret)
}
