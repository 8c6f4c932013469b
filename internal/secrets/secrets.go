// Package secrets resolves named secrets such as the portal password.
// Values are fetched on every call and never cached between batches.
package secrets

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"google.golang.org/api/option"
	sm "google.golang.org/api/secretmanager/v1"

	"github.com/trogers1052/eod-ingest-service/internal/models"
)

// SecretManager reads the latest version of secrets in a Google Cloud project
type SecretManager struct {
	svc       *sm.Service
	projectID string
}

// NewSecretManager creates a client for projectID
func NewSecretManager(ctx context.Context, projectID string, opts ...option.ClientOption) (*SecretManager, error) {
	svc, err := sm.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create secret manager service: %w", err)
	}
	return &SecretManager{svc: svc, projectID: projectID}, nil
}

// Get returns the latest version of the named secret
func (s *SecretManager) Get(ctx context.Context, name string) (string, error) {
	resource := fmt.Sprintf("projects/%s/secrets/%s/versions/latest", s.projectID, name)
	resp, err := s.svc.Projects.Secrets.Versions.Access(resource).Context(ctx).Do()
	if err != nil {
		return "", models.NewError(models.KindSecret, "access "+name, err)
	}
	if resp.Payload == nil {
		return "", models.NewError(models.KindSecret, "access "+name, errors.New("empty payload"))
	}
	data, err := base64.StdEncoding.DecodeString(resp.Payload.Data)
	if err != nil {
		return "", models.NewError(models.KindSecret, "decode "+name, err)
	}
	return string(data), nil
}

// EnvSource reads secrets from environment variables, for local runs
type EnvSource struct {
	prefix string
}

// NewEnvSource looks up prefix+name
func NewEnvSource(prefix string) *EnvSource {
	return &EnvSource{prefix: prefix}
}

// Get returns the variable's value; unset or empty is an error
func (s *EnvSource) Get(_ context.Context, name string) (string, error) {
	key := s.prefix + strings.ToUpper(name)
	v := os.Getenv(key)
	if v == "" {
		return "", models.NewError(models.KindSecret, "lookup "+key, errors.New("not set"))
	}
	return v, nil
}
