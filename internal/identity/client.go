// Package identity fetches identity evidence from the identity service
// over the event bus.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ErrServiceUnavailable is returned when the identity service does not answer.
var ErrServiceUnavailable = errors.New("identity service unavailable")

// BusClient implements domain.IdentityProvider with bus request-reply.
type BusClient struct {
	bus     domain.EventBus
	timeout time.Duration
}

// NewBusClient creates an identity client. A zero timeout defaults to 5s.
func NewBusClient(bus domain.EventBus, cfg domain.IdentityConfig) *BusClient {
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &BusClient{bus: bus, timeout: timeout}
}

// FetchIdentity asks the identity service for identityID's evidence.
func (c *BusClient) FetchIdentity(ctx context.Context, identityID string) (*domain.IdentityProfile, error) {
	if identityID == "" {
		return nil, fmt.Errorf("%w: identityID is required", domain.ErrInvalidInput)
	}

	payload, err := json.Marshal(domain.IdentityFetchRequest{IdentityID: identityID})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reply, err := c.bus.Request(ctx, domain.TopicIdentityFetch, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}

	var resp domain.IdentityFetchResponse
	if err := json.Unmarshal(reply, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode identity response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, resp.Error)
	}
	if resp.Profile == nil {
		return nil, fmt.Errorf("%w: identity %s", domain.ErrNotFound, identityID)
	}
	if resp.Profile.IdentityID == "" {
		resp.Profile.IdentityID = identityID
	}
	return resp.Profile, nil
}

// Lookup resolves an identity id to a profile. Used by Serve.
type Lookup func(ctx context.Context, identityID string) (*domain.IdentityProfile, error)

// Serve answers identity fetch requests on bus using lookup. It lets a
// collaborator, or a test, act as the identity service.
func Serve(ctx context.Context, bus domain.EventBus, lookup Lookup) (domain.Subscription, error) {
	return bus.Subscribe(ctx, domain.TopicIdentityFetch, func(ctx context.Context, msg *domain.Message) error {
		var req domain.IdentityFetchRequest
		var resp domain.IdentityFetchResponse

		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			resp.Error = "invalid identity fetch request"
		} else if profile, err := lookup(ctx, req.IdentityID); err != nil {
			resp.Error = err.Error()
		} else {
			resp.Profile = profile
		}

		data, err := json.Marshal(resp)
		if err != nil {
			return err
		}
		return bus.Respond(ctx, msg, data)
	})
}
