// Package registry tracks known agents and the services they advertise.
//
// Registration is self-asserted: any caller may register any name and
// address. Records are never deleted.
package registry

import (
	"context"
	"errors"
	"time"
)

const (
	// StartingReputation is the score of a freshly registered agent.
	StartingReputation = 100

	// MinReputation and MaxReputation bound every reputation score.
	MinReputation = 0
	MaxReputation = 1000
)

// ErrInvalidAgent indicates a registration without name, services or
// address, or with a malformed endpoint.
var ErrInvalidAgent = errors.New("registry: invalid agent registration")

// AgentRecord is one registered agent.
type AgentRecord struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Services     []string  `json:"services"`
	Address      string    `json:"address"`
	Endpoint     string    `json:"endpoint,omitempty"`
	Reputation   int       `json:"reputation"`
	RegisteredAt time.Time `json:"registeredAt"`
	LastSeen     time.Time `json:"lastSeen"`
}

// Offers reports whether the agent advertises capability.
func (r *AgentRecord) Offers(capability string) bool {
	for _, s := range r.Services {
		if s == capability {
			return true
		}
	}
	return false
}

func (r AgentRecord) clone() AgentRecord {
	r.Services = append([]string(nil), r.Services...)
	return r
}

// UpdateFunc mutates a record in place. Returning an error aborts the update.
type UpdateFunc func(*AgentRecord) error

// Store persists agent records.
//
// Update must apply fn atomically with respect to every other operation on
// the same id. List returns records in insertion order. Get and Update
// return an error wrapping x402.ErrAgentNotFound for unknown ids.
type Store interface {
	Insert(ctx context.Context, record AgentRecord) error
	Get(ctx context.Context, id string) (AgentRecord, error)
	Update(ctx context.Context, id string, fn UpdateFunc) (AgentRecord, error)
	List(ctx context.Context) ([]AgentRecord, error)
}
