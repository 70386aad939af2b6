package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/cyclearb/internal/domain"
)

// PlanClaimer implements domain.PlanClaimer with SET NX so that several
// executor replicas agree on the first submission of a plan id.
type PlanClaimer struct {
	rdb redis.UniversalClient
	// owner tags claims with the process that made them.
	owner string
}

// NewPlanClaimer creates a PlanClaimer backed by the given Client.
func NewPlanClaimer(c *Client) *PlanClaimer {
	return &PlanClaimer{rdb: c.rdb, owner: uuid.New().String()}
}

func planKey(planID string) string {
	return "plan:claim:" + planID
}

// Claim sets the plan's key if absent. It reports false when another caller
// holds the id. A zero ttl keeps the key until it is deleted.
func (pc *PlanClaimer) Claim(ctx context.Context, planID string, ttl time.Duration) (bool, error) {
	ok, err := pc.rdb.SetNX(ctx, planKey(planID), pc.owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: claim plan %s: %w", planID, err)
	}
	return ok, nil
}

// Owner returns the token written with every claim.
func (pc *PlanClaimer) Owner() string { return pc.owner }

// Compile-time interface check.
var _ domain.PlanClaimer = (*PlanClaimer)(nil)
