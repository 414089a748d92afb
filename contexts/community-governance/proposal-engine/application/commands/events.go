package commands

import (
	"encoding/json"
	"time"

	"agora/contexts/community-governance/proposal-engine/ports"
)

// newGovernanceEnvelope builds command-side event envelopes. Events are
// partitioned by proposal so proposal-scoped consumers observe a stable
// order.
func newGovernanceEnvelope(
	eventID string,
	eventType string,
	proposalID string,
	occurredAt time.Time,
	data map[string]any,
) (ports.EventEnvelope, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return ports.EventEnvelope{}, err
	}
	return ports.EventEnvelope{
		EventID:          eventID,
		EventType:        eventType,
		OccurredAt:       occurredAt.UTC(),
		SourceService:    "proposal-engine",
		TraceID:          eventID,
		SchemaVersion:    1,
		PartitionKeyPath: "proposal_id",
		PartitionKey:     proposalID,
		Data:             payload,
	}, nil
}
