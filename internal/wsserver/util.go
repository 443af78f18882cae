package wsserver

import "github.com/google/uuid"

// parseUUID parses s, returning uuid.Nil on failure so a malformed agent_id
// simply fails lookup as AgentNotFound rather than panicking.
func parseUUID(s string) uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil
	}
	return id
}
