package payments

import (
	"encoding/json"
	"strings"
)

// Metadata is attached to every checkout and echoed back by the provider on
// the payment resource. Keys are snake_case because the provider rewrites
// metadata keys to snake_case anyway.
type Metadata struct {
	TeamID    string   `json:"team_id"`
	MemberIDs []string `json:"member_ids"`
	RobotIDs  []string `json:"robot_ids"`
	UserID    string   `json:"user_id"`
}

// metadataWire accepts both the snake_case echo and the camelCase shape
// written by older checkouts.
type metadataWire struct {
	TeamID         string   `json:"team_id"`
	MemberIDs      []string `json:"member_ids"`
	RobotIDs       []string `json:"robot_ids"`
	UserID         string   `json:"user_id"`
	TeamIDCamel    string   `json:"teamId"`
	MemberIDsCamel []string `json:"memberIds"`
	RobotIDsCamel  []string `json:"robotIds"`
	UserIDCamel    string   `json:"userId"`
}

func (m *Metadata) UnmarshalJSON(data []byte) error {
	var w metadataWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*m = Metadata{
		TeamID:    firstNonEmpty(w.TeamID, w.TeamIDCamel),
		MemberIDs: firstNonEmptySlice(w.MemberIDs, w.MemberIDsCamel),
		RobotIDs:  firstNonEmptySlice(w.RobotIDs, w.RobotIDsCamel),
		UserID:    firstNonEmpty(w.UserID, w.UserIDCamel),
	}
	return nil
}

// DecodeMetadata parses the provider echo. Absent or malformed metadata
// yields the zero value, which routes reconciliation to the legacy path.
func DecodeMetadata(raw json.RawMessage) Metadata {
	var m Metadata
	if len(raw) == 0 || string(raw) == "null" {
		return m
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return Metadata{}
	}
	return m
}

// HasSelection reports whether the metadata names any member or robot.
func (m Metadata) HasSelection() bool {
	return len(m.MemberIDs) > 0 || len(m.RobotIDs) > 0
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

func firstNonEmptySlice(values ...[]string) []string {
	for _, v := range values {
		if len(v) > 0 {
			return v
		}
	}
	return []string{}
}

// uniqueIDs trims, drops empties and removes duplicates keeping order.
func uniqueIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, raw := range ids {
		id := strings.TrimSpace(raw)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
