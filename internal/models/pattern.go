// internal/models/pattern.go
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Relationship is a typed directed edge from one pattern to another, e.g.
// "derived_from" or "optimized_from".
type Relationship struct {
	Type       string  `json:"type"`
	TargetID   string  `json:"target_id"`
	Properties Payload `json:"properties,omitempty"`
}

// Pattern is a stored execution pattern: a reusable template describing a set
// of typed tasks and their dependency relationships. Config carries the task
// list under the "tasks" key; Metadata is opaque operator data.
type Pattern struct {
	PatternID     string         `json:"pattern_id"`
	PatternType   string         `json:"type"`
	Config        Payload        `json:"config"`
	Metadata      Payload        `json:"metadata,omitempty"`
	Relationships []Relationship `json:"relationships,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// PatternVersion is one immutable entry in a pattern's append-only history.
// Seq is assigned by the store and orders the history; VersionTag is the
// caller-supplied label.
type PatternVersion struct {
	VersionTag     string    `json:"version_tag"`
	Seq            int       `json:"seq"`
	ConfigSnapshot Payload   `json:"config_snapshot"`
	Metadata       Payload   `json:"metadata,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// PatternTask is one task template inside a pattern config. ID is the
// pattern-local identifier that dependency declarations refer to; it maps to
// a generated graph task id at instantiation time.
type PatternTask struct {
	ID           string   `json:"id"`
	Type         string   `json:"type"`
	Config       Payload  `json:"config,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// TasksFromConfig extracts the typed task list from a pattern config. The
// config is an opaque payload, so the "tasks" entry is normalized through a
// JSON round trip rather than type-asserted shape by shape.
func TasksFromConfig(config Payload) ([]PatternTask, error) {
	raw, ok := config["tasks"]
	if !ok {
		return nil, &InvalidConfigError{Reason: "config has no tasks list"}
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return nil, &InvalidConfigError{Reason: fmt.Sprintf("tasks list is not serializable: %v", err)}
	}

	var tasks []PatternTask
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, &InvalidConfigError{Reason: fmt.Sprintf("tasks list is malformed: %v", err)}
	}

	seen := make(map[string]struct{}, len(tasks))
	for i, task := range tasks {
		if task.ID == "" {
			return nil, &InvalidConfigError{Reason: fmt.Sprintf("task %d has no id", i)}
		}
		if task.Type == "" {
			return nil, &InvalidConfigError{Reason: fmt.Sprintf("task %q has no type", task.ID)}
		}
		if _, dup := seen[task.ID]; dup {
			return nil, &InvalidConfigError{Reason: fmt.Sprintf("duplicate task id %q", task.ID)}
		}
		seen[task.ID] = struct{}{}
	}

	return tasks, nil
}
