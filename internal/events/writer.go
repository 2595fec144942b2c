package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types recorded in the audit log and fanned out to webhooks.
const (
	ProjectCreated    = "project.created"
	ProjectUpdated    = "project.updated"
	ProjectDeleted    = "project.deleted"
	EpicCreated       = "epic.created"
	EpicUpdated       = "epic.updated"
	EpicDeleted       = "epic.deleted"
	StoryCreated      = "story.created"
	StoryUpdated      = "story.updated"
	StoryDeleted      = "story.deleted"
	TestCaseCreated   = "testcase.created"
	TestCaseUpdated   = "testcase.updated"
	TestCaseDeleted   = "testcase.deleted"
	TestCaseMarked    = "testcase.marked"
	TestCasesImported = "testcase.imported"
	SuiteCreated      = "suite.created"
	SuiteUpdated      = "suite.updated"
	SuiteDeleted      = "suite.deleted"
	RunCreated        = "run.created"
	RunUpdated        = "run.updated"
	RunDeleted        = "run.deleted"
	ExecutionRecorded = "execution.recorded"
	BulkExecutionDone = "execution.bulk"
)

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

// Append inserts one event row inside the caller's transaction so that the
// audit entry commits or rolls back together with the change it describes.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, projectID, entityKind, entityID, actorID string, payload EventPayload) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,project_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, nullable(projectID), entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
