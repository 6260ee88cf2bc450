package approval

import (
	"context"

	"github.com/sells-group/lead-intake/internal/model"
	"github.com/sells-group/lead-intake/pkg/notion"
)

// NotionRecorder returns a hook that records approved leads in a Notion
// database. Rejections are not recorded.
func NotionRecorder(c notion.Client, dbID string) DecisionHook {
	return func(ctx context.Context, a model.Approval) error {
		if a.Status != model.ApprovalApproved {
			return nil
		}
		_, err := notion.RecordLead(ctx, c, dbID, a)
		return err
	}
}
