package persistence

import (
	"time"

	"github.com/opencode-ai/agentcore/pkg/core"
)

func toExecutionRecord(e *core.ToolExecution) executionRecord {
	return executionRecord{
		ID:         e.ID,
		SessionID:  e.SessionID,
		ToolID:     e.ToolID,
		ToolName:   e.ToolName,
		Status:     string(e.Status),
		Args:       e.Args,
		ParamsNote: e.ParamsNote,
		Result:     e.Result,
		Err:        e.Err,
		PreviewID:  e.PreviewID,
		StartedAt:  timeToMillis(e.StartedAt),
		EndedAt:    timeToMillis(e.EndedAt),
		DurationMS: e.DurationMS,
	}
}

func fromExecutionRecord(r executionRecord) *core.ToolExecution {
	return &core.ToolExecution{
		ID:         r.ID,
		SessionID:  r.SessionID,
		ToolID:     r.ToolID,
		ToolName:   r.ToolName,
		Status:     core.ToolExecutionStatus(r.Status),
		Args:       r.Args,
		ParamsNote: r.ParamsNote,
		Result:     r.Result,
		Err:        r.Err,
		PreviewID:  r.PreviewID,
		StartedAt:  millisToTimeOrZero(r.StartedAt),
		EndedAt:    millisToTimeOrZero(r.EndedAt),
		DurationMS: r.DurationMS,
	}
}

func toPermissionRecord(p *core.PermissionRequest) permissionRecord {
	return permissionRecord{
		ID:          p.ID,
		SessionID:   p.SessionID,
		ExecutionID: p.ExecutionID,
		ToolID:      p.ToolID,
		ToolName:    p.ToolName,
		Args:        p.Args,
		Metadata:    p.Metadata,
		RequestedAt: timeToMillis(p.RequestedAt),
		ResolvedAt:  timeToMillis(p.ResolvedAt),
		Resolved:    p.Resolved,
		Granted:     p.Granted,
	}
}

func fromPermissionRecord(r permissionRecord) *core.PermissionRequest {
	return &core.PermissionRequest{
		ID:          r.ID,
		SessionID:   r.SessionID,
		ExecutionID: r.ExecutionID,
		ToolID:      r.ToolID,
		ToolName:    r.ToolName,
		Args:        r.Args,
		Metadata:    r.Metadata,
		RequestedAt: millisToTimeOrZero(r.RequestedAt),
		ResolvedAt:  millisToTimeOrZero(r.ResolvedAt),
		Resolved:    r.Resolved,
		Granted:     r.Granted,
	}
}

func toPreviewRecord(p *core.Preview) previewRecord {
	return previewRecord{
		ID:           p.ID,
		SessionID:    p.SessionID,
		ExecutionID:  p.ExecutionID,
		PermissionID: p.PermissionID,
		ContentType:  p.ContentType,
		Brief:        p.Brief,
		Full:         p.Full,
		Metadata:     p.Metadata,
	}
}

func fromPreviewRecord(r previewRecord) *core.Preview {
	return &core.Preview{
		ID:           r.ID,
		SessionID:    r.SessionID,
		ExecutionID:  r.ExecutionID,
		PermissionID: r.PermissionID,
		ContentType:  r.ContentType,
		Brief:        r.Brief,
		Full:         r.Full,
		Metadata:     r.Metadata,
	}
}

func timeToMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func millisToTimeOrZero(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
