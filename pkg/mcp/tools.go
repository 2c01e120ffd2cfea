package mcp

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jllopis/reportcard/pkg/records"
	"github.com/jllopis/reportcard/pkg/reports"
)

var (
	recordGetTool = mcp.NewTool("record_get",
		mcp.WithDescription("Fetch one record by id. Returns null when it does not exist."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Record id")),
		mcp.WithString("fields", mcp.Description("Comma separated payload fields to return; all when empty")),
		mcp.WithBoolean("with_vector", mcp.Description("Include the stored vector")),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	recordSearchTool = mcp.NewTool("record_search",
		mcp.WithDescription("Find records by exact payload values, or by similarity to a text."),
		mcp.WithObject("filter", mcp.Description("Field to exact value; empty values are ignored")),
		mcp.WithString("text", mcp.Description("Rank by similarity to this text instead of scanning")),
		mcp.WithNumber("limit", mcp.Description("Maximum results"), mcp.Min(1)),
		mcp.WithString("order_by", mcp.Description("Payload field to sort by (scan only)")),
		mcp.WithBoolean("desc", mcp.Description("Sort descending")),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	recordCreateTool = mcp.NewTool("record_create",
		mcp.WithDescription("Store a new record and return its id."),
		mcp.WithObject("payload", mcp.Required(), mcp.Description("Record payload")),
		mcp.WithString("text", mcp.Description("Text to embed as the record vector")),
		mcp.WithString("id", mcp.Description("Explicit id; generated when empty")),
	)

	recordUpdateTool = mcp.NewTool("record_update",
		mcp.WithDescription("Merge fields into an existing record."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Record id")),
		mcp.WithObject("payload", mcp.Required(), mcp.Description("Fields to set")),
	)

	recordDeleteTool = mcp.NewTool("record_delete",
		mcp.WithDescription("Delete a record by id."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Record id")),
		mcp.WithDestructiveHintAnnotation(true),
	)

	gradeScoreTool = mcp.NewTool("grade_score",
		mcp.WithDescription("Letter grade and remark for a score out of 100."),
		mcp.WithNumber("score", mcp.Required(), mcp.Description("Score")),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	reportListTool = mcp.NewTool("report_list",
		mcp.WithDescription("List student reports with their overall grade."),
		mcp.WithReadOnlyHintAnnotation(true),
	)
)

func (s *Server) handleRecordGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	opts := []records.QueryOption{}
	if fields := splitFields(req.GetString("fields", "")); len(fields) > 0 {
		opts = append(opts, records.WithPayload(records.Fields(fields...)))
	}
	if req.GetBool("with_vector", false) {
		opts = append(opts, records.WithVector())
	}

	payload, ok := s.records.Get(ctx, id, opts...)
	if !ok {
		return mcp.NewToolResultText("null"), nil
	}
	payload[records.IDField] = id
	return mcp.NewToolResultJSON(payload)
}

func (s *Server) handleRecordSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	filter, err := objectArg(args, "filter", false)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	limit := req.GetInt("limit", 0)

	var results []records.Payload
	if text := req.GetString("text", ""); text != "" {
		results, err = s.records.SearchByText(ctx, text, records.VectorQuery{Limit: limit, Filter: filter})
	} else {
		opts := []records.QueryOption{records.WithLimit(limit)}
		if key := req.GetString("order_by", ""); key != "" {
			dir := records.Asc
			if req.GetBool("desc", false) {
				dir = records.Desc
			}
			opts = append(opts, records.WithOrderBy(key, dir))
		}
		results, err = s.records.SearchByPayload(ctx, filter, opts...)
	}
	if err != nil {
		return s.toolError(ctx, "record_search", err), nil
	}
	return mcp.NewToolResultJSON(map[string]any{"results": results})
}

func (s *Server) handleRecordCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	payload, err := objectArg(req.GetArguments(), "payload", true)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var opts []records.CreateOption
	if text := req.GetString("text", ""); text != "" {
		opts = append(opts, records.WithText(text))
	}
	if id := req.GetString("id", ""); id != "" {
		opts = append(opts, records.WithID(id))
	}
	id, err := s.records.Create(ctx, records.Payload(payload), opts...)
	if err != nil {
		return s.toolError(ctx, "record_create", err), nil
	}
	return mcp.NewToolResultJSON(map[string]string{"id": id})
}

func (s *Server) handleRecordUpdate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	payload, err := objectArg(req.GetArguments(), "payload", true)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.records.UpdatePoint(ctx, id, records.Payload(payload)); err != nil {
		return s.toolError(ctx, "record_update", err), nil
	}
	return mcp.NewToolResultText("updated " + id), nil
}

func (s *Server) handleRecordDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.records.DeleteByID(ctx, id); err != nil {
		return s.toolError(ctx, "record_delete", err), nil
	}
	return mcp.NewToolResultText("deleted " + id), nil
}

type gradeResult struct {
	Score  float64 `json:"score"`
	Grade  string  `json:"grade"`
	Remark string  `json:"remark"`
}

func (s *Server) handleGradeScore(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	score, err := req.RequireFloat("score")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return mcp.NewToolResultError("score must be a finite number"), nil
	}
	grade := reports.CalculateGrade(&score)
	return mcp.NewToolResultJSON(gradeResult{Score: score, Grade: grade, Remark: reports.OverallRemark(grade)})
}

type reportRow struct {
	ID       string   `json:"id"`
	FullName string   `json:"fullName"`
	Class    string   `json:"class"`
	Average  *float64 `json:"average"`
	Grade    string   `json:"grade"`
	Remark   string   `json:"remark"`
}

func (s *Server) handleReportList(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	list := s.reports.Value()
	rows := make([]reportRow, 0, len(list))
	for _, r := range list {
		sum := r.Summarize()
		rows = append(rows, reportRow{
			ID:       r.ID,
			FullName: r.FullName,
			Class:    r.Class,
			Average:  sum.Average,
			Grade:    sum.Grade,
			Remark:   sum.Remark,
		})
	}
	return mcp.NewToolResultJSON(map[string]any{"reports": rows})
}

func objectArg(args map[string]any, key string, required bool) (map[string]any, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		if required {
			return nil, fmt.Errorf("required argument %q not found", key)
		}
		return nil, nil
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("argument %q must be an object", key)
	}
	return obj, nil
}

func splitFields(raw string) []string {
	var out []string
	for _, f := range strings.Split(raw, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
