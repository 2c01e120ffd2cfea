package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/jllopis/reportcard/pkg/kvstore"
	"github.com/jllopis/reportcard/pkg/reports"
)

// reportStore is a loaded report store and the closer of its storage.
type reportStore struct {
	*reports.Store
	close func() error
}

func (a *app) loadReports() (reportStore, error) {
	kv, closer, err := kvstore.Open(a.cfg.Storage)
	if err != nil {
		return reportStore{}, err
	}
	store := reports.New(kv,
		reports.WithStorageKey(a.cfg.Storage.Key),
		reports.WithLogger(a.logger),
	)
	a.logger.Debug("reports loaded",
		slog.String("driver", a.cfg.Storage.Driver),
		slog.Int("count", len(store.Value())))
	return reportStore{Store: store, close: closer}, nil
}

type reportRow struct {
	ID       string   `json:"id"`
	FullName string   `json:"fullName"`
	Class    string   `json:"class"`
	Session  string   `json:"session"`
	Average  *float64 `json:"average"`
	Grade    string   `json:"grade"`
	Remark   string   `json:"remark"`
}

const reportsUsage = "reports <list|show|add|remove|reset|import|export|grade>"

func (a *app) runReports(args []string) error {
	if len(args) == 0 {
		return usageError(reportsUsage)
	}
	sub, rest := args[0], args[1:]

	// Grading needs no storage.
	if sub == "grade" {
		if len(rest) != 1 {
			return usageError("reports grade <score>")
		}
		score, err := strconv.ParseFloat(rest[0], 64)
		if err != nil || math.IsNaN(score) || math.IsInf(score, 0) {
			return NewInvalidArgumentError("score", fmt.Sprintf("%q is not a number", rest[0]))
		}
		grade := reports.CalculateGrade(&score)
		return a.print(map[string]any{"score": score, "grade": grade, "remark": reports.OverallRemark(grade)})
	}

	switch sub {
	case "list", "show", "add", "remove", "reset", "import", "export":
	default:
		return usageError(reportsUsage)
	}

	store, err := a.openReports()
	if err != nil {
		return err
	}
	defer func() {
		if err := store.close(); err != nil {
			a.logger.Debug("closing report storage", slog.Any("error", err))
		}
	}()

	switch sub {
	case "list":
		if len(rest) > 0 {
			return usageError("reports list")
		}
		return a.listReports(store.Value())

	case "show":
		id, err := exactArgs(rest, "reports show <id>")
		if err != nil {
			return err
		}
		r, ok := store.Get(id[0])
		if !ok {
			return NewNotFoundError("report", id[0])
		}
		return a.print(map[string]any{"report": r, "summary": r.Summarize()})

	case "add":
		if len(rest) > 0 {
			return usageError("reports add")
		}
		r := store.Add()
		return a.print(map[string]string{"id": r.ID})

	case "remove":
		id, err := exactArgs(rest, "reports remove <id>")
		if err != nil {
			return err
		}
		if !store.Remove(id[0]) {
			return NewNotFoundError("report", id[0])
		}
		return a.print(map[string]string{"id": id[0], "status": "removed"})

	case "reset":
		if len(rest) > 0 {
			return usageError("reports reset")
		}
		r := store.NewReport()
		store.Set([]reports.Report{r})
		return a.print(map[string]string{"id": r.ID, "status": "reset"})

	case "import":
		path, err := exactArgs(rest, "reports import <file>")
		if err != nil {
			return err
		}
		raw, err := os.ReadFile(path[0])
		if err != nil {
			return NewInvalidArgumentError("file", err.Error())
		}
		list, err := reports.Normalize(raw)
		if err != nil {
			return NewInvalidArgumentError("file", err.Error())
		}
		for i := range list {
			if list[i].ID == "" {
				list[i].ID = store.NewID()
			}
		}
		store.Set(list)
		return a.print(map[string]int{"imported": len(list)})

	default: // export
		if len(rest) > 0 {
			return usageError("reports export")
		}
		payload, err := json.MarshalIndent(store.Value(), "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(a.out, string(payload))
		return err
	}
}

func (a *app) listReports(list []reports.Report) error {
	rows := make([]reportRow, 0, len(list))
	for _, r := range list {
		sum := r.Summarize()
		rows = append(rows, reportRow{
			ID:       r.ID,
			FullName: r.FullName,
			Class:    r.Class,
			Session:  r.Session,
			Average:  sum.Average,
			Grade:    sum.Grade,
			Remark:   sum.Remark,
		})
	}
	if a.flags.JSON {
		return a.print(rows)
	}

	writer := a.newTabWriter()
	writeRow(writer, "ID", "NAME", "CLASS", "SESSION", "AVERAGE", "GRADE")
	for _, row := range rows {
		writeRow(writer, row.ID, row.FullName, row.Class, row.Session, formatFloat(row.Average), row.Grade)
	}
	return writer.Flush()
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strings.TrimSuffix(strconv.FormatFloat(*v, 'f', 2, 64), ".00")
}
