// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// audit_cmd.go - Audit trail review and export.

package cli

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/morganforge/kontor/internal/app"
	"github.com/morganforge/kontor/internal/security"
	"github.com/morganforge/kontor/internal/util"
)

// HandleAudit dispatches "kontor audit [list|export]".
func HandleAudit(ctx context.Context, env *Env, a *app.App, args Args) error {
	switch args.Subcommand {
	case "list", "show", "ls":
		return handleAuditList(ctx, env, a, args)
	case "export":
		return handleAuditExport(ctx, env, a, args)
	default:
		return ErrUnknownSubcommand("audit", args.Subcommand)
	}
}

// parseAuditQuery builds a query from --user, --type, --since, --until, --limit.
func parseAuditQuery(a *app.App, args Args, now time.Time) (security.AuditQuery, error) {
	var q security.AuditQuery
	var err error

	if ref := args.Options["user"]; ref != "" {
		q.UserID = ref
		if u, ok := a.Auth.FindUser(ref); ok {
			q.UserID = u.ID
		}
	}
	if t := args.Options["type"]; t != "" {
		et := security.EventType(strings.ToLower(t))
		if !slices.Contains(security.AllEventTypes, et) {
			return q, NewValidationErrorWithExample("type", t, "unknown event type", "--type login_failed")
		}
		q.Type = et
	}
	if q.Since, err = ParseTimeOption(args.Options["since"], "since", now); err != nil {
		return q, err
	}
	if q.Until, err = ParseTimeOption(args.Options["until"], "until", now); err != nil {
		return q, err
	}
	if q.Limit, err = ParseIntWithValidation(args.Options["limit"], "limit"); err != nil {
		return q, err
	}
	return q, nil
}

func handleAuditList(ctx context.Context, env *Env, a *app.App, args Args) error {
	q, err := parseAuditQuery(a, args, time.Now())
	if err != nil {
		return err
	}
	events, err := a.Audit.Query(ctx, q)
	if err != nil {
		return err
	}
	if args.JSON {
		if events == nil {
			events = []security.AuditEvent{}
		}
		return NewJSONResponse("audit list", events).Print(env.Out)
	}

	if len(events) == 0 {
		fmt.Fprintln(env.Out, DimStyle.Render("No audit events match."))
		return nil
	}
	fmt.Fprintln(env.Out, HeaderStyle.Render(
		padRight("TIME", 21)+padRight("SEVERITY", 10)+padRight("EVENT", 24)+padRight("USER", 12)+"DESCRIPTION"))
	for _, ev := range events {
		fmt.Fprintln(env.Out,
			padRight(formatTime(ev.Timestamp), 21)+
				padRight(SeverityStyle(ev.Severity).Render(string(ev.Severity)), 10)+
				padRight(string(ev.Type), 24)+
				padRight(util.MaskID(ev.UserID), 12)+
				ev.Description)
	}
	fmt.Fprintln(env.Out, DimStyle.Render(fmt.Sprintf("%d event(s)", len(events))))
	return nil
}

func handleAuditExport(ctx context.Context, env *Env, a *app.App, args Args) error {
	q, err := parseAuditQuery(a, args, time.Now())
	if err != nil {
		return err
	}

	format := strings.ToLower(args.Options["format"])
	if format == "" {
		format = "csv"
	}

	var buf bytes.Buffer
	var n int
	switch format {
	case "csv":
		n, err = a.Audit.ExportCSV(ctx, &buf, q)
	case "json":
		n, err = a.Audit.ExportJSON(ctx, &buf, q)
	default:
		return NewValidationErrorWithExample("format", format, "must be csv or json", "--format csv")
	}
	if err != nil {
		return err
	}

	out := args.Options["out"]
	if out == "" || out == "-" {
		_, err := env.Out.Write(buf.Bytes())
		return err
	}
	if err := util.AtomicWriteFile(out, buf.Bytes(), util.PrivateFileMode); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	if args.JSON {
		return NewJSONResponse("audit export", map[string]any{"path": out, "format": format, "events": n}).Print(env.Out)
	}
	fmt.Fprintf(env.Out, "%s exported %d event(s) to %s\n", SuccessStyle.Render("OK"), n, out)
	return nil
}
