package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/haldenlabs/mandate/pkg/config"
	"github.com/haldenlabs/mandate/pkg/contracts"
	"github.com/haldenlabs/mandate/pkg/lifecycle"
	"github.com/haldenlabs/mandate/pkg/store"
	"github.com/haldenlabs/mandate/pkg/trust"
)

func buildManager(profile *config.GovernanceProfile, st store.Store) *lifecycle.Manager {
	recorder := trust.NewService(st, trust.Options{
		Alpha:             profile.Trust.Alpha,
		OverrideAlpha:     profile.Trust.OverrideAlpha,
		UpgradeThreshold:  profile.Trust.UpgradeThreshold,
		UpgradeFailureCut: profile.Trust.UpgradeFailureCut,
	})
	return lifecycle.NewManager(st, recorder).
		WithUndoWindow(time.Duration(profile.UndoWindowSeconds) * time.Second)
}

func runActionCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "Usage: mandate action <submit|approve|reject|execute|undo|resolve|show> [flags]")
		return 2
	}
	verb := args[0]
	switch verb {
	case "submit", "approve", "reject", "execute", "undo", "resolve", "show":
	default:
		fmt.Fprintf(stderr, "Unknown action verb: %s\n", verb)
		return 2
	}

	fs := flag.NewFlagSet("action "+verb, flag.ContinueOnError)
	fs.SetOutput(stderr)
	profilePath := fs.String("profile", os.Getenv("MANDATE_PROFILE"), "governance profile YAML")
	user := fs.String("user", "", "user id")
	id := fs.String("id", "", "action id")
	reason := fs.String("reason", "", "rejection reason")
	reversible := fs.Bool("reversible", false, "submitted action can be undone")
	failed := fs.Bool("failed", false, "resolve the action as failed")
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}

	needsUser := verb == "approve" || verb == "reject" || verb == "execute" || verb == "undo"
	needsID := needsUser || verb == "resolve" || verb == "show"
	if (needsUser && *user == "") || (needsID && *id == "") {
		fmt.Fprintf(stderr, "Usage: mandate action %s --id <action>", verb)
		if needsUser {
			fmt.Fprint(stderr, " --user <id>")
		}
		fmt.Fprintln(stderr)
		return 2
	}

	prof, err := loadProfile(*profilePath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	cfg := config.Load()
	st, err := openStore(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	obs, err := newTelemetry(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer func() { _ = obs.Shutdown(context.Background()) }()

	mgr := buildManager(prof, st).WithMetrics(obs)

	var a contracts.Action
	switch verb {
	case "submit":
		var dec contracts.Decision
		if err := json.NewDecoder(os.Stdin).Decode(&dec); err != nil {
			fmt.Fprintf(stderr, "Error: parse decision: %v\n", err)
			return 1
		}
		a, err = mgr.Submit(ctx, dec, *reversible)
	case "approve":
		a, err = mgr.Approve(ctx, *user, *id)
	case "reject":
		a, err = mgr.Reject(ctx, *user, *id, *reason)
	case "execute":
		a, err = mgr.Execute(ctx, *user, *id)
	case "undo":
		a, err = mgr.RequestUndo(ctx, *user, *id)
	case "resolve":
		a, err = mgr.Resolve(ctx, *id, *failed)
	case "show":
		a, err = mgr.Get(ctx, *id)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(a); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
