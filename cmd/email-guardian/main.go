package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/emailguardian/email-guardian/internal/cases"
	"github.com/emailguardian/email-guardian/internal/classifier"
	"github.com/emailguardian/email-guardian/internal/core"
	"github.com/emailguardian/email-guardian/internal/di"
	"github.com/emailguardian/email-guardian/internal/pipeline"
	"github.com/emailguardian/email-guardian/internal/registry"
	"github.com/emailguardian/email-guardian/internal/stats"
)

const usage = `Usage: email-guardian <command> [flags]

Commands:
  import         Import a CSV file and run the full pipeline
  reclassify     Re-run classifier and rules over stored emails
  retrain        Train and publish a new model snapshot
  load-rules     Load admin rules from a JSON file
  case           Transition a case to a new status
  flag-sender    Flag a sender
  unflag-sender  Unflag a sender
  stats          Print dashboard statistics
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	container, err := di.BuildContainer()
	if err != nil {
		fmt.Printf("Failed to build dependency container: %v\n", err)
		os.Exit(1)
	}

	if err := container.Invoke(func(
		logger *zap.Logger,
		store core.Store,
		snapshots *classifier.SnapshotProvider,
		orch *pipeline.Orchestrator,
		caseMgr *cases.Manager,
		senders *registry.Registry,
		statsSvc *stats.Service,
	) error {
		defer logger.Sync()
		defer store.Close()

		ctx := context.Background()
		if err := snapshots.LoadLatest(ctx, store); err != nil {
			return fmt.Errorf("failed to load model snapshot: %w", err)
		}

		return dispatch(ctx, os.Args[1], os.Args[2:], &app{
			logger:   logger,
			store:    store,
			orch:     orch,
			caseMgr:  caseMgr,
			senders:  senders,
			statsSvc: statsSvc,
		})
	}); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

type app struct {
	logger   *zap.Logger
	store    core.Store
	orch     *pipeline.Orchestrator
	caseMgr  *cases.Manager
	senders  *registry.Registry
	statsSvc *stats.Service
}

func dispatch(ctx context.Context, command string, args []string, a *app) error {
	switch command {
	case "import":
		return a.runImport(ctx, args)
	case "reclassify":
		return a.runReclassify(ctx)
	case "retrain":
		return a.runRetrain(ctx)
	case "load-rules":
		return a.runLoadRules(ctx, args)
	case "case":
		return a.runCaseTransition(ctx, args)
	case "flag-sender":
		return a.runFlagSender(ctx, args)
	case "unflag-sender":
		return a.runUnflagSender(ctx, args)
	case "stats":
		return a.runStats(ctx)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command: %s", command)
	}
}

func (a *app) runImport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	file := fs.String("file", "", "CSV file to import")
	fs.Parse(args)

	if *file == "" {
		return fmt.Errorf("import: -file is required")
	}

	rows, err := readCSVRows(*file)
	if err != nil {
		return err
	}

	result, err := a.orch.ProcessBatch(ctx, rows)
	if err != nil {
		return err
	}

	fmt.Printf("Imported: %d\nClassified: %d\nFlagged: %d\nCases created: %d\nSkipped: %d\n",
		result.Imported, result.Classified, result.Flagged, result.CasesCreated, result.Skipped)
	for _, skip := range result.SkipReasons {
		fmt.Printf("  row %d: %s (%s)\n", skip.Row, skip.Reason, skip.Field)
	}
	return nil
}

func (a *app) runReclassify(ctx context.Context) error {
	result, err := a.orch.ReclassifyAll(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Reclassified: %d\nFlagged: %d\nCases created: %d\n",
		result.Reclassified, result.Flagged, result.CasesCreated)
	return nil
}

func (a *app) runRetrain(ctx context.Context) error {
	snapshot, err := a.orch.Retrain(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Published snapshot version %d (trained on %d emails, %d tokens)\n",
		snapshot.Version, snapshot.TrainingSize, len(snapshot.Vocabulary))
	return nil
}

func (a *app) runLoadRules(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("load-rules", flag.ExitOnError)
	file := fs.String("file", "", "JSON file holding an array of rules")
	fs.Parse(args)

	if *file == "" {
		return fmt.Errorf("load-rules: -file is required")
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		return fmt.Errorf("failed to read rules file: %w", err)
	}

	var ruleSet []core.AdminRule
	if err := json.Unmarshal(data, &ruleSet); err != nil {
		return fmt.Errorf("failed to decode rules file: %w", err)
	}

	for i := range ruleSet {
		if ruleSet[i].ID == uuid.Nil {
			ruleSet[i].ID = uuid.New()
		}
		if err := a.store.SaveRule(ctx, &ruleSet[i]); err != nil {
			return err
		}
	}
	fmt.Printf("Loaded %d rules\n", len(ruleSet))
	return nil
}

func (a *app) runCaseTransition(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("case", flag.ExitOnError)
	caseID := fs.String("id", "", "Case id")
	target := fs.String("to", "", "Target status")
	actor := fs.String("actor", "admin", "Acting user")
	reason := fs.String("reason", "", "Transition reason")
	version := fs.Int64("version", 0, "Expected case version")
	assign := fs.String("assign", "", "Assign the case to a user")
	notes := fs.String("notes", "", "Resolution notes")
	fs.Parse(args)

	id, err := uuid.Parse(*caseID)
	if err != nil {
		return fmt.Errorf("case: invalid -id: %w", err)
	}

	var opts cases.TransitionOptions
	if *assign != "" {
		opts.AssignedTo = assign
	}
	if *notes != "" {
		opts.ResolutionNotes = notes
	}

	updated, err := a.caseMgr.Transition(ctx, id, core.CaseStatus(*target), *actor, *reason, *version, &opts)
	if err != nil {
		return err
	}
	fmt.Printf("Case %s is now %s (version %d)\n", updated.ID, updated.Status, updated.Version)
	return nil
}

func (a *app) runFlagSender(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("flag-sender", flag.ExitOnError)
	sender := fs.String("sender", "", "Sender address")
	reason := fs.String("reason", "", "Why the sender is flagged")
	actor := fs.String("actor", "admin", "Acting user")
	fs.Parse(args)

	if *sender == "" {
		return fmt.Errorf("flag-sender: -sender is required")
	}
	return a.senders.Flag(ctx, *sender, *reason, *actor)
}

func (a *app) runUnflagSender(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("unflag-sender", flag.ExitOnError)
	sender := fs.String("sender", "", "Sender address")
	actor := fs.String("actor", "admin", "Acting user")
	fs.Parse(args)

	if *sender == "" {
		return fmt.Errorf("unflag-sender: -sender is required")
	}
	return a.senders.Unflag(ctx, *sender, *actor)
}

func (a *app) runStats(ctx context.Context) error {
	dashboard, err := a.statsSvc.Dashboard(ctx, core.StatsFilter{})
	if err != nil {
		return err
	}

	fmt.Printf("Emails: %d (flagged %d)\nCases: %d\n",
		dashboard.TotalEmails, dashboard.FlaggedEmails, dashboard.TotalCases)
	for status, count := range dashboard.CasesByStatus {
		fmt.Printf("  %s: %d\n", status, count)
	}
	fmt.Println("Risk buckets:")
	for bucket, count := range dashboard.EmailsByBucket {
		fmt.Printf("  %s: %d\n", bucket, count)
	}
	return nil
}

// readCSVRows converts a CSV file into the column-name to value mappings
// the pipeline ingests.
func readCSVRows(path string) ([]map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse CSV: %w", err)
	}
	if len(records) < 1 {
		return nil, nil
	}

	header := records[0]
	rows := make([]map[string]string, 0, len(records)-1)
	for _, record := range records[1:] {
		row := map[string]string{}
		for i, col := range header {
			if i < len(record) {
				row[col] = record[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
