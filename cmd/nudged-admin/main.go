package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"github.com/nudgelabs/nudged/config"
	"github.com/nudgelabs/nudged/internal/bootstrap"
	"github.com/nudgelabs/nudged/internal/core"
	"github.com/nudgelabs/nudged/internal/data"
	"github.com/nudgelabs/nudged/internal/domain/model"
)

type commandFn func(ctx *commandContext, args []string) error

type command struct {
	name        string
	description string
	run         commandFn
}

type commandContext struct {
	Ctx    context.Context
	Logger *slog.Logger
	Config config.AppConfig
}

const (
	defaultMigrationTimeout = 5 * time.Minute
	defaultCommandTimeout   = 2 * time.Minute
)

func main() {
	logger := bootstrap.InitLogger()

	if len(os.Args) < 2 {
		if err := printUsage(); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when no command is provided
	}

	cmdName := os.Args[1]
	cmd, ok := commands()[cmdName]
	if !ok {
		if err := writef(os.Stderr, "unknown command %q\n\n", cmdName); err != nil {
			logger.Error("print unknown command message failed", "error", err)
		}
		if err := printUsage(); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when command is unknown
	}

	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		logger.ErrorContext(context.Background(), "load config", "error", err)
		os.Exit(1) //nolint:forbidigo // CLI must signal configuration load failure to shell scripts
	}

	cmdCtx := &commandContext{
		Ctx:    context.Background(),
		Logger: logger,
		Config: cfg,
	}
	if runErr := cmd.run(cmdCtx, os.Args[2:]); runErr != nil {
		logger.ErrorContext(cmdCtx.Ctx, "command failed", "command", cmdName, "error", runErr)
		os.Exit(1) //nolint:forbidigo // CLI must propagate command execution failure to callers
	}
}

func commands() map[string]command {
	return map[string]command{
		"migrate": {
			name:        "migrate",
			description: "Run database migrations",
			run:         runMigrations,
		},
		"user-add": {
			name:        "user-add",
			description: "Register a user with an optional messaging handle",
			run:         runUserAdd,
		},
		"user-list": {
			name:        "user-list",
			description: "List registered users",
			run:         runUserList,
		},
		"job-enqueue": {
			name:        "job-enqueue",
			description: "Enqueue a push-message job for a user",
			run:         runJobEnqueue,
		},
		"job-list": {
			name:        "job-list",
			description: "List jobs, optionally filtered by status or kind",
			run:         runJobList,
		},
		"job-stats": {
			name:        "job-stats",
			description: "Show job counts per status",
			run:         runJobStats,
		},
		"messages": {
			name:        "messages",
			description: "Show a user's conversation log",
			run:         runMessages,
		},
	}
}

func printUsage() error {
	if err := writef(os.Stdout, "Usage: nudged-admin <command> [flags]\n\n"); err != nil {
		return err
	}
	if err := writef(os.Stdout, "Available commands:\n"); err != nil {
		return err
	}
	for _, c := range commands() {
		if err := writef(os.Stdout, "  %-14s %s\n", c.name, c.description); err != nil {
			return err
		}
	}
	return nil
}

type migrateOptions struct {
	Timeout time.Duration
}

type userAddOptions struct {
	DisplayName string
	Handle      string
}

type userListOptions struct {
	Limit  int
	Offset int
}

type jobEnqueueOptions struct {
	UserID  string
	Message string
	Kind    string
}

type jobListOptions struct {
	Status string
	Kind   string
	Limit  int
	Offset int
}

type messagesOptions struct {
	UserID string
	Limit  int
	Offset int
}

func runMigrations(cmdCtx *commandContext, args []string) error {
	opts, err := parseMigrateFlags(args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmdCtx.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	db, err := connectDB(cmdCtx)
	if err != nil {
		return err
	}
	defer closeDB(cmdCtx.Logger, db)

	cmdCtx.Logger.Info("running database migrations")

	if migrateErr := bootstrap.RunMigrations(ctx, db, cmdCtx.Logger); migrateErr != nil {
		return fmt.Errorf("run migrations: %w", migrateErr)
	}

	cmdCtx.Logger.Info("migrations completed successfully")
	return nil
}

func runUserAdd(cmdCtx *commandContext, args []string) error {
	opts, err := parseUserAddFlags(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	db, err := connectDB(cmdCtx)
	if err != nil {
		return err
	}
	defer closeDB(cmdCtx.Logger, db)

	repo := data.MustNewUserRepo(data.UserRepoOptions{DB: db, Logger: cmdCtx.Logger})

	req := &model.CreateUserRequest{DisplayName: opts.DisplayName}
	if opts.Handle != "" {
		req.MessagingHandle = &opts.Handle
	}

	user, err := repo.Create(ctx, req)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}

	handle := "-"
	if user.MessagingHandle != nil {
		handle = *user.MessagingHandle
	}
	return writef(os.Stdout, "created user %s (display_name=%q handle=%s)\n", user.ID, user.DisplayName, handle)
}

func runUserList(cmdCtx *commandContext, args []string) error {
	opts, err := parseUserListFlags(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	db, err := connectDB(cmdCtx)
	if err != nil {
		return err
	}
	defer closeDB(cmdCtx.Logger, db)

	repo := data.MustNewUserRepo(data.UserRepoOptions{DB: db, Logger: cmdCtx.Logger})
	users, err := repo.List(ctx, opts.Limit, opts.Offset)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	if err = writef(w, "ID\tDISPLAY NAME\tHANDLE\tCREATED\n"); err != nil {
		return err
	}
	for _, u := range users {
		handle := "-"
		if u.MessagingHandle != nil {
			handle = *u.MessagingHandle
		}
		if err = writef(w, "%s\t%s\t%s\t%s\n", u.ID, u.DisplayName, handle, u.CreatedAt.Format(time.RFC3339)); err != nil {
			return err
		}
	}
	return w.Flush()
}

func runJobEnqueue(cmdCtx *commandContext, args []string) error {
	opts, err := parseJobEnqueueFlags(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	db, err := connectDB(cmdCtx)
	if err != nil {
		return err
	}
	defer closeDB(cmdCtx.Logger, db)

	params, err := model.NewPushMessageParams(opts.UserID, opts.Message)
	if err != nil {
		return fmt.Errorf("build job params: %w", err)
	}

	var kind model.JobKind
	if err = kind.UnmarshalText([]byte(opts.Kind)); err != nil {
		return fmt.Errorf("parse job kind: %w", err)
	}

	repo := data.MustNewJobRepo(data.JobRepoOptions{DB: db, Logger: cmdCtx.Logger})
	job, err := repo.Create(ctx, &model.CreateJobRequest{Kind: kind, Params: params})
	if err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}

	return writef(os.Stdout, "enqueued job %s (kind=%s status=%s)\n", job.ID, job.Kind, job.Status)
}

func runJobList(cmdCtx *commandContext, args []string) error {
	opts, err := parseJobListFlags(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	db, err := connectDB(cmdCtx)
	if err != nil {
		return err
	}
	defer closeDB(cmdCtx.Logger, db)

	params := core.ListJobsParams{Limit: opts.Limit, Offset: opts.Offset}
	if opts.Status != "" {
		var status model.JobStatus
		if err = status.UnmarshalText([]byte(opts.Status)); err != nil {
			return fmt.Errorf("parse status filter: %w", err)
		}
		params.Status = status
	}
	if opts.Kind != "" {
		var kind model.JobKind
		if err = kind.UnmarshalText([]byte(opts.Kind)); err != nil {
			return fmt.Errorf("parse kind filter: %w", err)
		}
		params.Kind = kind
	}

	repo := data.MustNewJobRepo(data.JobRepoOptions{DB: db, Logger: cmdCtx.Logger})
	jobs, err := repo.List(ctx, params)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	if err = writef(w, "ID\tKIND\tSTATUS\tTYPE\tLAST ERROR\tCREATED\n"); err != nil {
		return err
	}
	for _, j := range jobs {
		lastErr := "-"
		if j.LastError != nil {
			lastErr = truncate(*j.LastError, 60)
		}
		paramsType := j.ParamsType()
		if paramsType == "" {
			paramsType = "?"
		}
		if err = writef(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			j.ID, j.Kind, j.Status, paramsType, lastErr, j.CreatedAt.Format(time.RFC3339)); err != nil {
			return err
		}
	}
	return w.Flush()
}

func runJobStats(cmdCtx *commandContext, _ []string) error {
	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	db, err := connectDB(cmdCtx)
	if err != nil {
		return err
	}
	defer closeDB(cmdCtx.Logger, db)

	repo := data.MustNewJobRepo(data.JobRepoOptions{DB: db, Logger: cmdCtx.Logger})
	stats, err := repo.Stats(ctx)
	if err != nil {
		return fmt.Errorf("job stats: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	if err = writef(w, "STATUS\tCOUNT\n"); err != nil {
		return err
	}
	if err = writef(w, "pending\t%d\n", stats.Pending); err != nil {
		return err
	}
	if err = writef(w, "completed\t%d\n", stats.Completed); err != nil {
		return err
	}
	if err = writef(w, "failed\t%d\n", stats.Failed); err != nil {
		return err
	}
	return w.Flush()
}

func runMessages(cmdCtx *commandContext, args []string) error {
	opts, err := parseMessagesFlags(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	db, err := connectDB(cmdCtx)
	if err != nil {
		return err
	}
	defer closeDB(cmdCtx.Logger, db)

	repo := data.MustNewMessageRepo(data.MessageRepoOptions{DB: db, Logger: cmdCtx.Logger})
	messages, err := repo.ListByUser(ctx, opts.UserID, opts.Limit, opts.Offset)
	if err != nil {
		return fmt.Errorf("list messages: %w", err)
	}

	for _, m := range messages {
		if err = writef(os.Stdout, "[%s] %s: %s\n",
			m.CreatedAt.Format(time.RFC3339), m.Role, m.PlainText()); err != nil {
			return err
		}
	}
	return nil
}

func parseMigrateFlags(args []string) (migrateOptions, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := migrateOptions{
		Timeout: defaultMigrationTimeout,
	}

	fs.DurationVar(
		&opts.Timeout,
		"timeout",
		defaultMigrationTimeout,
		"Maximum duration to wait for migrations to complete",
	)

	if err := fs.Parse(args); err != nil {
		return migrateOptions{}, err
	}

	if opts.Timeout <= 0 {
		return migrateOptions{}, errors.New("--timeout must be greater than zero")
	}

	return opts, nil
}

func parseUserAddFlags(args []string) (userAddOptions, error) {
	fs := flag.NewFlagSet("user-add", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts userAddOptions
	fs.StringVar(&opts.DisplayName, "name", "", "Display name for the user (required)")
	fs.StringVar(&opts.Handle, "handle", "", "Messaging handle for push delivery (optional)")

	if err := fs.Parse(args); err != nil {
		return userAddOptions{}, err
	}

	opts.DisplayName = strings.TrimSpace(opts.DisplayName)
	opts.Handle = strings.TrimSpace(opts.Handle)
	if opts.DisplayName == "" {
		return userAddOptions{}, errors.New("--name is required")
	}

	return opts, nil
}

func parseUserListFlags(args []string) (userListOptions, error) {
	fs := flag.NewFlagSet("user-list", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts userListOptions
	fs.IntVar(&opts.Limit, "limit", 100, "Maximum number of users to list")
	fs.IntVar(&opts.Offset, "offset", 0, "Offset into the user list")

	if err := fs.Parse(args); err != nil {
		return userListOptions{}, err
	}
	return opts, nil
}

func parseJobEnqueueFlags(args []string) (jobEnqueueOptions, error) {
	fs := flag.NewFlagSet("job-enqueue", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts jobEnqueueOptions
	fs.StringVar(&opts.UserID, "user", "", "Target user ID (required)")
	fs.StringVar(&opts.Message, "message", "", "Message text to deliver (required)")
	fs.StringVar(&opts.Kind, "kind", string(model.JobKindOneTime), "Job kind: recurring or one-time")

	if err := fs.Parse(args); err != nil {
		return jobEnqueueOptions{}, err
	}

	opts.UserID = strings.TrimSpace(opts.UserID)
	if opts.UserID == "" {
		return jobEnqueueOptions{}, errors.New("--user is required")
	}
	if _, err := uuid.Parse(opts.UserID); err != nil {
		return jobEnqueueOptions{}, fmt.Errorf("--user must be a UUID: %w", err)
	}
	if strings.TrimSpace(opts.Message) == "" {
		return jobEnqueueOptions{}, errors.New("--message is required")
	}

	return opts, nil
}

func parseJobListFlags(args []string) (jobListOptions, error) {
	fs := flag.NewFlagSet("job-list", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts jobListOptions
	fs.StringVar(&opts.Status, "status", "", "Filter by status: pending, completed, failed")
	fs.StringVar(&opts.Kind, "kind", "", "Filter by kind: recurring, one-time")
	fs.IntVar(&opts.Limit, "limit", 100, "Maximum number of jobs to list")
	fs.IntVar(&opts.Offset, "offset", 0, "Offset into the job list")

	if err := fs.Parse(args); err != nil {
		return jobListOptions{}, err
	}
	return opts, nil
}

func parseMessagesFlags(args []string) (messagesOptions, error) {
	fs := flag.NewFlagSet("messages", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts messagesOptions
	fs.StringVar(&opts.UserID, "user", "", "User ID whose conversation to show (required)")
	fs.IntVar(&opts.Limit, "limit", 100, "Maximum number of messages to show")
	fs.IntVar(&opts.Offset, "offset", 0, "Offset into the conversation")

	if err := fs.Parse(args); err != nil {
		return messagesOptions{}, err
	}

	opts.UserID = strings.TrimSpace(opts.UserID)
	if opts.UserID == "" {
		return messagesOptions{}, errors.New("--user is required")
	}
	if _, err := uuid.Parse(opts.UserID); err != nil {
		return messagesOptions{}, fmt.Errorf("--user must be a UUID: %w", err)
	}

	return opts, nil
}

func connectDB(cmdCtx *commandContext) (*sql.DB, error) {
	db, err := bootstrap.ConnectDB(bootstrap.DatabaseConfig{
		DBConfig: cmdCtx.Config.Postgres,
		Logger:   cmdCtx.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	return db, nil
}

func closeDB(logger *slog.Logger, db *sql.DB) {
	if err := db.Close(); err != nil {
		logger.Warn("db close failed", "error", err)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func writef(w io.Writer, format string, args ...any) error {
	_, err := fmt.Fprintf(w, format, args...)
	return err
}
