package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/Lllllllleong/scoreflow/internal/config"
	"github.com/Lllllllleong/scoreflow/internal/jobstore"
	"github.com/Lllllllleong/scoreflow/internal/models"
	"github.com/Lllllllleong/scoreflow/internal/services"
)

// deps is what the admin commands operate on.
type deps struct {
	store      jobstore.Store
	blobs      services.BlobWriter
	submission *services.Submission
	close      func() error
}

type depsOpener func(ctx context.Context, envFile string) (*deps, error)

func openDeps(ctx context.Context, envFile string) (*deps, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := config.NewLogger(cfg.LogLevel, cfg.LogFormat)
	app, err := services.NewApp(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &deps{store: app.Store, blobs: app.Blobs, submission: app.Submission, close: app.Close}, nil
}

type admin struct {
	out  io.Writer
	open depsOpener
}

func envFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "env",
		Usage: "path to an environment file",
		Value: ".env",
	}
}

func newRootCommand(out io.Writer, open depsOpener) *cli.Command {
	a := &admin{out: out, open: open}
	return &cli.Command{
		Name:   "score-admin",
		Usage:  "inspect and manage worksheet scoring jobs",
		Writer: out,
		Commands: []*cli.Command{
			{
				Name:  "jobs",
				Usage: "job management commands",
				Commands: []*cli.Command{
					{
						Name:  "list",
						Usage: "list an owner's jobs, newest first",
						Flags: []cli.Flag{
							envFlag(),
							&cli.StringFlag{Name: "owner", Usage: "owning user ID", Required: true},
						},
						Action: a.jobsList,
					},
					{
						Name:  "show",
						Usage: "print one job",
						Flags: []cli.Flag{
							envFlag(),
							&cli.StringFlag{Name: "id", Usage: "job ID", Required: true},
						},
						Action: a.jobsShow,
					},
					{
						Name:  "results",
						Usage: "print one page of a job's results",
						Flags: []cli.Flag{
							envFlag(),
							&cli.StringFlag{Name: "id", Usage: "job ID", Required: true},
							&cli.IntFlag{Name: "page-size", Usage: "results per page", Value: 10},
							&cli.StringFlag{Name: "cursor", Usage: "cursor returned by the previous page"},
						},
						Action: a.jobsResults,
					},
					{
						Name:  "delete",
						Usage: "delete a job and its results",
						Flags: []cli.Flag{
							envFlag(),
							&cli.StringFlag{Name: "id", Usage: "job ID", Required: true},
						},
						Action: a.jobsDelete,
					},
					{
						Name:  "purge",
						Usage: "delete every job an owner has",
						Flags: []cli.Flag{
							envFlag(),
							&cli.StringFlag{Name: "owner", Usage: "owning user ID", Required: true},
						},
						Action: a.jobsPurge,
					},
				},
			},
			{
				Name:  "process",
				Usage: "upload a local file and process it synchronously",
				Flags: []cli.Flag{
					envFlag(),
					&cli.StringFlag{Name: "owner", Usage: "owning user ID", Required: true},
					&cli.StringFlag{Name: "file", Usage: "path to a PDF or image", Required: true},
					&cli.StringFlag{Name: "content-type", Usage: "media type (derived from the extension when omitted)"},
				},
				Action: a.process,
			},
		},
	}
}

func (a *admin) withDeps(ctx context.Context, cmd *cli.Command, fn func(*deps) error) error {
	d, err := a.open(ctx, cmd.String("env"))
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer d.close()
	return fn(d)
}

func (a *admin) jobsList(ctx context.Context, cmd *cli.Command) error {
	return a.withDeps(ctx, cmd, func(d *deps) error {
		jobs, err := d.store.ListForOwner(ctx, cmd.String("owner"))
		if err != nil {
			return fmt.Errorf("failed to list jobs: %w", err)
		}
		if len(jobs) == 0 {
			fmt.Fprintln(a.out, "No jobs found.")
			return nil
		}
		return renderJobsTable(a.out, jobs)
	})
}

func (a *admin) jobsShow(ctx context.Context, cmd *cli.Command) error {
	return a.withDeps(ctx, cmd, func(d *deps) error {
		job, err := d.store.Get(ctx, cmd.String("id"))
		if err != nil {
			return fmt.Errorf("failed to get job: %w", err)
		}
		return a.printJSON(job)
	})
}

func (a *admin) jobsResults(ctx context.Context, cmd *cli.Command) error {
	return a.withDeps(ctx, cmd, func(d *deps) error {
		job, err := d.store.Get(ctx, cmd.String("id"))
		if err != nil {
			return fmt.Errorf("failed to get job: %w", err)
		}
		results, next, err := d.store.PaginateResults(ctx, job.ID, cmd.Int("page-size"), cmd.String("cursor"))
		if err != nil {
			return fmt.Errorf("failed to read results: %w", err)
		}
		resp := &models.SolutionResponse{Job: job, Results: results}
		if next != "" {
			resp.NextCursor = &next
		}
		return a.printJSON(resp)
	})
}

func (a *admin) jobsDelete(ctx context.Context, cmd *cli.Command) error {
	return a.withDeps(ctx, cmd, func(d *deps) error {
		id := cmd.String("id")
		if err := d.store.Delete(ctx, id); err != nil {
			return fmt.Errorf("failed to delete job: %w", err)
		}
		fmt.Fprintf(a.out, "Deleted job %s.\n", id)
		return nil
	})
}

func (a *admin) jobsPurge(ctx context.Context, cmd *cli.Command) error {
	return a.withDeps(ctx, cmd, func(d *deps) error {
		n, err := d.store.DeleteAllForOwner(ctx, cmd.String("owner"))
		if err != nil {
			return fmt.Errorf("failed to delete jobs: %w", err)
		}
		fmt.Fprintf(a.out, "Deleted %d jobs.\n", n)
		return nil
	})
}

func (a *admin) process(ctx context.Context, cmd *cli.Command) error {
	path := cmd.String("file")
	contentType := cmd.String("content-type")
	if contentType == "" {
		contentType = mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	}

	return a.withDeps(ctx, cmd, func(d *deps) error {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		name := fmt.Sprintf("%s-%s", uuid.NewString(), services.SanitizeFilename(path))
		ref, err := d.blobs.Put(ctx, name, f, contentType)
		if err != nil {
			return fmt.Errorf("failed to upload file: %w", err)
		}

		jobID, runErr := d.submission.SubmitExisting(ctx, cmd.String("owner"), ref)
		if jobID == "" {
			return runErr
		}
		job, err := d.store.Get(ctx, jobID)
		if err != nil {
			return fmt.Errorf("failed to get job: %w", err)
		}
		if err := a.printJSON(job); err != nil {
			return err
		}
		return runErr
	})
}

func (a *admin) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderJobsTable(w io.Writer, jobs []*models.Job) error {
	table := tablewriter.NewWriter(w)
	table.Header("Job ID", "Status", "Pages", "Created At", "First Question")

	for _, job := range jobs {
		created := ""
		if !job.CreatedAt.IsZero() {
			created = job.CreatedAt.Format("2006-01-02 15:04")
		}
		if err := table.Append(
			job.ID,
			string(job.Status),
			fmt.Sprintf("%d/%d", job.ProcessedPages, job.PageCount),
			created,
			job.FirstQuestion,
		); err != nil {
			return err
		}
	}
	return table.Render()
}
