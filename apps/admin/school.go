package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/azardenmark/dashboard-sub000/core/school"
)

func (cli *commandLine) reconcile(ctx context.Context, kindergartenID string) error {
	var reports []school.ReconcileReport
	if kindergartenID != "" {
		report, err := cli.schoolSvc.Reconcile(ctx, kindergartenID)
		if err != nil {
			return err
		}
		reports = append(reports, report)
	} else {
		var err error
		if reports, err = cli.schoolSvc.ReconcileAll(ctx); err != nil {
			return err
		}
	}

	for _, r := range reports {
		fmt.Fprintf(cli.out, "kindergarten %s: %d documents checked, %d drifts fixed\n", r.KindergartenID, r.Checked, len(r.Drifts))
		for _, d := range r.Drifts {
			fmt.Fprintf(cli.out, "  %s/%s %s: %v -> %v\n", d.Collection, d.ID, d.Field, d.Stored, d.Actual)
		}
	}
	return nil
}

func (cli *commandLine) listJobs(ctx context.Context, status school.JobStatus) error {
	jobs, err := cli.schoolSvc.ListJobs(ctx, status)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		cli.printJob(job)
	}
	return nil
}

// resumeJobs resumes the job id, or every failed job when id is empty.
func (cli *commandLine) resumeJobs(ctx context.Context, id string) error {
	ids := []string{id}
	if id == "" {
		jobs, err := cli.schoolSvc.ListJobs(ctx, school.JobFailed)
		if err != nil {
			return err
		}
		ids = ids[:0]
		for _, job := range jobs {
			ids = append(ids, job.ID)
		}
	}

	var failed int
	for _, id := range ids {
		job, err := cli.schoolSvc.ResumeJob(ctx, id)
		if err != nil {
			if school.IsNotFound(err) {
				return err
			}
			fmt.Fprintf(cli.out, "%s: %v\n", id, err)
			failed++
			continue
		}
		cli.printJob(job)
	}
	if failed > 0 {
		return errors.Errorf("%d of %d jobs could not be resumed", failed, len(ids))
	}
	return nil
}

func (cli *commandLine) printJob(job school.Job) {
	fmt.Fprintf(cli.out, "%s %s %s step %d/%d", job.ID, job.Kind, job.Status, job.Cursor, len(job.Steps))
	if job.Error != "" {
		fmt.Fprintf(cli.out, " (%s)", job.Error)
	}
	fmt.Fprintln(cli.out)
}
