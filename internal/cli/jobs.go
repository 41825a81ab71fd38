package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/apresai/voiceover/internal/bootstrap"
	"github.com/apresai/voiceover/internal/jobstore"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and manage voiceover jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runJobsList,
}

var jobsGetCmd = &cobra.Command{
	Use:   "get <job-id>",
	Short: "Show one job as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsGet,
}

var jobsDeleteCmd = &cobra.Command{
	Use:   "delete <job-id>",
	Short: "Delete a job and its audio file",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsDelete,
}

var jobsPublishCmd = &cobra.Command{
	Use:   "publish <job-id>",
	Short: "Upload a completed job's audio to the S3 mirror",
	Long:  "Upload the audio of a completed job to S3_BUCKET and record its URL (CDN_BASE_URL based when set).",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsPublish,
}

var flagJSON bool

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd, jobsGetCmd, jobsDeleteCmd, jobsPublishCmd)
	jobsListCmd.Flags().BoolVar(&flagJSON, "json", false, "Print JSON instead of a table")
}

func runJobsList(cmd *cobra.Command, args []string) error {
	app, err := loadApp(cmd.Context(), bootstrap.ModeReadOnly, nil)
	if err != nil {
		return err
	}
	defer app.Close()

	all, err := app.Jobs.ListAll(cmd.Context())
	if err != nil {
		return err
	}
	if flagJSON {
		return writeJSON(cmd.OutOrStdout(), all)
	}
	writeJobTable(cmd.OutOrStdout(), all)
	return nil
}

func writeJobTable(out io.Writer, all []jobstore.Job) {
	if len(all) == 0 {
		fmt.Fprintln(out, dimStyle.Render("No jobs yet."))
		return
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tPARTS\tCREATED\tOUTPUT")
	for _, j := range all {
		output := j.OutputFile
		if j.Status == jobstore.JobStatusFailed {
			output = j.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%s\t%s\n",
			j.ID,
			statusStyle(j.Status).Render(string(j.Status)),
			j.CompletedParts, j.TotalParts,
			j.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			truncate(output, 60),
		)
	}
	tw.Flush()
}

func runJobsGet(cmd *cobra.Command, args []string) error {
	app, err := loadApp(cmd.Context(), bootstrap.ModeReadOnly, nil)
	if err != nil {
		return err
	}
	defer app.Close()

	job, err := app.Jobs.GetStatus(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), job)
}

func runJobsDelete(cmd *cobra.Command, args []string) error {
	app, err := loadApp(cmd.Context(), bootstrap.ModeReadOnly, nil)
	if err != nil {
		return err
	}
	defer app.Close()

	summary, err := app.Jobs.DeleteJob(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if !summary.Found {
		fmt.Fprintf(out, "Job %s not found\n", args[0])
		return nil
	}
	fmt.Fprintf(out, "%s %s\n", successStyle.Render("Deleted job"), summary.JobID)
	if summary.FileRemoved {
		fmt.Fprintln(out, dimStyle.Render("  audio file removed"))
	}
	if summary.ArtifactRemoved {
		fmt.Fprintln(out, dimStyle.Render("  mirrored artifact removed"))
	}
	return nil
}

func runJobsPublish(cmd *cobra.Command, args []string) error {
	app, err := loadApp(cmd.Context(), bootstrap.ModeReadOnly, nil)
	if err != nil {
		return err
	}
	defer app.Close()

	job, err := app.Jobs.PublishJob(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", successStyle.Render("Published:"), job.ArtifactURL)
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
