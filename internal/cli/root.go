package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/apresai/voiceover/internal/bootstrap"
	"github.com/apresai/voiceover/internal/config"
	"github.com/apresai/voiceover/internal/jobstore"
	"github.com/apresai/voiceover/internal/mcpserver"
	"github.com/apresai/voiceover/internal/observability"
	"github.com/apresai/voiceover/internal/pipeline"
	"github.com/apresai/voiceover/internal/progress"
	"github.com/apresai/voiceover/internal/script"
)

var Version = "dev"

var initTracer = observability.InitTracer

var rootCmd = &cobra.Command{
	Use:           "voiceover",
	Short:         "Generate multi-voice audio from scripts with durable job tracking",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "voiceover %s\n", Version)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP server (stdio or streamable HTTP)",
	RunE:  runServe,
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate audio from text or a script file",
	Long:  "Generate audio from --text or from a script file (--script FILE, or --script - for stdin). Scripts are a JSON array of {text, voice_id?, actor?}, an object with a \"script\" array, or plain text.",
	RunE:  runGenerate,
}

var (
	flagConfig    string
	flagTransport string
	flagPort      int
	flagText      string
	flagVoice     string
	flagScript    string
	flagVerbose   bool
	flagQuiet     bool
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5555")).Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#555555"))
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F1C40F"))
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "YAML config file (default $VOICEOVER_CONFIG)")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(generateCmd)

	serveCmd.Flags().StringVar(&flagTransport, "transport", "", "Transport: stdio or http (overrides MCP_TRANSPORT)")
	serveCmd.Flags().IntVarP(&flagPort, "port", "p", 0, "HTTP port (overrides PORT)")

	generateCmd.Flags().StringVarP(&flagText, "text", "t", "", "Text to speak with a single voice")
	generateCmd.Flags().StringVar(&flagVoice, "voice", "", "Voice ID for --text (defaults to ELEVENLABS_VOICE_ID)")
	generateCmd.Flags().StringVarP(&flagScript, "script", "s", "", "Script file path, or - for stdin")
	generateCmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "Print the diagnostic trace on failure")
	generateCmd.Flags().BoolVarP(&flagQuiet, "quiet", "q", false, "Disable the progress display")
}

func Execute() error {
	return rootCmd.Execute()
}

// loadApp reads configuration and wires the application for a command.
func loadApp(ctx context.Context, mode bootstrap.Mode, override func(*config.Config)) (*bootstrap.App, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if override != nil {
		override(&cfg)
	}
	logger := observability.InitLogger(cfg.Log.Level, cfg.Log.Format)
	return bootstrap.New(ctx, cfg, mode, logger)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app, err := loadApp(ctx, bootstrap.ModeSynthesis, func(cfg *config.Config) {
		if flagTransport != "" {
			cfg.Server.Transport = flagTransport
		}
		if flagPort != 0 {
			cfg.Server.Port = flagPort
		}
	})
	if err != nil {
		return err
	}
	defer app.Close()

	shutdownTracer, err := initTracer(ctx, "voiceover-mcp", Version)
	if err != nil {
		app.Log.Warn("Failed to init tracer, continuing without tracing", "error", err)
	} else {
		defer func() {
			if err := shutdownTracer(context.Background()); err != nil {
				app.Log.Error("Tracer shutdown error", "error", err)
			}
		}()
	}

	srv := mcpserver.New(mcpserver.Config{
		Name:      "voiceover",
		Version:   Version,
		Transport: app.Config.Server.Transport,
		Port:      app.Config.Server.Port,
		AuthToken: app.Config.Server.AuthToken,
	}, app.Jobs, app.Log)

	if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

func runGenerate(cmd *cobra.Command, args []string) error {
	if flagText == "" && flagScript == "" {
		return fmt.Errorf("either --text (-t) or --script (-s) is required")
	}
	if flagText != "" && flagScript != "" {
		return fmt.Errorf("--text and --script are mutually exclusive")
	}

	segments, err := readSegments(cmd.InOrStdin())
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app, err := loadApp(ctx, bootstrap.ModeSynthesis, nil)
	if err != nil {
		return err
	}
	defer app.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %d segment(s)\n", titleStyle.Render("Generating audio:"), len(segments))

	var onProgress progress.Callback
	if !flagQuiet {
		r := progress.NewBarRenderer(os.Stdout)
		defer r.Finish()
		onProgress = r.Handle
	}

	job, err := app.Jobs.CreateAndRun(ctx, segments, onProgress)
	if err != nil {
		printFailure(out, job, err)
		return fmt.Errorf("generation failed")
	}
	fmt.Fprintf(out, "%s %s\n", successStyle.Render("Audio generation successful. File saved as:"), job.OutputFile)
	if job.ArtifactURL != "" {
		fmt.Fprintf(out, "  %s %s\n", dimStyle.Render("Artifact:"), job.ArtifactURL)
	}
	return nil
}

func readSegments(stdin io.Reader) ([]script.Segment, error) {
	if flagText != "" {
		text := strings.TrimSpace(flagText)
		if text == "" {
			return nil, fmt.Errorf("--text is empty")
		}
		seg := script.Segment{Text: text}
		if flagVoice != "" {
			voice := flagVoice
			seg.VoiceID = &voice
		}
		return []script.Segment{seg}, nil
	}

	var data []byte
	var err error
	if flagScript == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(flagScript)
	}
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return script.Parse(string(data))
}

func printFailure(w io.Writer, job *jobstore.Job, err error) {
	msg := err.Error()
	var trace []string
	var synthErr *pipeline.SynthesisError
	if errors.As(err, &synthErr) {
		msg = synthErr.Message
		trace = synthErr.Trace
	}
	fmt.Fprintf(w, "%s %s\n", errorStyle.Render("Error generating audio:"), msg)
	if job != nil {
		fmt.Fprintf(w, "  %s %s\n", dimStyle.Render("Job:"), job.ID)
	}
	if flagVerbose && len(trace) > 0 {
		fmt.Fprintf(w, "\n%s\n", dimStyle.Render("Debug info:"))
		for _, line := range trace {
			fmt.Fprintf(w, "  %s\n", line)
		}
	}
}

func statusStyle(status jobstore.JobStatus) lipgloss.Style {
	switch status {
	case jobstore.JobStatusCompleted:
		return successStyle
	case jobstore.JobStatusFailed:
		return errorStyle
	default:
		return pendingStyle
	}
}
