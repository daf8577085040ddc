package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/codebuildervaibhav/speaker-transcription/internal/cleanup"
	"github.com/codebuildervaibhav/speaker-transcription/internal/config"
	"github.com/codebuildervaibhav/speaker-transcription/internal/logging"
	"github.com/codebuildervaibhav/speaker-transcription/internal/output"
	"github.com/codebuildervaibhav/speaker-transcription/internal/pipeline"
	"github.com/codebuildervaibhav/speaker-transcription/internal/storage"
	"github.com/codebuildervaibhav/speaker-transcription/internal/transcription"
)

type cli struct {
	configPath string
}

func newRootCmd(in io.Reader, out, errOut io.Writer) *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:          "transcribe",
		Short:        "Speaker-attributed transcription of audio and video files",
		SilenceUsage: true,
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "YAML config file (defaults and TRANSCRIBE_* env when empty)")

	root.AddCommand(
		c.processCmd(),
		c.diarizeCmd(),
		c.transcribeCmd(),
		c.driveAuthCmd(),
	)
	return root
}

func (c *cli) processCmd() *cobra.Command {
	var (
		name   string
		format string
	)
	cmd := &cobra.Command{
		Use:   "process <input>",
		Short: "Normalize, diarize, transcribe and align one recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, log, closeFn, err := c.pipeline()
			if err != nil {
				return err
			}
			defer closeFn()

			result, err := p.Run(cmd.Context(), pipeline.Request{
				JobID:     uuid.New().String(),
				InputPath: args[0],
				BaseName:  baseName(name, args[0]),
			})
			if err != nil {
				if result != nil && result.Artifacts.TurnsPath != "" {
					fmt.Fprintf(cmd.ErrOrStderr(), "speaker turns kept in %s\n", result.Artifacts.TurnsPath)
				}
				return err
			}
			for _, w := range result.Warnings {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", w)
			}
			log.Infow("transcript written", "base_name", result.BaseName, "path", result.Artifacts.TranscriptPath, "segments", len(result.Segments))

			switch format {
			case "json":
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			case "md", "markdown":
				_, err := io.WriteString(cmd.OutOrStdout(), output.RenderMarkdown(output.Metadata{
					Title:     result.BaseName,
					Source:    args[0],
					Generated: result.ProcessedAt.Format("2006-01-02 15:04:05 MST"),
					Duration:  result.Duration,
				}, result.Segments))
				return err
			default:
				_, err := io.WriteString(cmd.OutOrStdout(), output.RenderText(result.Segments))
				return err
			}
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "base name for stored artifacts (defaults to the input file name)")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format: text|json|md")
	return cmd
}

func (c *cli) diarizeCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "diarize <audio>",
		Short: "Store the canonical WAV and speaker turns for later transcription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, _, closeFn, err := c.pipeline()
			if err != nil {
				return err
			}
			defer closeFn()

			base := baseName(name, args[0])
			turns, artifacts, err := p.Diarize(cmd.Context(), pipeline.Request{
				JobID:     base,
				InputPath: args[0],
				BaseName:  base,
			})
			if err := persistenceWarning(cmd, err); err != nil {
				return err
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "saved %s and %s\n", artifacts.AudioPath, artifacts.TurnsPath)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(turns)
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "base name for stored artifacts (defaults to the input file name)")
	return cmd
}

func (c *cli) transcribeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transcribe <base_name>",
		Short: "Transcribe a stored WAV and attribute the words to its stored speaker turns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base := args[0]
			if storage.SanitizeBaseName(base) != base {
				return fmt.Errorf("invalid base name %q", base)
			}

			p, _, closeFn, err := c.pipeline()
			if err != nil {
				return err
			}
			defer closeFn()

			segments, path, err := p.TranscribeStored(cmd.Context(), base)
			if err := persistenceWarning(cmd, err); err != nil {
				return err
			}
			if path != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "saved %s\n", path)
			}
			_, err = io.WriteString(cmd.OutOrStdout(), output.RenderText(segments))
			return err
		},
	}
}

func (c *cli) driveAuthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drive-auth",
		Short: "Authorize Google Drive uploads and store the OAuth token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(c.configPath)
			if err != nil {
				return err
			}
			if err := storage.AuthorizeDrive(cmd.Context(), cfg.GoogleDrive.CredentialsFile, cfg.GoogleDrive.TokenFile, cmd.InOrStdin(), cmd.OutOrStdout()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "token saved to %s\n", cfg.GoogleDrive.TokenFile)
			return nil
		},
	}
}

// pipeline builds the models and stores from the config. The returned func
// releases them.
func (c *cli) pipeline() (*pipeline.Pipeline, *zap.SugaredLogger, func(), error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := cleanup.EnsureDirs(cfg.Storage.TempDir, cfg.Storage.AudioDir, cfg.Storage.TurnsDir, cfg.Storage.TranscriptDir); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create storage directories: %w", err)
	}

	models, err := transcription.NewModels(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	store := storage.NewLocalStorage(cfg.Storage.AudioDir, cfg.Storage.TurnsDir, cfg.Storage.TranscriptDir)
	p, err := pipeline.New(models, store, pipeline.Timeouts{
		Media:         config.Timeout(cfg.Media.TimeoutSeconds),
		Diarization:   config.Timeout(cfg.Diarization.TimeoutSeconds),
		Transcription: config.Timeout(cfg.Transcription.TimeoutSeconds),
	}, nil, log)
	if err != nil {
		models.Close()
		return nil, nil, nil, err
	}

	return p, log, func() {
		models.Close()
		_ = log.Sync()
	}, nil
}

func baseName(name, input string) string {
	if name != "" {
		return storage.SanitizeBaseName(name)
	}
	return storage.SanitizeBaseName(input)
}

// persistenceWarning downgrades a storage failure to a warning; the computed
// data is still printed.
func persistenceWarning(cmd *cobra.Command, err error) error {
	if err == nil {
		return nil
	}
	if transcription.KindOf(err) == transcription.PersistenceFailed {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
		return nil
	}
	return err
}
