// Package main is the vidrag CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/vidrag/internal/cli"
	"github.com/hyperjump/vidrag/internal/config"
	"github.com/hyperjump/vidrag/internal/frames"
	"github.com/hyperjump/vidrag/internal/models"
	"github.com/hyperjump/vidrag/internal/server"
	"github.com/hyperjump/vidrag/internal/service"
	"github.com/hyperjump/vidrag/internal/timestamp"
	"github.com/hyperjump/vidrag/internal/watcher"
	"github.com/hyperjump/vidrag/pkg/utils"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/vidrag/config.yaml"

type globalFlags struct {
	configPath string
	debug      bool
}

// loadConfig loads config from path. When path is the default and ./config.yaml
// exists, that file is used instead so commands run from a project dir pick it up.
// Returns the config and the path actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, err := os.Stat(fallback); err == nil {
				path = fallback
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// setup loads config and builds the logger and components for a command.
func setup(ctx context.Context, g *globalFlags) (*config.Config, string, *zap.Logger, *components, error) {
	cfg, path, err := loadConfig(g.configPath)
	if err != nil {
		return nil, "", nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	debug := cfg.Debug || g.debug
	logger, err := utils.NewLogger(debug)
	if err != nil {
		return nil, "", nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger.Debug("config loaded", zap.String("config_path", path), zap.String("backend", cfg.Store.Backend))
	comps, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, "", nil, nil, fmt.Errorf("failed to initialize components: %w", err)
	}
	return cfg, path, logger, comps, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "vidrag",
		Short:         "Semantic search over camera footage",
		Long:          "vidrag indexes described video frames per camera and answers natural-language searches across cameras.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", defaultConfigPath, "config file path")
	root.PersistentFlags().BoolVarP(&g.debug, "debug", "d", false, "enable debug logging")

	root.AddCommand(
		newServerCmd(g),
		newIngestCmd(g),
		newSearchCmd(g),
		newPartitionsCmd(g),
		newScheduleCmd(g),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "vidrag version %s\n", version)
			},
		},
	)
	return root
}

func newServerCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Run the HTTP API and the manifest spool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, path, logger, comps, err := setup(ctx, g)
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer comps.Close()

			spool := watcher.NewSpool(
				cfg.Watch.Directories,
				cfg.Watch.Extensions,
				cfg.Watch.RecursiveOrDefault(),
				func(ctx context.Context, m watcher.Manifest) error {
					_, err := ingestManifestFile(ctx, comps.Ingestor, m.Path, service.VideoMeta{CameraID: m.CameraID, VideoID: m.VideoID})
					return err
				},
				watcher.WithLogger(logger),
			)
			if err := spool.Start(ctx); err != nil {
				return fmt.Errorf("failed to start spool: %w", err)
			}
			defer spool.Stop()
			go spool.SyncExisting()

			srv := server.NewServer(comps.Assistant, comps.Ingestor, comps.Store, cfg, logger, server.WithWatch(spool, path))
			errCh := make(chan error, 1)
			go func() {
				if err := srv.Start(); err != nil && err != http.ErrServerClosed {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("server failed: %w", err)
				}
			case <-ctx.Done():
			}

			logger.Info("Shutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Stop(shutdownCtx)
		},
	}
}

type ingestFlags struct {
	camera    string
	video     string
	videoPath string
	start     string
	output    string
}

func newIngestCmd(g *globalFlags) *cobra.Command {
	f := &ingestFlags{}
	cmd := &cobra.Command{
		Use:   "ingest <manifest.jsonl|->",
		Short: "Index the frame records of a JSONL manifest",
		Long: "Reads one frame record per line. Records without a vector are embedded from their description;\n" +
			"records with only an image are described first. Use - to read from stdin.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cli.ParseOutputFormat(f.output)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			cfg, _, logger, comps, err := setup(ctx, g)
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer comps.Close()

			meta := service.VideoMeta{CameraID: f.camera, VideoID: f.video, VideoPath: f.videoPath}
			if f.start != "" {
				loc, _ := cfg.Location()
				t, err := timestamp.Parse(f.start, loc)
				if err != nil {
					return fmt.Errorf("invalid --start: %w", err)
				}
				meta.Start = t
			}
			if meta.VideoID == "" && args[0] != "-" {
				meta.VideoID = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			}

			var res *models.IngestResult
			if args[0] == "-" {
				res, err = comps.Ingestor.IngestFrames(ctx, meta, frames.NewManifestReader(cmd.InOrStdin()))
			} else {
				res, err = ingestManifestFile(ctx, comps.Ingestor, args[0], meta)
			}
			if res != nil {
				if werr := cli.WriteIngestResult(cmd.OutOrStdout(), res, format); werr != nil {
					return werr
				}
			}
			if err != nil {
				return err
			}
			if res.Status == models.IngestFailed {
				return fmt.Errorf("no partition was written")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&f.camera, "camera", "", "camera id for records without one")
	cmd.Flags().StringVar(&f.video, "video", "", "video id (default: manifest file name)")
	cmd.Flags().StringVar(&f.videoPath, "video-path", "", "path of the source video")
	cmd.Flags().StringVar(&f.start, "start", "", "capture time of offset 0 (legacy DDMMYYYYHHMMSSmmm or ISO)")
	cmd.Flags().StringVarP(&f.output, "output", "o", "text", "output format: text or json")
	return cmd
}

func ingestManifestFile(ctx context.Context, ing *service.Ingestor, path string, meta service.VideoMeta) (*models.IngestResult, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ing.IngestFrames(ctx, meta, frames.NewManifestReader(file))
}

type searchFlags struct {
	cameras   []string
	startDate string
	endDate   string
	startTime string
	endTime   string
	k         int
	output    string
	serverURL string
	assistant bool
}

func (f *searchFlags) request(query string) models.SearchRequest {
	return models.SearchRequest{
		Query:     query,
		Cameras:   f.cameras,
		StartDate: f.startDate,
		EndDate:   f.endDate,
		StartTime: f.startTime,
		EndTime:   f.endTime,
		K:         f.k,
	}
}

func newSearchCmd(g *globalFlags) *cobra.Command {
	f := &searchFlags{}
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search indexed footage",
		Long: "Query is all remaining arguments joined by spaces. Multi-word queries work with or without quotes.\n\n" +
			"Examples:\n" +
			"  vidrag search red truck at the gate\n" +
			"  vidrag search --camera cam1 --camera cam2 person with umbrella\n" +
			"  vidrag search --start-date 2024-03-01 --start-time 18:00 --end-time 23:00 delivery van",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := buildSearchQuery(args)
			if query == "" {
				return fmt.Errorf("query cannot be empty")
			}
			format, err := cli.ParseOutputFormat(f.output)
			if err != nil {
				return err
			}
			req := f.request(query)

			if f.serverURL != "" {
				resp, err := searchViaHTTP(cmd.Context(), f.serverURL, req)
				if err != nil {
					return err
				}
				return cli.WriteSearchResponse(cmd.OutOrStdout(), resp, format, time.Local)
			}

			ctx := cmd.Context()
			cfg, _, logger, comps, err := setup(ctx, g)
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer comps.Close()

			var resp *models.SearchResponse
			if f.assistant {
				resp, err = comps.Assistant.Handle(ctx, req)
			} else {
				resp, err = comps.Assistant.Search(ctx, req)
			}
			if err != nil {
				return err
			}
			loc, _ := cfg.Location()
			return cli.WriteSearchResponse(cmd.OutOrStdout(), resp, format, loc)
		},
	}
	cmd.Flags().StringSliceVar(&f.cameras, "camera", nil, "camera id to search (repeatable; default all)")
	cmd.Flags().StringVar(&f.startDate, "start-date", "", "earliest capture date or timestamp")
	cmd.Flags().StringVar(&f.endDate, "end-date", "", "latest capture date or timestamp")
	cmd.Flags().StringVar(&f.startTime, "start-time", "", "earliest time of day, HH:MM[:SS]")
	cmd.Flags().StringVar(&f.endTime, "end-time", "", "latest time of day, HH:MM[:SS]")
	cmd.Flags().IntVar(&f.k, "k", 0, "number of results (default from config)")
	cmd.Flags().StringVarP(&f.output, "output", "o", "text", "output format: text or json")
	cmd.Flags().StringVar(&f.serverURL, "server", "", "search through a running server at this URL instead of opening the store")
	cmd.Flags().BoolVar(&f.assistant, "assistant", false, "route the message by intent, answering chat instead of searching")
	return cmd
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func searchViaHTTP(ctx context.Context, serverURL string, req models.SearchRequest) (*models.SearchResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(serverURL, "/")+"/api/v1/search", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var out models.SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

func newPartitionsCmd(g *globalFlags) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "partitions",
		Short: "List camera partitions and their point counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cli.ParseOutputFormat(output)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			_, _, logger, comps, err := setup(ctx, g)
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer comps.Close()

			names, err := comps.Store.ListPartitions(ctx)
			if err != nil {
				return err
			}
			parts := make([]cli.PartitionCount, 0, len(names))
			for _, name := range names {
				n, err := comps.Store.Count(ctx, name)
				if err != nil {
					return fmt.Errorf("count %s: %w", name, err)
				}
				parts = append(parts, cli.PartitionCount{Name: name, Points: n})
			}
			return cli.WritePartitions(cmd.OutOrStdout(), parts, format)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text or json")
	return cmd
}

type scheduleFlags struct {
	fps      float64
	frames   int
	start    string
	interval float64
}

func newScheduleCmd(g *globalFlags) *cobra.Command {
	f := &scheduleFlags{}
	cmd := &cobra.Command{
		Use:   "schedule <video>",
		Short: "Print the frames to sample from a video as a JSONL manifest skeleton",
		Long: "Emits one record per sampled frame with frame_id, timestamp_str, relative_offset and\n" +
			"clock_time_seconds. The extraction step fills in image or description and feeds the\n" +
			"result to 'vidrag ingest'.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(g.configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			loc, err := cfg.Location()
			if err != nil {
				return err
			}
			start, err := timestamp.Parse(f.start, loc)
			if err != nil {
				return fmt.Errorf("invalid --start: %w", err)
			}
			interval := f.interval
			if interval <= 0 {
				interval = cfg.Ingest.SampleIntervalSeconds
			}
			slots, err := frames.Schedule(args[0], start, f.fps, f.frames, interval)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, s := range slots {
				rec := models.FrameRecord{
					FrameID:          s.FrameID,
					TimestampStr:     s.TimestampStr,
					RelativeOffset:   s.RelativeOffset,
					ClockTimeSeconds: s.ClockTimeSeconds,
					VideoPath:        args[0],
				}
				if err := enc.Encode(rec); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&f.fps, "fps", 0, "video frame rate")
	cmd.Flags().IntVar(&f.frames, "frames", 0, "total frame count")
	cmd.Flags().StringVar(&f.start, "start", "", "capture time of the first frame (legacy DDMMYYYYHHMMSSmmm or ISO)")
	cmd.Flags().Float64Var(&f.interval, "interval", 0, "seconds between samples (default from config)")
	_ = cmd.MarkFlagRequired("fps")
	_ = cmd.MarkFlagRequired("frames")
	_ = cmd.MarkFlagRequired("start")
	return cmd
}
