package commands

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shuttlefile/shuttle/internal/auth"
	"github.com/shuttlefile/shuttle/internal/pool"
	"github.com/shuttlefile/shuttle/internal/transfer"
	"github.com/shuttlefile/shuttle/internal/transport"
	"github.com/shuttlefile/shuttle/pkg/config"
	"github.com/shuttlefile/shuttle/pkg/remoteconfig"
)

// transferFlags are the flags shared by upload and download.
type transferFlags struct {
	endpoint      string
	transportKind string
	token         string
	chunkSize     int64
	concurrency   int
	quality       string
	maxRetries    int
}

func addTransferFlags(cmd *cobra.Command, f *transferFlags) {
	cmd.Flags().StringVarP(&f.endpoint, "endpoint", "e", "", "Endpoint URL (overrides config)")
	cmd.Flags().StringVar(&f.transportKind, "transport", "", "Transport to use: http or socket (default from config)")
	cmd.Flags().StringVar(&f.token, "token", "", "Bearer token (overrides SHUTTLE_TOKEN and config)")
	cmd.Flags().Int64Var(&f.chunkSize, "chunk-size", 0, "Requested chunk size in bytes (0 = adaptive)")
	cmd.Flags().IntVarP(&f.concurrency, "concurrency", "c", 0, "Chunks in flight (0 = engine default)")
	cmd.Flags().StringVar(&f.quality, "quality", "", "Link quality hint: fast, medium or slow")
	cmd.Flags().IntVar(&f.maxRetries, "max-retries", 0, "Per-chunk retry limit (0 = engine default)")
}

// transferSetup is everything a transfer command needs to run the engine.
type transferSetup struct {
	endpoint string
	pool     *pool.Pool
	engine   *transfer.Engine
	options  transfer.Options
	include  []string // directory-upload selection patterns
	exclude  []string
}

// resolveTransfer merges flags, an optional shuttle.toml in the working
// directory, and the user config into one engine setup. Precedence is
// flag > project file > user config.
func resolveTransfer(cmd *cobra.Command, f transferFlags) (*transferSetup, error) {
	cfg, err := config.GetConfigFromContext(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// A shuttle.toml in the working directory pins project defaults.
	var project *remoteconfig.ProjectConfig
	if _, statErr := os.Stat(remoteconfig.DefaultFileName); statErr == nil {
		project, err = remoteconfig.Load(remoteconfig.DefaultFileName)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", remoteconfig.DefaultFileName, err)
		}
		if err := remoteconfig.Validate(project); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", remoteconfig.DefaultFileName, err)
		}
	}

	endpoint := f.endpoint
	if endpoint == "" && project != nil {
		endpoint = project.Endpoint.URL
	}
	endpoint, err = cfg.GetEndpoint(endpoint)
	if err != nil {
		return nil, err
	}

	kind := f.transportKind
	if kind == "" && project != nil {
		kind = project.Endpoint.Transport
	}
	if kind == "" {
		kind = cfg.GetTransport()
	}
	kind = strings.ToLower(kind)
	switch kind {
	case "http", "socket":
	case "ws", "websocket":
		kind = "socket"
	default:
		return nil, fmt.Errorf("invalid transport %q: must be http or socket", kind)
	}

	token := f.token
	if token == "" {
		token = cfg.GetToken()
	}
	tokens := auth.StaticToken(token)

	opts := transfer.Options{
		ChunkSize:   f.chunkSize,
		Concurrency: f.concurrency,
		MaxRetries:  f.maxRetries,
		Quality:     transfer.NetworkQuality(strings.ToLower(f.quality)),
	}
	if project != nil {
		if opts.ChunkSize == 0 {
			opts.ChunkSize = project.Transfer.ChunkSize
		}
		if opts.Concurrency == 0 {
			opts.Concurrency = project.Transfer.Concurrency
		}
		if opts.MaxRetries == 0 {
			opts.MaxRetries = project.Transfer.MaxRetries
		}
		if opts.Quality == "" {
			opts.Quality = transfer.NetworkQuality(project.Transfer.Quality)
		}
	}
	if opts.ChunkSize == 0 {
		opts.ChunkSize = cfg.ChunkSize
	}
	if opts.Concurrency == 0 {
		opts.Concurrency = cfg.Concurrency
	}
	if opts.Quality == "" {
		opts.Quality = transfer.NetworkQuality(cfg.Quality)
	}
	switch opts.Quality {
	case "", transfer.QualityFast, transfer.QualityMedium, transfer.QualitySlow:
	default:
		return nil, fmt.Errorf("invalid quality %q: must be fast, medium or slow", opts.Quality)
	}

	include := remoteconfig.DefaultInclude
	exclude := remoteconfig.DefaultExclude
	if project != nil {
		include = project.Files.Include
		exclude = project.Files.Exclude
	}

	dial := newDialer(kind, tokens)
	p := pool.New(dial)

	return &transferSetup{
		endpoint: endpoint,
		pool:     p,
		engine:   transfer.NewEngine(p),
		options:  opts,
		include:  include,
		exclude:  exclude,
	}, nil
}

// newDialer builds the pool's dial function for the chosen transport.
func newDialer(kind string, tokens auth.TokenSource) transport.Dialer {
	return func(ctx context.Context, endpoint string) (transport.Transport, error) {
		if kind == "socket" {
			return transport.NewSocket(endpoint, transport.WithSocketTokenSource(tokens))
		}
		return transport.NewHTTP(endpoint, transport.WithTokenSource(tokens))
	}
}
