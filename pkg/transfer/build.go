package transfer

import (
	"context"
	"fmt"
	"net/http"

	"attachdl/internal/downloader"
	"attachdl/pkg/auth"
	"attachdl/pkg/checkpoint"
	"attachdl/pkg/config"
	"attachdl/pkg/logger"
	"attachdl/pkg/paginator"
	"attachdl/pkg/ratelimit"
	"attachdl/pkg/recorder"
	"attachdl/pkg/retry"
	"attachdl/pkg/salesforce"
	"attachdl/pkg/storage"
)

// BuildOptions supplies what a Config does not carry.
type BuildOptions struct {
	// Account is used for the SOAP login unless the config carries an access token
	Account  *auth.Account
	Observer Observer
	Logger   logger.Logger
	// HTTPClient overrides the client used for API calls and content downloads
	HTTPClient *http.Client
}

// Runner is an Engine together with the resources it was built from.
type Runner struct {
	*Engine
	Sessions   *salesforce.SessionManager
	Checkpoint *checkpoint.FileStore
	sink       storage.Sink
}

// Close releases the destination. Recorder sinks are closed by Run.
func (r *Runner) Close() error {
	return r.sink.Close()
}

// NewFromConfig assembles a ready-to-run engine from validated configuration.
func NewFromConfig(ctx context.Context, cfg *config.Config, opts BuildOptions) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	log := opts.Logger
	if log == nil {
		log = logger.GetLogger()
	}

	authenticator, err := authenticatorFor(cfg, opts)
	if err != nil {
		return nil, err
	}
	sessions := salesforce.NewSessionManager(authenticator, log)

	limiter := ratelimit.Limiter(ratelimit.Unlimited{})
	if cfg.Download.RequestsPerMinute > 0 {
		limiter = ratelimit.PerMinute(cfg.Download.RequestsPerMinute)
	}

	client := salesforce.NewClient(sessions, salesforce.ClientOptions{
		APIVersion: cfg.Salesforce.APIVersion,
		Timeout:    cfg.Download.DownloadTimeout,
		HTTPClient: opts.HTTPClient,
		Limiter:    limiter,
		Logger:     log,
	})

	policy := PolicyFromConfig(cfg.Retry, log)

	pag, err := paginator.New(client, policy, cfg.Download.BatchSize, log)
	if err != nil {
		return nil, err
	}

	// downloads are bounded per attempt by the worker pool, not by the client
	contentClient := opts.HTTPClient
	if contentClient == nil {
		contentClient = &http.Client{}
	}

	var sink storage.Sink
	if cfg.Download.DestinationBucket != "" {
		sink, err = storage.OpenBucketStore(ctx, cfg.Download.DestinationBucket, contentClient, log)
	} else {
		sink, err = storage.NewFileStore(cfg.Download.DestinationDirectory, contentClient, log)
	}
	if err != nil {
		return nil, err
	}

	pool, err := downloader.NewWorkerPool(downloader.Options{
		Workers: cfg.Download.MaxConcurrentWorkers,
		Source:  client,
		Sink:    sink,
		Policy:  policy,
		Limiter: limiter,
		Timeout: cfg.Download.DownloadTimeout,
		Logger:  log,
	})
	if err != nil {
		sink.Close()
		return nil, err
	}

	store, err := CheckpointStore(cfg, log)
	if err != nil {
		sink.Close()
		return nil, err
	}

	sinks, err := OpenSinks(ctx, cfg.State)
	if err != nil {
		sink.Close()
		return nil, err
	}

	engine, err := New(Deps{
		Paginator: pag,
		Pool:      pool,
		Store:     store,
		Sinks:     sinks,
		Observer:  opts.Observer,
		Logger:    log,
	})
	if err != nil {
		sink.Close()
		for _, s := range sinks {
			s.Close()
		}
		return nil, err
	}

	return &Runner{
		Engine:     engine,
		Sessions:   sessions,
		Checkpoint: store,
		sink:       sink,
	}, nil
}

func authenticatorFor(cfg *config.Config, opts BuildOptions) (salesforce.Authenticator, error) {
	sf := cfg.Salesforce
	if sf.AccessToken != "" {
		return salesforce.StaticSession{InstanceURL: sf.InstanceURL, AccessToken: sf.AccessToken}, nil
	}

	acct := opts.Account
	if acct == nil || acct.Username == "" || acct.Password == "" {
		return nil, auth.ErrCredentialsNotFound
	}
	loginURL := sf.LoginURL
	if acct.LoginURL != "" {
		loginURL = acct.LoginURL
	}
	return &salesforce.SOAPLogin{
		LoginURL:      loginURL,
		APIVersion:    sf.APIVersion,
		Username:      acct.Username,
		Password:      acct.Password,
		SecurityToken: acct.SecurityToken,
		HTTPClient:    opts.HTTPClient,
	}, nil
}

// PolicyFromConfig builds the retry policy shared by page fetches and downloads.
func PolicyFromConfig(rc config.RetryConfig, log logger.Logger) *retry.Policy {
	return retry.NewPolicy(&retry.Config{
		MaxAttempts: rc.MaxAttempts,
		Backoff: &retry.ExponentialBackoff{
			BaseDelay:    rc.BaseDelay,
			MaxDelay:     rc.MaxDelay,
			Multiplier:   2.0,
			JitterFactor: rc.JitterFactor,
		},
		MaxDelay: rc.MaxDelay,
		Logger:   log,
	})
}

// CheckpointStore opens the configured checkpoint file, or the default one under the data directory.
func CheckpointStore(cfg *config.Config, log logger.Logger) (*checkpoint.FileStore, error) {
	return checkpoint.NewFileStore(cfg.State.CheckpointFile, log)
}

// OpenSinks opens the CSV logs and, when configured, the SQLite ledger.
func OpenSinks(ctx context.Context, sc config.StateConfig) ([]recorder.Sink, error) {
	csvSink, err := recorder.NewCSVSink(sc.MetadataLog, sc.ErrorLog)
	if err != nil {
		return nil, err
	}
	sinks := []recorder.Sink{csvSink}

	if sc.LedgerDB != "" {
		ledger, err := recorder.OpenLedger(ctx, sc.LedgerDB)
		if err != nil {
			csvSink.Close()
			return nil, err
		}
		sinks = append(sinks, ledger)
	}
	return sinks, nil
}
