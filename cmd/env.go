package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/jobsync/internal/classify"
	"github.com/sells-group/jobsync/internal/config"
	"github.com/sells-group/jobsync/internal/model"
	"github.com/sells-group/jobsync/internal/monitoring"
	"github.com/sells-group/jobsync/internal/pipeline"
	"github.com/sells-group/jobsync/internal/quota"
	"github.com/sells-group/jobsync/internal/store"
	"github.com/sells-group/jobsync/pkg/anthropic"
	"github.com/sells-group/jobsync/pkg/gmail"
)

// initStore opens the configured store and applies the schema.
func initStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "sqlite":
		st, err = store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{MaxConns: cfg.Store.MaxConns})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// credentialSource merges configured keys with the hot-reloaded file.
func credentialSource(c config.AnthropicConfig) quota.CredentialSource {
	ms := quota.MultiSource{quota.StaticSource(c.Keys)}
	if c.CredentialsFile != "" {
		ms = append(ms, quota.FileSource{Path: c.CredentialsFile})
	}
	return ms
}

// ingestEnv holds everything a pipeline run needs.
type ingestEnv struct {
	Store     store.Store
	Quota     *quota.Manager
	Collector *monitoring.Collector
	Driver    *pipeline.Driver
}

func (e *ingestEnv) Close() {
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("close store", zap.Error(err))
	}
}

// initIngest wires the mailbox, the classifier and the store into a driver.
func initIngest(ctx context.Context) (*ingestEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	q, err := quota.NewManager(ctx, credentialSource(cfg.Anthropic), quota.Options{
		RequestsPerMinute: cfg.Anthropic.RequestsPerMinute,
		SafetyMargin:      cfg.Anthropic.SafetyMargin,
		ReloadInterval:    cfg.Anthropic.ReloadInterval,
	})
	if err != nil {
		st.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "init credential pool")
	}
	collector := monitoring.NewCollector(st, q)

	cl := classify.New(q, anthropic.NewFactory(anthropic.Options{BaseURL: cfg.Anthropic.BaseURL}), classify.Options{
		Model:       cfg.Anthropic.Model,
		MaxTokens:   cfg.Anthropic.MaxTokens,
		Temperature: cfg.Anthropic.Temperature,
		Recorder:    collector,
	})

	gm, err := gmail.New(ctx, gmail.Config{
		ClientID:     cfg.Gmail.ClientID,
		ClientSecret: cfg.Gmail.ClientSecret,
		RefreshToken: cfg.Gmail.RefreshToken,
		User:         cfg.Gmail.User,
		PageSize:     cfg.Gmail.PageSize,
		FetchDelay:   cfg.Gmail.FetchDelay,
		BaseURL:      cfg.Gmail.BaseURL,
	})
	if err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}

	driver := pipeline.New(gmailSource{gm}, st, cl, driverOptions(cfg, collector))
	return &ingestEnv{Store: st, Quota: q, Collector: collector, Driver: driver}, nil
}

func driverOptions(c *config.Config, obs pipeline.Observer) pipeline.Options {
	return pipeline.Options{
		BackfillAfter:      c.Pipeline.BackfillAfter,
		SyncLookbackDays:   c.Pipeline.SyncLookbackDays,
		SyncQueryTerms:     c.Gmail.SyncQueryTerm,
		UncertainThreshold: c.Pipeline.UncertainThreshold,
		SkipOtherAbove:     c.Pipeline.SkipOtherAbove,
		BodyExcerptChars:   c.Pipeline.BodyExcerptChars,
		ProgressEvery:      c.Pipeline.ProgressEvery,
		PageDelay:          c.Gmail.PageDelay,
		Observer:           obs,
	}
}

// mailbox is the part of gmail.Client the pipeline reads through.
type mailbox interface {
	List(ctx context.Context, query, pageToken string) (*gmail.Page, error)
	Fetch(ctx context.Context, id string) (*model.Message, error)
}

// gmailSource adapts a mailbox to pipeline.Source.
type gmailSource struct {
	mb mailbox
}

func (s gmailSource) List(ctx context.Context, query, pageToken string) (*pipeline.Page, error) {
	p, err := s.mb.List(ctx, query, pageToken)
	if err != nil {
		return nil, err
	}
	return &pipeline.Page{IDs: p.IDs, NextPageToken: p.NextPageToken}, nil
}

func (s gmailSource) Fetch(ctx context.Context, id string) (*model.Message, error) {
	return s.mb.Fetch(ctx, id)
}
