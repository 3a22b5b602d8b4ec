package main

import (
	"context"
	"os"
	"time"

	"github.com/k-capehart/go-salesforce/v3"
	"github.com/rotisserie/eris"

	"github.com/sells-group/dealflow/internal/classify"
	"github.com/sells-group/dealflow/internal/comms"
	"github.com/sells-group/dealflow/internal/progression"
	"github.com/sells-group/dealflow/internal/resilience"
	"github.com/sells-group/dealflow/internal/store"
	"github.com/sells-group/dealflow/pkg/anthropic"
	sfpkg "github.com/sells-group/dealflow/pkg/salesforce"
)

// env holds the wired application dependencies.
type env struct {
	Store    store.Store
	Runner   *progression.Runner
	Breakers *resilience.ServiceBreakers
}

func (e *env) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "dealflow.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initSalesforce() (sfpkg.Client, error) {
	if cfg.Salesforce.ClientID == "" {
		return nil, eris.New("salesforce client ID is required (DEALFLOW_SALESFORCE_CLIENT_ID)")
	}

	pemData, err := os.ReadFile(cfg.Salesforce.KeyPath)
	if err != nil {
		return nil, eris.Wrap(err, "read salesforce JWT private key")
	}

	sf, err := salesforce.Init(salesforce.Creds{
		Domain:         cfg.Salesforce.LoginURL,
		Username:       cfg.Salesforce.Username,
		ConsumerKey:    cfg.Salesforce.ClientID,
		ConsumerRSAPem: string(pemData),
	})
	if err != nil {
		return nil, eris.Wrap(err, "init salesforce")
	}

	return sfpkg.NewClient(sf, sfpkg.WithRateLimit(cfg.Salesforce.RateLimitRPS)), nil
}

// initEnv wires the full pipeline: store, Salesforce comms source, and the
// Claude classifier with per-service circuit breakers.
func initEnv(ctx context.Context) (*env, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	sfClient, err := initSalesforce()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	if cfg.Anthropic.Key == "" {
		_ = st.Close()
		return nil, eris.New("anthropic API key is required (DEALFLOW_ANTHROPIC_KEY)")
	}
	aiClient := anthropic.NewClient(cfg.Anthropic.Key)

	breakers := resilience.NewServiceBreakers(resilience.DefaultCircuitBreakerConfig())
	classifier := classify.NewClaudeClassifier(aiClient, cfg.Anthropic.Model, breakers.Get("anthropic"))
	aggregator := comms.NewAggregator(comms.NewSalesforceSource(sfClient))

	return &env{
		Store:    st,
		Runner:   progression.NewRunner(st, aggregator, classifier),
		Breakers: breakers,
	}, nil
}

// runOptions builds progression options from config defaults.
func runOptions() progression.Options {
	return progression.Options{
		BatchSize:    cfg.Progression.BatchSize,
		LookbackDays: cfg.Progression.DaysLookback,
		DryRun:       cfg.Progression.DryRun,
		BatchDelay:   time.Duration(cfg.Progression.BatchDelaySecs) * time.Second,
		DealTimeout:  time.Duration(cfg.Progression.DealTimeoutSecs) * time.Second,
	}
}
