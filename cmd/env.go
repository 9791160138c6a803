package main

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/parcelpicker/internal/assistant"
	"github.com/sells-group/parcelpicker/internal/config"
	"github.com/sells-group/parcelpicker/internal/fetcher"
	"github.com/sells-group/parcelpicker/internal/lookup"
	"github.com/sells-group/parcelpicker/internal/parcel"
	"github.com/sells-group/parcelpicker/internal/resilience"
	"github.com/sells-group/parcelpicker/internal/store"
	anthropicpkg "github.com/sells-group/parcelpicker/pkg/anthropic"
	"github.com/sells-group/parcelpicker/pkg/arcgis"
	"github.com/sells-group/parcelpicker/pkg/geocode"
)

// lookupEnv holds the store, the provider client and the runner built on them.
type lookupEnv struct {
	Store    store.Store
	Provider *parcel.Client
	Runner   *lookup.Runner
}

// Close releases resources held by the environment.
func (e *lookupEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initLookup validates the config for mode, opens and migrates the store, and
// builds the runner. Callers should defer env.Close().
func initLookup(ctx context.Context, mode string) (*lookupEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	provider := newProvider(cfg.Provider)
	return &lookupEnv{
		Store:    st,
		Provider: provider,
		Runner:   lookup.NewRunner(st, provider, newAssistant(cfg.Anthropic), cfg.Lookup),
	}, nil
}

// openStore opens the configured store and applies migrations.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

func initStore(ctx context.Context, sc config.StoreConfig) (store.Store, error) {
	switch sc.Driver {
	case "sqlite":
		dsn := sc.DatabaseURL
		if dsn == "" {
			dsn = "parcelpicker.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, sc.DatabaseURL, &store.PoolConfig{
			MaxConns: sc.MaxConns,
			MinConns: sc.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", sc.Driver)
	}
}

// newProvider wires the parcel layer and the geocoder onto transports that
// share one throttle, so the whole process respects the minimum interval.
func newProvider(pc config.ProviderConfig) *parcel.Client {
	throttle := resilience.NewThrottle(pc.MinInterval())
	zap.L().Debug("provider: outbound pacing", zap.Duration("min_interval", throttle.Interval()))
	retry := resilience.FromRetrySettings(pc.Retries, pc.RetryBackoffMs)

	transport := func(service string) *fetcher.HTTPFetcher {
		return fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
			Service:   service,
			UserAgent: pc.UserAgent,
			Timeout:   pc.Timeout(),
			Retry:     retry,
			Throttle:  throttle,
		})
	}

	layer := arcgis.NewClient(transport("arcgis"),
		arcgis.WithQueryURL(pc.ParcelQueryURL),
		arcgis.WithSource(pc.SourceTag),
		arcgis.WithFields(arcgis.Fields{ID: pc.IDField, Owner: pc.OwnerField, Address: pc.AddressField}),
	)
	geocoder := geocode.NewClient(transport("census"),
		geocode.WithBaseURL(pc.GeocodeURL),
		geocode.WithBenchmark(pc.GeocodeBenchmark),
	)

	return parcel.NewClient(layer, geocoder, parcel.CacheConfig{
		MaxEntries: pc.CacheMaxEntries,
		TTL:        pc.CacheTTL(),
	})
}

// newAssistant returns the Anthropic assistant when it is enabled and keyed,
// otherwise a no-op.
func newAssistant(ac config.AnthropicConfig) assistant.Assistant {
	if !ac.Configured() {
		if ac.Enabled {
			zap.L().Warn("assistant enabled without anthropic.key; continuing without it")
		}
		return assistant.Noop{}
	}

	var opts []option.RequestOption
	if ac.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(ac.BaseURL))
	}
	return assistant.NewAnthropic(anthropicpkg.NewClient(ac.Key, opts...), assistant.Config{
		Model:     ac.Model,
		MaxTokens: ac.MaxTokens,
	})
}
