package main

import (
	"context"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/lexleads/internal/config"
	"github.com/sells-group/lexleads/internal/intent"
	"github.com/sells-group/lexleads/internal/model"
	"github.com/sells-group/lexleads/internal/monitoring"
	"github.com/sells-group/lexleads/internal/publish"
	"github.com/sells-group/lexleads/internal/resilience"
	"github.com/sells-group/lexleads/internal/search"
	"github.com/sells-group/lexleads/internal/store"
	"github.com/sells-group/lexleads/internal/structure"
	"github.com/sells-group/lexleads/internal/usage"
	"github.com/sells-group/lexleads/internal/workflow"
	anthropicpkg "github.com/sells-group/lexleads/pkg/anthropic"
	"github.com/sells-group/lexleads/pkg/google"
	"github.com/sells-group/lexleads/pkg/notion"
	"github.com/sells-group/lexleads/pkg/perplexity"
	"github.com/sells-group/lexleads/pkg/salesforce"
	"github.com/sells-group/lexleads/pkg/serpapi"
)

const (
	salesforceRPS = 5
	notionRPS     = 3
)

// appEnv holds the initialized store, usage sinks and orchestrator shared by
// the discover and serve commands.
type appEnv struct {
	Store     store.Store // nil when store.driver is none
	Redis     *redis.Client
	Usage     usage.Sink
	UsageRead usage.Reader
	Breakers  *resilience.ServiceBreakers
	Selector  *search.Selector
	Orch      *workflow.Orchestrator
}

// Close waits for pending usage writes, then releases resources.
func (e *appEnv) Close() {
	if e.Orch != nil {
		e.Orch.Wait()
	}
	if e.Redis != nil {
		_ = e.Redis.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// Collector builds the stats collector over whatever sources are configured.
func (e *appEnv) Collector() *monitoring.Collector {
	var (
		runs     monitoring.RunSummarizer
		reader   monitoring.UsageReader
		breakers monitoring.BreakerStates
	)
	if e.Store != nil {
		runs = e.Store
	}
	if e.UsageRead != nil {
		reader = e.UsageRead
	}
	if e.Breakers != nil {
		breakers = e.Breakers
	}
	return monitoring.NewCollector(runs, reader, breakers)
}

// initApp validates config for mode and wires the pipeline. Callers should
// defer env.Close().
func initApp(ctx context.Context, mode string, onChange func(model.Snapshot)) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	env, err := initStorage(ctx)
	if err != nil {
		return nil, err
	}

	inv, breakers := newInvoker(cfg)
	env.Breakers = breakers

	clients := newClients(cfg)
	env.Selector = search.NewSelector(search.NewChain(cfg, clients, inv), keyHint(cfg.SerpAPI.Key))
	zap.L().Info("search chain configured", zap.Strings("strategies", env.Selector.Strategies()))

	extractor := intent.NewExtractor(clients.Anthropic, inv, cfg.Anthropic.IntentModel, cfg.Anthropic.MaxTokens)
	structurer := structure.New(clients.Anthropic, inv, cfg.Anthropic.StructureModel, cfg.Structure)

	var runs workflow.RunRecorder
	if env.Store != nil {
		runs = env.Store
	}

	env.Orch = workflow.New(extractor, env.Selector, structurer, workflow.Options{
		APIKey:       cfg.Anthropic.Key,
		Qualifier:    cfg.Search.Qualifier,
		StageDelay:   time.Duration(cfg.Workflow.StageDelayMs) * time.Millisecond,
		TickInterval: time.Duration(cfg.Workflow.TickMs) * time.Millisecond,
		Usage:        env.Usage,
		Runs:         runs,
		OnChange:     onChange,
	})
	return env, nil
}

// initStorage opens the run store and the usage sinks. Redis counters are
// preferred for reads when configured since they are shared across processes.
func initStorage(ctx context.Context) (*appEnv, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	env := &appEnv{Store: st}

	var sinks usage.Multi
	if st != nil {
		sink := usage.NewStoreSink(st)
		sinks = append(sinks, sink)
		env.UsageRead = sink
	}
	if cfg.Redis.Addr != "" {
		env.Redis = usage.NewRedisClient(cfg.Redis)
		sink := usage.NewRedisSink(env.Redis, cfg.Redis.Key)
		sinks = append(sinks, sink)
		env.UsageRead = sink
		zap.L().Info("redis usage counters enabled", zap.String("addr", cfg.Redis.Addr))
	}

	switch len(sinks) {
	case 0:
		env.Usage = usage.Noop{}
	case 1:
		env.Usage = sinks[0]
	default:
		env.Usage = sinks
	}
	return env, nil
}

// newInvoker builds the retry invoker with per-provider circuit breakers and
// the optional Anthropic rate limit.
func newInvoker(c *config.Config) (*resilience.Invoker, *resilience.ServiceBreakers) {
	breakers := resilience.NewServiceBreakers(resilience.FromCircuitConfig(c.Retry))
	opts := []resilience.InvokerOption{resilience.WithBreakers(breakers)}
	if c.Anthropic.RPS > 0 {
		opts = append(opts, resilience.WithLimiter("anthropic",
			rate.NewLimiter(rate.Limit(c.Anthropic.RPS), max(int(c.Anthropic.RPS), 1))))
	}
	return resilience.NewInvoker(resilience.FromRetryConfig(c.Retry), opts...), breakers
}

// newClients creates a client for every provider with a key. Strategies whose
// client is nil report themselves unconfigured.
func newClients(c *config.Config) search.Clients {
	var clients search.Clients

	if c.Anthropic.Key != "" {
		clients.Anthropic = anthropicpkg.NewClient(c.Anthropic.Key)
	}

	if c.SerpAPI.Key != "" {
		opts := []serpapi.Option{}
		if c.SerpAPI.BaseURL != "" {
			opts = append(opts, serpapi.WithBaseURL(c.SerpAPI.BaseURL))
		}
		if c.SerpAPI.LocalProxyURL != "" {
			opts = append(opts, serpapi.WithLocalProxy(c.SerpAPI.LocalProxyURL))
		}
		if c.SerpAPI.CORSProxyURL != "" {
			opts = append(opts, serpapi.WithCORSProxy(c.SerpAPI.CORSProxyURL))
		}
		clients.SerpAPI = serpapi.NewClient(c.SerpAPI.Key, opts...)
	} else {
		zap.L().Debug("LEXLEADS_SERPAPI_KEY not set, serpapi strategy disabled")
	}

	if c.Google.Key != "" {
		opts := []google.Option{}
		if c.Google.BaseURL != "" {
			opts = append(opts, google.WithBaseURL(c.Google.BaseURL))
		}
		clients.Google = google.NewClient(c.Google.Key, opts...)
	} else {
		zap.L().Debug("LEXLEADS_GOOGLE_KEY not set, google places strategy disabled")
	}

	if c.Perplexity.Key != "" {
		opts := []perplexity.Option{}
		if c.Perplexity.BaseURL != "" {
			opts = append(opts, perplexity.WithBaseURL(c.Perplexity.BaseURL))
		}
		if c.Perplexity.Model != "" {
			opts = append(opts, perplexity.WithModel(c.Perplexity.Model))
		}
		clients.Perplexity = perplexity.NewClient(c.Perplexity.Key, opts...)
	}

	return clients
}

func keyHint(key string) string {
	if key == "" {
		return ""
	}
	return config.MaskKey(key)
}

// initPublishers builds a publisher per target. Unknown targets and missing
// credentials fail before any run starts.
func initPublishers(targets []string) ([]publish.Publisher, error) {
	var pubs []publish.Publisher
	for _, t := range targets {
		switch t {
		case "salesforce":
			client, err := initSalesforce()
			if err != nil {
				return nil, err
			}
			pubs = append(pubs, publish.NewSalesforce(client, cfg.Salesforce.LeadSource))
		case "notion":
			if cfg.Notion.Token == "" || cfg.Notion.LeadDB == "" {
				return nil, eris.New("notion publishing requires notion.token and notion.lead_db")
			}
			client := notion.NewClient(cfg.Notion.Token, notion.WithRateLimit(notionRPS))
			pubs = append(pubs, publish.NewNotion(client, cfg.Notion.LeadDB))
		default:
			return nil, eris.Errorf("unknown publish target %q (want salesforce or notion)", t)
		}
	}
	return pubs, nil
}

func initSalesforce() (salesforce.Client, error) {
	if cfg.Salesforce.ClientID == "" {
		return nil, eris.New("salesforce client ID is required (LEXLEADS_SALESFORCE_CLIENT_ID)")
	}
	pemData, err := os.ReadFile(cfg.Salesforce.KeyPath)
	if err != nil {
		return nil, eris.Wrap(err, "read salesforce JWT private key")
	}
	return salesforce.Dial(salesforce.Creds{
		LoginURL:   cfg.Salesforce.LoginURL,
		Username:   cfg.Salesforce.Username,
		ClientID:   cfg.Salesforce.ClientID,
		PrivateKey: string(pemData),
	}, salesforce.WithRateLimit(salesforceRPS))
}
