// Command casesearch compiles a case-search request against a live case
// index and prints the resulting Elasticsearch query. It is the
// operational entry point for inspecting what a criteria dictionary or
// CSQL expression executes as.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/olivere/elastic/v7"

	"github.com/dimagi/casesearch/internal/backend/es"
	"github.com/dimagi/casesearch/internal/backend/pg"
	"github.com/dimagi/casesearch/internal/config"
	"github.com/dimagi/casesearch/internal/csql"
	"github.com/dimagi/casesearch/internal/logger"
	"github.com/dimagi/casesearch/internal/query"
	"github.com/dimagi/casesearch/internal/search"
)

func main() {
	var (
		configPath    = flag.String("config", "config.yaml", "path to the configuration file")
		env           = flag.String("env", "local", "environment: local, dev, docker or prod")
		backend       = flag.String("backend", "es", "case index backend: es or pg")
		domain        = flag.String("domain", "", "domain to search")
		caseTypes     = flag.String("case-types", "", "comma-separated case types")
		expr          = flag.String("query", "", "CSQL expression to compile")
		sortDirective = flag.String("sort", "", "sort directives, e.g. \"name,-dob:date\"")
		includeClosed = flag.Bool("include-closed", false, "include closed cases")
	)
	var criteria criteriaFlag
	flag.Var(&criteria, "criterion", "criteria entry as key=value (repeatable)")
	flag.Parse()

	if *domain == "" || (*expr == "" && len(criteria) == 0) {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zl, err := logger.New(*env, cfg.Logging.Level)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer zl.Sync()

	index, cleanup, err := newCaseIndex(ctx, *backend, cfg)
	if err != nil {
		log.Fatalf("failed to connect to case index: %v", err)
	}
	defer cleanup()

	svc := search.New(cfg, zl, index)

	req := search.Request{
		Domains:       []string{*domain},
		Criteria:      map[string][]string(criteria),
		IncludeClosed: *includeClosed,
	}
	if *caseTypes != "" {
		req.CaseTypes = strings.Split(*caseTypes, ",")
	}
	if *sortDirective != "" {
		if req.Criteria == nil {
			req.Criteria = map[string][]string{}
		}
		req.Criteria[csql.CriteriaSort] = []string{*sortDirective}
	}

	f, err := compileRequest(ctx, svc, req, *expr)
	if err != nil {
		log.Fatalf("compile: %v", err)
	}

	out := map[string]any{}
	if *backend == "pg" {
		cond, err := pg.Translate(f)
		if err != nil {
			log.Fatalf("translate: %v", err)
		}
		sqlStr, args, err := cond.ToSql()
		if err != nil {
			log.Fatalf("render query: %v", err)
		}
		out["sql"] = sqlStr
		out["args"] = args
	} else {
		q, err := es.Translate(f)
		if err != nil {
			log.Fatalf("translate: %v", err)
		}
		if out["query"], err = q.Source(); err != nil {
			log.Fatalf("render query: %v", err)
		}
	}
	sorts, err := svc.Sorts(req)
	if err != nil {
		log.Fatalf("parse sorts: %v", err)
	}
	if len(sorts) > 0 && *backend != "pg" {
		rendered := make([]any, len(sorts))
		for i, s := range sorts {
			sorter, err := es.TranslateSort(s)
			if err != nil {
				log.Fatalf("translate sort: %v", err)
			}
			if rendered[i], err = sorter.Source(); err != nil {
				log.Fatalf("render sort: %v", err)
			}
		}
		out["sort"] = rendered
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		log.Fatalf("encode output: %v", err)
	}
}

func compileRequest(ctx context.Context, svc *search.Service, req search.Request, expr string) (query.Filter, error) {
	if expr != "" {
		return svc.CompileCSQL(ctx, req, expr)
	}
	return svc.Compile(ctx, req)
}

type criteriaFlag map[string][]string

func (c *criteriaFlag) String() string {
	return fmt.Sprintf("%v", map[string][]string(*c))
}

func (c *criteriaFlag) Set(value string) error {
	key, val, ok := strings.Cut(value, "=")
	if !ok {
		return fmt.Errorf("criterion %q is not key=value", value)
	}
	if *c == nil {
		*c = map[string][]string{}
	}
	(*c)[key] = append((*c)[key], val)
	return nil
}

func newCaseIndex(ctx context.Context, backend string, cfg config.Config) (csql.CaseIndex, func(), error) {
	switch backend {
	case "es":
		client, err := elastic.NewClient(
			elastic.SetURL(cfg.Elasticsearch.URLs...),
			elastic.SetSniff(false),
		)
		if err != nil {
			return nil, nil, err
		}
		return es.NewSearcher(client, cfg.Elasticsearch.Index), client.Stop, nil
	case "pg":
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return nil, nil, err
		}
		return pg.NewStore(pool), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", backend)
	}
}
