package scraper

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/use-agent/pluck/cache"
	"github.com/use-agent/pluck/classifier"
	"github.com/use-agent/pluck/extractor"
	"github.com/use-agent/pluck/fetcher"
	"github.com/use-agent/pluck/metrics"
	"github.com/use-agent/pluck/models"
)

// URLValidator is the SSRF check run before any network access.
type URLValidator interface {
	Validate(ctx context.Context, raw string) (string, error)
}

// PageFetcher performs the outbound GET.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (*fetcher.Result, error)
}

// Parser turns a response body into a queryable document.
type Parser interface {
	Parse(body []byte) (*extractor.Document, error)
}

// Deps are the collaborators of a Pipeline. Cache and Logger are optional.
type Deps struct {
	Validator URLValidator
	Fetcher   PageFetcher
	Parser    Parser
	Cache     cache.Cache
	Logger    *slog.Logger
}

// Options tune a Pipeline.
type Options struct {
	// CacheTTL is how long results are cached; zero disables writes.
	CacheTTL time.Duration
	// Timeout bounds one Extract call; zero leaves only the caller's deadline.
	Timeout time.Duration
}

// Pipeline sequences validation, cache, fetch, parse and field extraction.
// It is safe for concurrent use.
type Pipeline struct {
	validator URLValidator
	fetcher   PageFetcher
	parser    Parser
	cache     cache.Cache
	logger    *slog.Logger
	opts      Options
}

// NewPipeline wires a Pipeline.
func NewPipeline(d Deps, opts Options) *Pipeline {
	p := &Pipeline{
		validator: d.Validator,
		fetcher:   d.Fetcher,
		parser:    d.Parser,
		cache:     d.Cache,
		logger:    d.Logger,
		opts:      opts,
	}
	if p.cache == nil {
		p.cache = cache.Nop{}
	}
	if p.parser == nil {
		p.parser = extractor.NewParser()
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// Extract runs one extraction request. Per-field failures are reported in
// the result; any returned error is a *models.ScraperError.
func (p *Pipeline) Extract(ctx context.Context, req models.ExtractRequest) (*models.ExtractResult, error) {
	start := time.Now()
	res, err := p.extract(ctx, req)
	if err != nil {
		se := models.AsScraperError(err)
		metrics.RecordExtraction(se.Kind.String())
		p.logger.Info("extraction failed",
			"url", req.URL,
			"kind", se.Kind.String(),
			"error", se.Error(),
			"duration", time.Since(start),
		)
		return nil, se
	}

	metrics.RecordExtraction("ok")
	p.logger.Info("extraction completed",
		"url", res.URL,
		"fields", len(res.Data),
		"failed_fields", res.Data.Failures(),
		"cached", res.Cached,
		"duration", time.Since(start),
	)
	return res, nil
}

func (p *Pipeline) extract(ctx context.Context, req models.ExtractRequest) (*models.ExtractResult, error) {
	if p.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.Timeout)
		defer cancel()
	}

	if err := req.Validate(); err != nil {
		return nil, err
	}

	target, err := p.validator.Validate(ctx, req.URL)
	if err != nil {
		return nil, err
	}

	key := cache.Key(cache.NormalizeURL(target), req.Fields)
	if rs, ok := p.lookup(ctx, key); ok {
		return &models.ExtractResult{URL: target, Data: rs, Cached: true}, nil
	}

	page, err := p.fetcher.Fetch(ctx, target)
	if err != nil {
		return nil, err
	}

	doc, err := p.parser.Parse(page.Body)
	if err != nil {
		return nil, err
	}

	rs := Merge(doc, req.Fields)
	p.store(ctx, key, rs)

	return &models.ExtractResult{URL: target, Data: rs, Cached: false}, nil
}

// Merge classifies fields and extracts each against doc. CSS fields come
// first, then meta fields, each group in request order. Prefix-derived meta
// fields are keyed by their original name.
func Merge(doc *extractor.Document, fields []models.FieldSpec) models.ResultSet {
	css, meta := classifier.Classify(fields)
	rs := make(models.ResultSet, 0, len(css)+len(meta))

	for _, f := range css {
		field := doc.CSS(f.Selector)
		metrics.RecordField(models.FieldTypeCSS, field.Success())
		rs = append(rs, models.ResultEntry{Key: f.Key(), Field: field})
	}
	for _, f := range meta {
		name := f.Selector
		if strings.TrimSpace(name) == "" {
			name = f.Name
		}
		field := doc.Meta(name)
		metrics.RecordField(models.FieldTypeMeta, field.Success())
		rs = append(rs, models.ResultEntry{Key: f.Key(), Field: field})
	}
	return rs
}

// lookup treats cache errors as misses.
func (p *Pipeline) lookup(ctx context.Context, key string) (models.ResultSet, bool) {
	rs, ok, err := p.cache.Get(ctx, key)
	switch {
	case err != nil:
		metrics.RecordCacheLookup("error")
		p.logger.Warn("cache lookup failed", "key", key, "error", err)
		return nil, false
	case ok:
		metrics.RecordCacheLookup("hit")
		return rs, true
	default:
		metrics.RecordCacheLookup("miss")
		return nil, false
	}
}

func (p *Pipeline) store(ctx context.Context, key string, rs models.ResultSet) {
	if p.opts.CacheTTL <= 0 {
		return
	}
	if err := p.cache.Set(ctx, key, rs, p.opts.CacheTTL); err != nil {
		p.logger.Warn("cache store failed", "key", key, "error", err)
	}
}
