package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/scrape-engine-gateway/internal/engine"
	"github.com/JakeFAU/scrape-engine-gateway/internal/jobs"
	"github.com/JakeFAU/scrape-engine-gateway/internal/scrape"
)

// errScrapeFailed marks a scrape that ran but did not succeed; its JSON report
// has already been printed.
var errScrapeFailed = errors.New("scrape failed")

type scrapeFlags struct {
	engine       string
	url          string
	formats      []string
	headers      map[string]string
	wait         time.Duration
	timeout      time.Duration
	maxAnomalies int
	actionsJSON  string
	mobile       bool
	skipTLS      bool
	atsv         bool
	disableJSDOM bool
}

type report struct {
	Success   bool                 `json:"success"`
	Outcome   string               `json:"outcome"`
	Data      *engine.ScrapeResult `json:"data,omitempty"`
	Error     string               `json:"error,omitempty"`
	Anomalies engine.AnomalyLog    `json:"anomalies"`
}

func newScrapeCmd() *cobra.Command {
	f := &scrapeFlags{}
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Dispatch one scrape and wait for its result",
		Example: `  scrapectl scrape --engine chrome-cdp --url https://example.com --format screenshot --wait 500ms
  scrapectl scrape --engine tlsclient --url https://example.com --atsv`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			params, err := f.params()
			if err != nil {
				return err
			}
			scraper, err := resolveScraper(cmd.Context())
			if err != nil {
				return err
			}

			res, scrapeErr := scraper.Scrape(cmd.Context(), params.Kind(), params.Options())
			out := report{Success: scrapeErr == nil, Outcome: scrape.OutcomeOf(scrapeErr)}
			if scrapeErr != nil {
				out.Error = scrapeErr.Error()
				out.Anomalies = engine.AnomaliesOf(scrapeErr)
			} else {
				out.Data = &res.Data
				out.Anomalies = res.Anomalies
			}
			if out.Anomalies == nil {
				out.Anomalies = engine.AnomalyLog{}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(out); err != nil {
				return fmt.Errorf("write result: %w", err)
			}
			if scrapeErr != nil {
				return fmt.Errorf("%w: %s", errScrapeFailed, out.Outcome)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.engine, "engine", string(engine.KindChromeCDP), "engine kind: chrome-cdp, playwright or tlsclient")
	flags.StringVar(&f.url, "url", "", "page to scrape")
	flags.StringSliceVar(&f.formats, "format", nil, "output format, repeatable (markdown, html, rawHtml, screenshot, screenshot@fullPage)")
	flags.StringToStringVar(&f.headers, "header", nil, "request header for the target page, e.g. --header Accept-Language=en")
	flags.DurationVar(&f.wait, "wait", 0, "wait before capturing the page")
	flags.DurationVar(&f.timeout, "timeout", 0, "poll timeout, 0 uses engine.timeout")
	flags.IntVar(&f.maxAnomalies, "max-anomalies", 0, "tolerated status errors, 0 uses engine.max_anomalies")
	flags.StringVar(&f.actionsJSON, "actions", "", `browser actions as JSON, e.g. '[{"type":"click","selector":"#more"}]'`)
	flags.BoolVar(&f.mobile, "mobile", false, "emulate a mobile device")
	flags.BoolVar(&f.skipTLS, "skip-tls-verification", false, "ignore target TLS errors")
	flags.BoolVar(&f.atsv, "atsv", false, "tlsclient: send the atsv flag")
	flags.BoolVar(&f.disableJSDOM, "disable-jsdom", false, "tlsclient: skip JS DOM emulation")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

// params converts flags into the same validated shape the HTTP API accepts.
func (f *scrapeFlags) params() (jobs.Params, error) {
	p := jobs.Params{
		Engine:              engine.Kind(f.engine),
		URL:                 f.url,
		Headers:             f.headers,
		WaitMs:              int(f.wait.Milliseconds()),
		TimeoutMs:           int(f.timeout.Milliseconds()),
		MaxAnomalies:        f.maxAnomalies,
		Mobile:              f.mobile,
		SkipTLSVerification: f.skipTLS,
		ATSV:                f.atsv,
		DisableJSDOM:        f.disableJSDOM,
	}
	for _, format := range f.formats {
		p.Formats = append(p.Formats, engine.Format(format))
	}
	if f.actionsJSON != "" {
		if err := json.Unmarshal([]byte(f.actionsJSON), &p.Actions); err != nil {
			return jobs.Params{}, fmt.Errorf("parse --actions: %w", err)
		}
	}
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(p); err != nil {
		return jobs.Params{}, fmt.Errorf("invalid flags: %w", err)
	}
	if err := p.CheckEngineOptions(); err != nil {
		return jobs.Params{}, fmt.Errorf("invalid flags: %w", err)
	}
	return p, nil
}
