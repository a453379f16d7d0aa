// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/autobrr/grabd/internal/buildinfo"
	"github.com/autobrr/grabd/internal/config"
	"github.com/autobrr/grabd/internal/database"
	"github.com/autobrr/grabd/internal/decision"
	"github.com/autobrr/grabd/internal/decision/specs"
	"github.com/autobrr/grabd/internal/history"
	"github.com/autobrr/grabd/internal/releases"
	"github.com/autobrr/grabd/internal/services/blacklist"
)

// decideInput is the file format read by the decide command.
type decideInput struct {
	Search     *releases.SearchRequest   `yaml:"search"`
	Candidates []*releases.RemoteEpisode `yaml:"candidates"`
}

func RunDecideCommand() *cobra.Command {
	var (
		configDir, dataDir, format string
		dedupeThreshold            float64
	)

	command := &cobra.Command{
		Use:   "decide <candidates.yaml>",
		Short: "Evaluate candidate releases without grabbing them",
		Long: `Evaluate candidate releases against the configured quality profiles,
history and blacklist and print the decisions in grab order.

Reads YAML from the given file, or from stdin when the file is "-".
Candidates without parsedEpisodeInfo have their release title parsed.
Near-duplicate releases are collapsed to one representative first.
The download queue is not consulted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := readDecideInput(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}

			criteria, err := input.Search.Criteria()
			if err != nil {
				return err
			}

			cfg, err := config.New(configDir, buildinfo.Version)
			if err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}
			if dataDir != "" {
				cfg.SetDataDir(dataDir)
			}

			profiles, err := cfg.QualityProfiles()
			if err != nil {
				return err
			}

			db, err := database.New(cfg.GetDatabasePath())
			if err != nil {
				return fmt.Errorf("failed to initialize database: %w", err)
			}
			defer db.Close()

			evaluator := decision.NewEvaluator(specs.Default(specs.Deps{
				Profiles:     profiles,
				History:      history.NewStore(db),
				Blacklist:    blacklist.NewStore(db),
				MaximumSize:  func() int64 { return cfg.Current().MaximumSize },
				Restrictions: cfg.Restrictions,
			}))

			parser := releases.NewParser()
			for _, candidate := range input.Candidates {
				if candidate == nil || candidate.Release == nil || candidate.ParsedEpisodeInfo != nil {
					continue
				}
				info, err := parser.ParseEpisodeInfo(candidate.Release.Title)
				if err != nil {
					log.Debug().Err(err).Str("title", candidate.Release.Title).Msg("Unable to parse release title")
					continue
				}
				candidate.ParsedEpisodeInfo = info
			}

			candidates := input.Candidates
			if dedupeThreshold > 0 {
				candidates, err = releases.Dedupe(cmd.Context(), candidates, dedupeThreshold)
				if err != nil {
					return err
				}
			}

			decisions, err := evaluator.GetDecisions(cmd.Context(), candidates, criteria)
			if err != nil {
				return err
			}
			decisions = decision.PrioritizeDecisions(decisions)

			if format == "" {
				format = "csv"
				if f, ok := cmd.OutOrStdout().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
					format = "table"
				}
			}

			return writeDecisions(cmd.OutOrStdout(), decisions, format)
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "",
		"config directory or file path (defaults to OS-specific location)")
	command.Flags().StringVar(&dataDir, "data-dir", "",
		"data directory path (defaults to next to config file)")
	command.Flags().StringVar(&format, "format", "",
		"output format: table, csv or json (default table on a terminal, csv otherwise)")
	command.Flags().Float64Var(&dedupeThreshold, "dedupe-threshold", releases.DefaultDuplicateThreshold,
		"collapse near-duplicate releases closer than this distance before evaluating, 0 disables")

	return command
}

func readDecideInput(path string, stdin io.Reader) (*decideInput, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read candidates: %w", err)
	}

	var input decideInput
	if err := yaml.Unmarshal(data, &input); err != nil {
		return nil, fmt.Errorf("decode candidates: %w", err)
	}
	if len(input.Candidates) == 0 {
		return nil, fmt.Errorf("no candidates in %s", path)
	}
	return &input, nil
}

func writeDecisions(w io.Writer, decisions []decision.Decision, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(decisions)
	case "table", "csv":
	default:
		return fmt.Errorf("unknown format %q", format)
	}

	headers := []string{"#", "Title", "Quality", "Size", "Status", "Reasons"}
	rows := make([][]string, 0, len(decisions))
	for i, d := range decisions {
		rows = append(rows, decisionRow(i+1, d))
	}

	aligns := []columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft, alignLeft}
	if format == "csv" {
		_, err := fmt.Fprintln(w, renderCSV(headers, rows))
		return err
	}
	_, err := fmt.Fprintln(w, renderTable(headers, rows, aligns))
	return err
}

func decisionRow(n int, d decision.Decision) []string {
	var title, qualityName, size string
	if re := d.RemoteEpisode; re != nil {
		if re.Release != nil {
			title = re.Release.Title
			size = humanize.IBytes(uint64(max(re.Release.Size, 0)))
		}
		if re.ParsedEpisodeInfo != nil {
			qualityName = re.ParsedEpisodeInfo.Quality.String()
		}
	}

	status := "accepted"
	switch {
	case d.TemporarilyRejected():
		status = "pending"
	case !d.Accepted():
		status = "rejected"
	}

	reasons := make([]string, 0, len(d.Rejections))
	for _, r := range d.Rejections {
		reasons = append(reasons, r.Reason)
	}

	return []string{fmt.Sprint(n), title, qualityName, size, status, strings.Join(reasons, "; ")}
}
