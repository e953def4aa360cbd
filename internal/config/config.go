// Package config loads and validates the bot's TOML configuration
// document, applying the documented defaults for every optional field.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/marge-go/mergebot/internal/schedule"
	"github.com/marge-go/mergebot/internal/util"
)

// Sentinel errors, in the load/validate idiom: callers distinguish "file
// missing" from "file present but invalid" without string-matching.
var (
	ErrNotFound    = errors.New("config file not found")
	ErrInvalid     = errors.New("config is invalid")
	ErrMissingField = errors.New("config is missing a required field")
)

// Fusion is the integration strategy MergeJobOptions.Fusion selects.
type Fusion string

const (
	FusionMerge        Fusion = "merge"
	FusionRebase       Fusion = "rebase"
	FusionGitLabRebase Fusion = "gitlab_rebase"
)

// Order is the MR processing order.
type Order string

const (
	OrderCreatedAt  Order = "created_at"
	OrderUpdatedAt  Order = "updated_at"
	OrderAssignedAt Order = "assigned_at"
)

// MergeOpts mirrors the §4.6 MergeJobOptions table.
type MergeOpts struct {
	Fusion                 Fusion `toml:"fusion"`
	AddTested              bool   `toml:"add_tested"`
	AddPartOf              bool   `toml:"add_part_of"`
	AddReviewers           bool   `toml:"add_reviewers"`
	Reapprove              bool   `toml:"reapprove"`
	ApprovalTimeout        string `toml:"approval_timeout"`
	CITimeout              string `toml:"ci_timeout"`
	Embargo                string `toml:"embargo"`
	GuaranteeFinalPipeline bool   `toml:"guarantee_final_pipeline"`
}

// defaultMergeOpts mirrors MergeJobOptions.Default(): approval_timeout=0s,
// embargo=empty, ci_timeout=15m, fusion=rebase.
func defaultMergeOpts() MergeOpts {
	return MergeOpts{
		Fusion:          FusionRebase,
		ApprovalTimeout: "0s",
		CITimeout:       "15m",
		Embargo:         "",
	}
}

// Config is the bot's resolved (defaulted) configuration.
type Config struct {
	UseHTTPS            bool      `toml:"use_https"`
	SSHKeyFile          string    `toml:"ssh_key_file"`
	AuthToken           string    `toml:"auth_token"`
	BotUsername         string    `toml:"bot_username"`
	BaseURL             string    `toml:"base_url"`
	ProjectRegexp       string    `toml:"project_regexp"`
	BranchRegexp        string    `toml:"branch_regexp"`
	SourceBranchRegexp  string    `toml:"source_branch_regexp"`
	MergeOrder          Order     `toml:"merge_order"`
	Batch               bool      `toml:"batch"`
	BatchBranchName     string    `toml:"batch_branch_name"`
	UseMergeCommitBatches bool    `toml:"use_merge_commit_batches"`
	UseNoFFBatches      bool      `toml:"use_no_ff_batches"`
	SkipCIBatches       bool      `toml:"skip_ci_batches"`
	MaxBatchSize        int       `toml:"max_batch_size"`
	CLI                 bool      `toml:"cli"`
	GitTimeout          string    `toml:"git_timeout"`
	GitReferenceRepo    string    `toml:"git_reference_repo"`
	StatusAddr          string    `toml:"status_addr"`
	MergeOpts           MergeOpts `toml:"merge_opts"`
}

// Default returns a Config with every documented default populated; Load
// starts from this and overlays whatever the TOML document sets.
func Default() Config {
	return Config{
		UseHTTPS:        true,
		MergeOrder:      OrderCreatedAt,
		BatchBranchName: "mergebot-batch",
		MaxBatchSize:    5,
		GitTimeout:      "60s",
		MergeOpts:       defaultMergeOpts(),
	}
}

// Load reads and validates the TOML document at path, returning it
// resolved against Default(). Fields the document sets override the
// default; fields it omits keep the default's zero/documented value.
func Load(path string) (Config, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return Config{}, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return Config{}, err
	}

	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("decoding %s: %w", path, err)
	}
	_ = meta // undecoded keys are ignored; a stricter deployment could inspect meta.Undecoded()
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save atomically writes cfg as TOML to path (temp file + rename), for
// `mergebot config validate --write-defaults`.
func Save(path string, cfg Config) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return util.AtomicWriteFile(path, buf.Bytes(), 0644)
}

// Validate checks field-level invariants: enum membership, parseable
// durations, non-negative sizes.
func Validate(cfg Config) error {
	if cfg.AuthToken == "" {
		return fmt.Errorf("%w: auth_token", ErrMissingField)
	}
	if !cfg.UseHTTPS && cfg.SSHKeyFile == "" {
		return fmt.Errorf("%w: ssh_key_file required when use_https is false", ErrInvalid)
	}
	switch cfg.MergeOrder {
	case OrderCreatedAt, OrderUpdatedAt, OrderAssignedAt:
	default:
		return fmt.Errorf("%w: merge_order %q", ErrInvalid, cfg.MergeOrder)
	}
	switch cfg.MergeOpts.Fusion {
	case FusionMerge, FusionRebase, FusionGitLabRebase:
	default:
		return fmt.Errorf("%w: merge_opts.fusion %q", ErrInvalid, cfg.MergeOpts.Fusion)
	}
	if cfg.MaxBatchSize < 0 {
		return fmt.Errorf("%w: max_batch_size must be non-negative", ErrInvalid)
	}
	if _, err := time.ParseDuration(cfg.GitTimeout); err != nil {
		return fmt.Errorf("%w: git_timeout: %v", ErrInvalid, err)
	}
	if _, err := time.ParseDuration(cfg.MergeOpts.ApprovalTimeout); err != nil {
		return fmt.Errorf("%w: merge_opts.approval_timeout: %v", ErrInvalid, err)
	}
	if _, err := time.ParseDuration(cfg.MergeOpts.CITimeout); err != nil {
		return fmt.Errorf("%w: merge_opts.ci_timeout: %v", ErrInvalid, err)
	}
	if cfg.MergeOpts.Embargo != "" {
		if _, err := schedule.FromHumanUnion(cfg.MergeOpts.Embargo); err != nil {
			return fmt.Errorf("%w: merge_opts.embargo: %v", ErrInvalid, err)
		}
	}
	return nil
}
