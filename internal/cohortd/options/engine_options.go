package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

// DelegationOptions tunes how commands are routed, split and reworked.
type DelegationOptions struct {
	// ReworkLimit is the number of rework rounds before delivery is forced. 0 disables rework.
	ReworkLimit      int           `json:"rework-limit"      mapstructure:"rework-limit"`
	SequentialWindow int           `json:"sequential-window" mapstructure:"sequential-window"`
	MaxConcurrency   int           `json:"max-concurrency"   mapstructure:"max-concurrency"`
	SubtaskTimeout   time.Duration `json:"subtask-timeout"   mapstructure:"subtask-timeout"`
	ToolBudget       int           `json:"tool-budget"       mapstructure:"tool-budget"`
	AmbiguityMargin  float64       `json:"ambiguity-margin"  mapstructure:"ambiguity-margin"`
	MinScore         float64       `json:"min-score"         mapstructure:"min-score"`
	ReviewCollapsed  bool          `json:"review-collapsed"  mapstructure:"review-collapsed"`
	Recover          bool          `json:"recover"           mapstructure:"recover"`
}

func NewDelegationOptions() *DelegationOptions {
	return &DelegationOptions{
		ReworkLimit:      2,
		SequentialWindow: 3,
		SubtaskTimeout:   5 * time.Minute,
		ToolBudget:       5,
		AmbiguityMargin:  0.15,
		MinScore:         0.5,
		Recover:          true,
	}
}

func (o *DelegationOptions) Validate() []error {
	var errs []error
	if o.ReworkLimit < 0 {
		errs = append(errs, fmt.Errorf("--delegation.rework-limit must not be negative"))
	}
	if o.SequentialWindow < 1 {
		errs = append(errs, fmt.Errorf("--delegation.sequential-window must be at least 1"))
	}
	if o.MaxConcurrency < 0 {
		errs = append(errs, fmt.Errorf("--delegation.max-concurrency must not be negative"))
	}
	if o.SubtaskTimeout <= 0 {
		errs = append(errs, fmt.Errorf("--delegation.subtask-timeout must be positive"))
	}
	if o.ToolBudget < 1 {
		errs = append(errs, fmt.Errorf("--delegation.tool-budget must be at least 1"))
	}
	if o.AmbiguityMargin < 0 || o.AmbiguityMargin > 1 {
		errs = append(errs, fmt.Errorf("--delegation.ambiguity-margin must be within [0, 1]"))
	}
	if o.MinScore < 0 || o.MinScore > 1 {
		errs = append(errs, fmt.Errorf("--delegation.min-score must be within [0, 1]"))
	}
	return errs
}

func (o *DelegationOptions) AddFlags(fs *pflag.FlagSet) {
	fs.IntVar(&o.ReworkLimit, "delegation.rework-limit", o.ReworkLimit,
		"Rework rounds allowed after a rejected review. 0 delivers the first draft.")
	fs.IntVar(&o.SequentialWindow, "delegation.sequential-window", o.SequentialWindow,
		"Number of prior outputs a sequential subtask receives.")
	fs.IntVar(&o.MaxConcurrency, "delegation.max-concurrency", o.MaxConcurrency,
		"Upper bound on concurrently running independent subtasks. 0 runs them all at once.")
	fs.DurationVar(&o.SubtaskTimeout, "delegation.subtask-timeout", o.SubtaskTimeout, "Wall-clock limit of one subtask.")
	fs.IntVar(&o.ToolBudget, "delegation.tool-budget", o.ToolBudget, "Tool calls allowed per task.")
	fs.Float64Var(&o.AmbiguityMargin, "delegation.ambiguity-margin", o.AmbiguityMargin,
		"Managers scoring within this margin of the best are all delegated to.")
	fs.Float64Var(&o.MinScore, "delegation.min-score", o.MinScore, "Minimum routing score of a fan-out candidate.")
	fs.BoolVar(&o.ReviewCollapsed, "delegation.review-collapsed", o.ReviewCollapsed,
		"Review single-contribution results that skip synthesis.")
	fs.BoolVar(&o.Recover, "delegation.recover", o.Recover, "Resume unfinished tasks on start.")
}

// BatchOptions tunes coalescing and polling of provider batch jobs.
type BatchOptions struct {
	Debounce         time.Duration `json:"debounce"           mapstructure:"debounce"`
	MaxWait          time.Duration `json:"max-wait"           mapstructure:"max-wait"`
	MaxBatchSize     int           `json:"max-batch-size"     mapstructure:"max-batch-size"`
	PollInterval     time.Duration `json:"poll-interval"      mapstructure:"poll-interval"`
	MaxFetchAttempts int           `json:"max-fetch-attempts" mapstructure:"max-fetch-attempts"`
	MemberTimeout    time.Duration `json:"member-timeout"     mapstructure:"member-timeout"`
	// Discount is the fraction taken off the price of batch calls.
	Discount float64 `json:"discount" mapstructure:"discount"`
	// DeferredConcurrency bounds the in-process client of providers without a batch endpoint.
	DeferredConcurrency int `json:"deferred-concurrency" mapstructure:"deferred-concurrency"`
}

func NewBatchOptions() *BatchOptions {
	return &BatchOptions{
		Debounce:            500 * time.Millisecond,
		MaxWait:             5 * time.Second,
		MaxBatchSize:        100,
		PollInterval:        60 * time.Second,
		MaxFetchAttempts:    3,
		MemberTimeout:       24 * time.Hour,
		Discount:            0.5,
		DeferredConcurrency: 4,
	}
}

func (o *BatchOptions) Validate() []error {
	var errs []error
	if o.Debounce <= 0 {
		errs = append(errs, fmt.Errorf("--batch.debounce must be positive"))
	}
	if o.MaxWait < o.Debounce {
		errs = append(errs, fmt.Errorf("--batch.max-wait %s is shorter than --batch.debounce %s", o.MaxWait, o.Debounce))
	}
	if o.MaxBatchSize < 1 {
		errs = append(errs, fmt.Errorf("--batch.max-batch-size must be at least 1"))
	}
	if o.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("--batch.poll-interval must be positive"))
	}
	if o.MaxFetchAttempts < 1 {
		errs = append(errs, fmt.Errorf("--batch.max-fetch-attempts must be at least 1"))
	}
	if o.Discount < 0 || o.Discount >= 1 {
		errs = append(errs, fmt.Errorf("--batch.discount must be within [0, 1)"))
	}
	return errs
}

func (o *BatchOptions) AddFlags(fs *pflag.FlagSet) {
	fs.DurationVar(&o.Debounce, "batch.debounce", o.Debounce,
		"Quiet period after the last request before a provider's requests are submitted together.")
	fs.DurationVar(&o.MaxWait, "batch.max-wait", o.MaxWait, "Longest time a request waits for others to join its job.")
	fs.IntVar(&o.MaxBatchSize, "batch.max-batch-size", o.MaxBatchSize, "Requests per job before it is submitted immediately.")
	fs.DurationVar(&o.PollInterval, "batch.poll-interval", o.PollInterval, "Interval between provider status polls.")
	fs.IntVar(&o.MaxFetchAttempts, "batch.max-fetch-attempts", o.MaxFetchAttempts,
		"Result downloads tried before a job with missing results fails.")
	fs.DurationVar(&o.MemberTimeout, "batch.member-timeout", o.MemberTimeout, "Age at which an unfinished job is expired.")
	fs.Float64Var(&o.Discount, "batch.discount", o.Discount, "Fraction taken off the price of batch calls.")
	fs.IntVar(&o.DeferredConcurrency, "batch.deferred-concurrency", o.DeferredConcurrency,
		"Concurrent calls of the in-process batch client.")
}

// ReviewOptions configures the quality gate.
type ReviewOptions struct {
	Enabled          bool    `json:"enabled"           mapstructure:"enabled"`
	RubricDir        string  `json:"rubric-dir"        mapstructure:"rubric-dir"`
	DefaultThreshold float64 `json:"default-threshold" mapstructure:"default-threshold"`
	DefaultReviewer  string  `json:"default-reviewer"  mapstructure:"default-reviewer"`
}

func NewReviewOptions() *ReviewOptions {
	return &ReviewOptions{
		Enabled:          true,
		RubricDir:        "conf/rubrics",
		DefaultThreshold: 0.7,
	}
}

func (o *ReviewOptions) Validate() []error {
	var errs []error
	if !o.Enabled {
		return nil
	}
	if o.DefaultThreshold <= 0 || o.DefaultThreshold > 1 {
		errs = append(errs, fmt.Errorf("--review.default-threshold must be within (0, 1]"))
	}
	if o.DefaultReviewer == "" {
		errs = append(errs, fmt.Errorf("--review.default-reviewer is required when review is enabled"))
	}
	return errs
}

func (o *ReviewOptions) AddFlags(fs *pflag.FlagSet) {
	fs.BoolVar(&o.Enabled, "review.enabled", o.Enabled, "Review synthesized artifacts before delivery.")
	fs.StringVar(&o.RubricDir, "review.rubric-dir", o.RubricDir, "Directory of per-division rubric files.")
	fs.Float64Var(&o.DefaultThreshold, "review.default-threshold", o.DefaultThreshold,
		"Score a section needs to pass when its rubric sets none.")
	fs.StringVar(&o.DefaultReviewer, "review.default-reviewer", o.DefaultReviewer,
		"Persona scoring divisions whose rubric names no reviewer.")
}
