package options

import (
	genericoptions "github.com/kiosk404/cohort/internal/pkg/options"
	"github.com/kiosk404/cohort/pkg/logger"
	"github.com/kiosk404/cohort/pkg/utils/cliflag"
	"github.com/kiosk404/cohort/pkg/utils/json"
)

// Options is the full configuration of cohortd.
type Options struct {
	GenericServerRunOptions *genericoptions.ServerRunOptions `json:"server"     mapstructure:"server"`
	GRPCOptions             *genericoptions.GRPCOptions      `json:"grpc"       mapstructure:"grpc"`
	ModelOptions            *genericoptions.ModelOptions     `json:"models"     mapstructure:"models"`
	PersonaOptions          *PersonaOptions                  `json:"personas"   mapstructure:"personas"`
	DelegationOptions       *DelegationOptions               `json:"delegation" mapstructure:"delegation"`
	BatchOptions            *BatchOptions                    `json:"batch"      mapstructure:"batch"`
	ReviewOptions           *ReviewOptions                   `json:"review"     mapstructure:"review"`
	ToolOptions             *ToolOptions                     `json:"tools"      mapstructure:"tools"`
	StoreOptions            *StoreOptions                    `json:"store"      mapstructure:"store"`
	LedgerOptions           *LedgerOptions                   `json:"ledger"     mapstructure:"ledger"`
	EventOptions            *EventOptions                    `json:"events"     mapstructure:"events"`
	AuthOptions             *AuthOptions                     `json:"auth"       mapstructure:"auth"`
	Log                     *logger.Options                  `json:"log"        mapstructure:"log"`
}

func NewOptions() *Options {
	return &Options{
		GenericServerRunOptions: genericoptions.NewServerRunOptions(),
		GRPCOptions:             genericoptions.NewGRPCOptions(),
		ModelOptions:            genericoptions.NewModelOptions(),
		PersonaOptions:          NewPersonaOptions(),
		DelegationOptions:       NewDelegationOptions(),
		BatchOptions:            NewBatchOptions(),
		ReviewOptions:           NewReviewOptions(),
		ToolOptions:             NewToolOptions(),
		StoreOptions:            NewStoreOptions(),
		LedgerOptions:           NewLedgerOptions(),
		EventOptions:            NewEventOptions(),
		AuthOptions:             NewAuthOptions(),
		Log:                     logger.NewOptions(),
	}
}

func (o *Options) Flags() (fss cliflag.NamedFlagSets) {
	o.GenericServerRunOptions.AddFlags(fss.FlagSet("server"))
	o.GRPCOptions.AddFlags(fss.FlagSet("grpc"))
	o.ModelOptions.AddFlags(fss.FlagSet("models"))
	o.PersonaOptions.AddFlags(fss.FlagSet("personas"))
	o.DelegationOptions.AddFlags(fss.FlagSet("delegation"))
	o.BatchOptions.AddFlags(fss.FlagSet("batch"))
	o.ReviewOptions.AddFlags(fss.FlagSet("review"))
	o.ToolOptions.AddFlags(fss.FlagSet("tools"))
	o.StoreOptions.AddFlags(fss.FlagSet("store"))
	o.LedgerOptions.AddFlags(fss.FlagSet("ledger"))
	o.EventOptions.AddFlags(fss.FlagSet("events"))
	o.AuthOptions.AddFlags(fss.FlagSet("auth"))
	o.Log.AddFlags(fss.FlagSet("log"))
	return fss
}

// Validate collects the errors of every option group.
func (o *Options) Validate() []error {
	var errs []error
	errs = append(errs, o.GenericServerRunOptions.Validate()...)
	errs = append(errs, o.GRPCOptions.Validate()...)
	errs = append(errs, o.ModelOptions.Validate()...)
	errs = append(errs, o.PersonaOptions.Validate()...)
	errs = append(errs, o.DelegationOptions.Validate()...)
	errs = append(errs, o.BatchOptions.Validate()...)
	errs = append(errs, o.ReviewOptions.Validate()...)
	errs = append(errs, o.StoreOptions.Validate()...)
	errs = append(errs, o.LedgerOptions.Validate()...)
	errs = append(errs, o.AuthOptions.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	return errs
}

// Complete resolves values derived from other options.
func (o *Options) Complete() error {
	o.AuthOptions.Complete()
	return nil
}

func (o *Options) String() string {
	data, _ := json.Marshal(o)

	return string(data)
}
