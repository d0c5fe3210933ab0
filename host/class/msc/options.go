package msc

import (
	"time"

	"github.com/efficientgo/core/errors"
	"github.com/mitchellh/mapstructure"

	"github.com/ardnew/softmsc/pkg"
)

// Timeouts bounds how long a caller waits for a command's status phase.
// Zero means wait until the caller's context ends. Reset also bounds the
// endpoint halt clear that follows a stalled phase.
type Timeouts struct {
	UnitReady     time.Duration `json:"unit_ready"`
	Read          time.Duration `json:"read"`
	Write         time.Duration `json:"write"`
	Format        time.Duration `json:"format"`
	Reset         time.Duration `json:"reset"`
	DiscoveryStep time.Duration `json:"discovery_step"`
}

// Retry configures resubmission of a READ (10) command block that the
// transfer layer refuses with a transient error.
type Retry struct {
	MaxStallRetries uint64        `json:"max_stall_retries"`
	Interval        time.Duration `json:"interval"`
}

// Options configures a Device.
type Options struct {
	Timeouts Timeouts `json:"timeouts"`
	Retry    Retry    `json:"retry"`

	// BufferSize is the size of each pooled transfer buffer.
	BufferSize int `json:"buffer_size"`

	// TagSeed is the first CBW tag issued.
	TagSeed uint32 `json:"tag_seed"`

	// Workers is the number of transfer workers the host should run.
	// Bulk-Only Transport phases stay ordered only with one.
	Workers int `json:"workers"`

	// Metrics receives engine counters. Nil disables them.
	Metrics *Metrics `json:"-"`
}

// DefaultOptions returns the default options.
func DefaultOptions() Options {
	return Options{
		Timeouts: Timeouts{
			UnitReady: 100 * time.Millisecond,
			Read:      200 * time.Millisecond,
			Write:     50 * time.Millisecond,
			Reset:     time.Second,
		},
		Retry: Retry{
			MaxStallRetries: 64,
			Interval:        time.Millisecond,
		},
		BufferSize: BufferSize,
		TagSeed:    1,
		Workers:    1,
	}
}

// DecodeOptions decodes a configuration section (as read by viper) on top
// of DefaultOptions. Durations may be given as strings like "250ms".
func DecodeOptions(raw map[string]any) (Options, error) {
	opts := DefaultOptions()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &opts,
		TagName:          "json",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return Options{}, err
	}
	if err := decoder.Decode(raw); err != nil {
		return Options{}, errors.Wrap(err, "decode msc options")
	}
	if err := opts.validate(); err != nil {
		return Options{}, err
	}
	return opts, nil
}

func (o Options) validate() error {
	if o.BufferSize < CBWSize || o.BufferSize < InquiryStandardSize {
		return errors.Wrapf(pkg.ErrInvalidParameter, "buffer size %d", o.BufferSize)
	}
	if o.Workers < 0 {
		return errors.Wrapf(pkg.ErrInvalidParameter, "workers %d", o.Workers)
	}
	return nil
}
