package device

import (
	"context"
	"fmt"
	"strconv"

	"github.com/TSS-CH/MAS-004-RPI-Databridge/internal/model"
)

// simStore is the persistence surface the simulation adapter needs, kept
// narrow so it can be faked in tests without pulling in pgxpool.
type simStore interface {
	SimParamGet(ctx context.Context, channel, pkey string) (*model.SimParam, error)
	SimParamSeed(ctx context.Context, p model.SimParam) error
	SimParamSetCurrent(ctx context.Context, channel, pkey, value string) error
}

// SeedDefault is one compiled-in seed metadata entry for a channel's
// simulated parameters. Excel-driven seeding remains out of scope; this is
// the small known-pkey set named in SPEC_FULL §5.
type SeedDefault struct {
	Pkey     string
	MinV     *float64
	MaxV     *float64
	DefaultV string
	RW       string
}

// SimulationAdapter implements Adapter by reading/writing a persisted
// per-channel parameter table instead of a real device. Grounded on
// params.py's get_effective_value/set_value/apply_device_value.
type SimulationAdapter struct {
	Channel string
	Store   simStore
	Seeds   []SeedDefault
}

func NewSimulationAdapter(channel string, store simStore, seeds []SeedDefault) *SimulationAdapter {
	return &SimulationAdapter{Channel: channel, Store: store, Seeds: seeds}
}

// Seed inserts the compiled-in metadata for every known pkey, if absent.
// Safe to call repeatedly; never overwrites an existing row.
func (a *SimulationAdapter) Seed(ctx context.Context) error {
	for _, s := range a.Seeds {
		rw := s.RW
		if rw == "" {
			rw = "RW"
		}
		if err := a.Store.SimParamSeed(ctx, model.SimParam{
			Pkey: s.Pkey, Channel: a.Channel, MinV: s.MinV, MaxV: s.MaxV, DefaultV: s.DefaultV, RW: rw,
		}); err != nil {
			return fmt.Errorf("device: simulation seed %s/%s: %w", a.Channel, s.Pkey, err)
		}
	}
	return nil
}

func (a *SimulationAdapter) Execute(ctx context.Context, cmd model.ParsedCommand) (string, error) {
	if reply, isRO := CheckReadOnly(cmd); isRO {
		return reply, nil
	}

	meta, err := a.Store.SimParamGet(ctx, a.Channel, cmd.Pkey)
	if err != nil {
		return "", fmt.Errorf("device: simulation get %s/%s: %w", a.Channel, cmd.Pkey, err)
	}

	if cmd.IsRead() {
		return ReplyRead(cmd.Pkey, effectiveValue(meta)), nil
	}

	if meta == nil {
		return ReplyNAK(cmd.Pkey, NAKUnknownParam), nil
	}
	if meta.RW == "R" {
		return ReplyNAK(cmd.Pkey, NAKReadOnly), nil
	}
	if fv, parseErr := strconv.ParseFloat(cmd.Value, 64); parseErr == nil {
		if meta.MinV != nil && fv < *meta.MinV {
			return ReplyNAK(cmd.Pkey, NAKOutOfRange), nil
		}
		if meta.MaxV != nil && fv > *meta.MaxV {
			return ReplyNAK(cmd.Pkey, NAKOutOfRange), nil
		}
	}

	if err := a.Store.SimParamSetCurrent(ctx, a.Channel, cmd.Pkey, cmd.Value); err != nil {
		return "", fmt.Errorf("device: simulation set %s/%s: %w", a.Channel, cmd.Pkey, err)
	}
	return ReplyAck(cmd.Pkey, cmd.Value), nil
}

// effectiveValue mirrors params.py's get_effective_value: the last written
// value if any, else the channel default, else "0".
func effectiveValue(meta *model.SimParam) string {
	if meta == nil {
		return "0"
	}
	if meta.CurrentV != nil {
		return *meta.CurrentV
	}
	if meta.DefaultV != "" {
		return meta.DefaultV
	}
	return "0"
}
