package device

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TSS-CH/MAS-004-RPI-Databridge/internal/model"
)

type fakeSimStore struct {
	params map[string]model.SimParam
}

func newFakeSimStore() *fakeSimStore {
	return &fakeSimStore{params: map[string]model.SimParam{}}
}

func (f *fakeSimStore) SimParamGet(ctx context.Context, channel, pkey string) (*model.SimParam, error) {
	p, ok := f.params[channel+"/"+pkey]
	if !ok {
		return nil, nil
	}
	cp := p
	return &cp, nil
}

func (f *fakeSimStore) SimParamSeed(ctx context.Context, p model.SimParam) error {
	key := p.Channel + "/" + p.Pkey
	if _, exists := f.params[key]; exists {
		return nil
	}
	f.params[key] = p
	return nil
}

func (f *fakeSimStore) SimParamSetCurrent(ctx context.Context, channel, pkey, value string) error {
	key := channel + "/" + pkey
	p := f.params[key]
	v := value
	p.CurrentV = &v
	f.params[key] = p
	return nil
}

func minMax(lo, hi float64) (*float64, *float64) { return &lo, &hi }

func TestSimulationReadDefaultWhenUnwritten(t *testing.T) {
	store := newFakeSimStore()
	a := NewSimulationAdapter("vj6530", store, []SeedDefault{{Pkey: "TTP00002", DefaultV: "16", RW: "RW"}})
	require.NoError(t, a.Seed(context.Background()))

	reply, err := a.Execute(context.Background(), model.ParsedCommand{Ptype: "TTP", Pid: "00002", Pkey: "TTP00002", Value: model.ReadSentinel})
	require.NoError(t, err)
	assert.Equal(t, "TTP00002=16", reply)
}

func TestSimulationWriteThenRead(t *testing.T) {
	store := newFakeSimStore()
	a := NewSimulationAdapter("vj6530", store, []SeedDefault{{Pkey: "TTP00002", DefaultV: "16", RW: "RW"}})
	require.NoError(t, a.Seed(context.Background()))

	reply, err := a.Execute(context.Background(), model.ParsedCommand{Ptype: "TTP", Pid: "00002", Pkey: "TTP00002", Value: "23"})
	require.NoError(t, err)
	assert.Equal(t, "ACK_TTP00002=23", reply)

	reply, err = a.Execute(context.Background(), model.ParsedCommand{Ptype: "TTP", Pid: "00002", Pkey: "TTP00002", Value: model.ReadSentinel})
	require.NoError(t, err)
	assert.Equal(t, "TTP00002=23", reply)
}

func TestSimulationUnknownParam(t *testing.T) {
	store := newFakeSimStore()
	a := NewSimulationAdapter("vj6530", store, nil)

	reply, err := a.Execute(context.Background(), model.ParsedCommand{Ptype: "TTP", Pid: "99999", Pkey: "TTP99999", Value: "1"})
	require.NoError(t, err)
	assert.Equal(t, "TTP99999=NAK_UnknownParam", reply)
}

func TestSimulationOutOfRange(t *testing.T) {
	min, max := minMax(0, 100)
	store := newFakeSimStore()
	require.NoError(t, store.SimParamSeed(context.Background(), model.SimParam{Pkey: "TTP00002", Channel: "vj6530", MinV: min, MaxV: max, DefaultV: "16", RW: "RW"}))
	a := NewSimulationAdapter("vj6530", store, nil)

	reply, err := a.Execute(context.Background(), model.ParsedCommand{Ptype: "TTP", Pid: "00002", Pkey: "TTP00002", Value: "999"})
	require.NoError(t, err)
	assert.Equal(t, "TTP00002=NAK_OutOfRange", reply)
}

func TestSimulationReadOnlyMetadataBlocksWrite(t *testing.T) {
	store := newFakeSimStore()
	require.NoError(t, store.SimParamSeed(context.Background(), model.SimParam{Pkey: "TTP00002", Channel: "vj6530", DefaultV: "16", RW: "R"}))
	a := NewSimulationAdapter("vj6530", store, nil)

	reply, err := a.Execute(context.Background(), model.ParsedCommand{Ptype: "TTP", Pid: "00002", Pkey: "TTP00002", Value: "1"})
	require.NoError(t, err)
	assert.Equal(t, "TTP00002=NAK_ReadOnly", reply)
}

func TestCheckReadOnlyPtypeBlocksWriteRegardlessOfMetadata(t *testing.T) {
	reply, isRO := CheckReadOnly(model.ParsedCommand{Ptype: "TTE", Pid: "0001", Pkey: "TTE0001", Value: "5"})
	assert.True(t, isRO)
	assert.Equal(t, "TTE0001=NAK_ReadOnly", reply)

	_, isRO = CheckReadOnly(model.ParsedCommand{Ptype: "TTE", Pid: "0001", Pkey: "TTE0001", Value: model.ReadSentinel})
	assert.False(t, isRO)
}
