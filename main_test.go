package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nixxel-company-limited/receipt-bridge/adapter"
	"github.com/nixxel-company-limited/receipt-bridge/config"
)

func TestBuildRegistryOrder(t *testing.T) {
	cfg := &config.Config{
		Transports: []adapter.Kind{adapter.RawUSB, adapter.NativeSpooler, adapter.VendorDriver, adapter.VendorUSBLibrary},
	}

	registry, err := buildRegistry(cfg)
	require.NoError(t, err)
	assert.Equal(t, adapter.Kinds(), registry.Kinds())
}

func TestBuildRegistrySubset(t *testing.T) {
	cfg := &config.Config{
		Transports: []adapter.Kind{adapter.RawUSB},
		VendorIDs:  []uint16{0x04b8},
	}

	registry, err := buildRegistry(cfg)
	require.NoError(t, err)
	assert.Equal(t, []adapter.Kind{adapter.RawUSB}, registry.Kinds())

	_, ok := registry.Get(adapter.VendorDriver)
	assert.False(t, ok)
}

func TestBuildRegistryBadCodePage(t *testing.T) {
	_, err := buildRegistry(&config.Config{CodePage: "klingon"})
	assert.Error(t, err)
}
