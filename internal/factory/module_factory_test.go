package factory

import (
	"context"
	"errors"
	"testing"

	"NetflowAnalyzer/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubModule struct{ name string }

func (s *stubModule) Name() string { return s.name }

func (s *stubModule) Run(ctx context.Context, _ <-chan model.FlowPacket) error {
	<-ctx.Done()
	return nil
}

func TestCreate(t *testing.T) {
	RegisterModule("factory_test_stub", func(desc model.ModuleDescriptor, _ Env) (model.Module, error) {
		return &stubModule{name: desc.Name}, nil
	})
	RegisterModule("factory_test_broken", func(model.ModuleDescriptor, Env) (model.Module, error) {
		return nil, errors.New("boom")
	})

	t.Run("type defaults to name", func(t *testing.T) {
		mod, err := Create(model.ModuleDescriptor{Name: "factory_test_stub"}, Env{})
		require.NoError(t, err)
		assert.Equal(t, "factory_test_stub", mod.Name())
	})

	t.Run("explicit type", func(t *testing.T) {
		mod, err := Create(model.ModuleDescriptor{Name: "second", Type: "factory_test_stub"}, Env{})
		require.NoError(t, err)
		assert.Equal(t, "second", mod.Name())
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := Create(model.ModuleDescriptor{Name: "nope"}, Env{})
		assert.ErrorContains(t, err, "unknown module type")
	})

	t.Run("factory error is wrapped", func(t *testing.T) {
		_, err := Create(model.ModuleDescriptor{Name: "x", Type: "factory_test_broken"}, Env{})
		assert.ErrorContains(t, err, "boom")
		assert.ErrorContains(t, err, "'x'")
	})

	assert.Contains(t, Types(), "factory_test_stub")
	assert.Panics(t, func() {
		RegisterModule("factory_test_stub", nil)
	})
}
