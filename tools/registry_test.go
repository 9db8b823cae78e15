package tools_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/reagent/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoTool(name string) (tools.Descriptor, tools.HandlerFunc) {
	return tools.Descriptor{
			Name:        name,
			Description: "returns its input",
			Parameters: []tools.Parameter{
				{Name: "text", Type: tools.TypeString, Required: true},
			},
		}, func(_ context.Context, args map[string]any) (any, error) {
			return args["text"], nil
		}
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	reg := tools.NewRegistry()
	assert.Equal(t, 0, reg.Len())
	empty := reg.Fingerprint()

	for _, name := range []string{"zeta", "alpha", "mid"} {
		d, fn := echoTool(name)
		require.NoError(t, reg.RegisterFunc(d, fn))
	}
	assert.Equal(t, 3, reg.Len())
	assert.NotEqual(t, empty, reg.Fingerprint())

	// registration order
	var names []string
	for _, d := range reg.List() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, names)
	assert.Equal(t, names, reg.Names())

	d, fn := echoTool("Alpha")
	err := reg.RegisterFunc(d, fn)
	require.Error(t, err)
	assert.True(t, errors.Is(err, tools.ErrDuplicateTool))
	assert.Equal(t, 3, reg.Len())

	h, ok := reg.Resolve("ALPHA")
	require.True(t, ok)
	assert.Equal(t, tools.Local, h.Kind())

	_, ok = reg.Resolve("missing")
	assert.False(t, ok)

	fp := reg.Fingerprint()
	assert.Equal(t, fp, reg.Fingerprint())

	assert.True(t, reg.Unregister("alpha"))
	assert.False(t, reg.Unregister("alpha"))
	assert.Equal(t, []string{"zeta", "mid"}, reg.Names())
	assert.NotEqual(t, fp, reg.Fingerprint())
}

func TestRegistryListIsCopy(t *testing.T) {
	t.Parallel()

	reg := tools.NewRegistry()
	d, fn := echoTool("echo")
	require.NoError(t, reg.RegisterFunc(d, fn))

	list := reg.List()
	list[0].Parameters[0].Name = "changed"

	got, _, ok := reg.Lookup("echo")
	require.True(t, ok)
	assert.Equal(t, "text", got.Parameters[0].Name)

	got.Parameters[0].Name = "changed"
	got, _, _ = reg.Lookup("echo")
	assert.Equal(t, "text", got.Parameters[0].Name)

	enum := []any{"add", "sub"}
	require.NoError(t, reg.RegisterFunc(tools.Descriptor{
		Name:       "calc",
		Parameters: []tools.Parameter{{Name: "op", Type: tools.TypeString, Enum: enum}},
	}, fn))
	enum[0] = "pow"

	got, _, _ = reg.Lookup("calc")
	got.Parameters[0].Enum[1] = "mul"
	for _, d := range reg.List() {
		if d.Name == "calc" {
			d.Parameters[0].Enum[0] = "div"
		}
	}

	got, _, _ = reg.Lookup("calc")
	assert.Equal(t, []any{"add", "sub"}, got.Parameters[0].Enum)
}

func TestRegistryInvalidDescriptor(t *testing.T) {
	t.Parallel()

	noop := func(context.Context, map[string]any) (any, error) { return nil, nil }

	tcases := []struct {
		name string
		desc tools.Descriptor
		err  string
	}{
		{
			name: "empty name",
			desc: tools.Descriptor{},
			err:  "Descriptor.Name",
		},
		{
			name: "whitespace",
			desc: tools.Descriptor{Name: "two words"},
			err:  "name must not contain whitespace",
		},
		{
			name: "bad type",
			desc: tools.Descriptor{Name: "t", Parameters: []tools.Parameter{{Name: "a", Type: "date"}}},
			err:  "Parameters[0].Type",
		},
		{
			name: "duplicate parameter",
			desc: tools.Descriptor{Name: "t", Parameters: []tools.Parameter{
				{Name: "a", Type: tools.TypeString},
				{Name: "a", Type: tools.TypeNumber},
			}},
			err: `duplicate parameter "a"`,
		},
		{
			name: "bad default",
			desc: tools.Descriptor{Name: "t", Parameters: []tools.Parameter{
				{Name: "a", Type: tools.TypeNumber, Default: "ten"},
			}},
			err: `argument "a" must be number`,
		},
	}

	reg := tools.NewRegistry()
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			err := reg.RegisterFunc(tc.desc, noop)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tools.ErrInvalidDescriptor))
			assert.Contains(t, err.Error(), tc.err)
		})
	}

	err := reg.RegisterFunc(tools.Descriptor{Name: "nil"}, nil)
	assert.True(t, errors.Is(err, tools.ErrInvalidDescriptor))
	err = reg.Register(tools.Descriptor{Name: "nil"}, nil)
	assert.True(t, errors.Is(err, tools.ErrInvalidDescriptor))
	assert.Equal(t, 0, reg.Len())
}

func TestRegistryConcurrent(t *testing.T) {
	t.Parallel()

	reg := tools.NewRegistry()
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			d, fn := echoTool(fmt.Sprintf("tool_%d", i))
			assert.NoError(t, reg.RegisterFunc(d, fn))
		}()
		go func() {
			defer wg.Done()
			_ = reg.List()
			_, _ = reg.Resolve(fmt.Sprintf("tool_%d", i))
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, reg.Len())
}
