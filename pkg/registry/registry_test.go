package registry

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zen-systems/toolcascade/pkg/schema"
	"github.com/zen-systems/toolcascade/pkg/tool"
)

func noop() tool.Tool {
	return tool.Func(func(ctx context.Context, task schema.Task, params map[string]string) (tool.Output, error) {
		return tool.Output{Content: "ok", Confidence: 1}, nil
	})
}

func entry(id string, weight float64, tags ...schema.Category) Entry {
	return Entry{
		Descriptor: schema.ToolDescriptor{ID: id, Tags: tags, Weight: weight},
		Tool:       noop(),
	}
}

func ids(seq iter.Seq[schema.ToolDescriptor]) []string {
	var out []string
	for d := range seq {
		out = append(out, d.ID)
	}
	return out
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(entry("calc", 0.5, schema.CategoryCalculationError)))

	err := r.Register(entry("calc", 0.9, schema.CategoryAPIFailure))
	require.ErrorIs(t, err, ErrDuplicateID)

	got, err := r.Get("calc")
	require.NoError(t, err)
	assert.Equal(t, 0.5, got.Descriptor.Weight)
}

func TestRegisterValidatesEntry(t *testing.T) {
	r := New()
	require.ErrorIs(t, r.Register(Entry{Descriptor: schema.ToolDescriptor{ID: "x", Tags: []schema.Category{schema.TagGeneric}}}), ErrInvalidEntry)
	require.ErrorIs(t, r.Register(entry("", 0.5, schema.TagGeneric)), ErrInvalidEntry)
	require.ErrorIs(t, r.Register(entry("untagged", 0.5)), ErrInvalidEntry)
	require.ErrorIs(t, r.Register(entry("odd", 0.5, "NOT_A_TAG")), ErrInvalidEntry)
	assert.Equal(t, 0, r.Len())
}

func TestGetUnknown(t *testing.T) {
	_, err := New().Get("missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLookupOrdersByWeightThenID(t *testing.T) {
	r := New()
	r.MustRegister(entry("b", 0.7, schema.CategoryKnowledgeGap))
	r.MustRegister(entry("a", 0.7, schema.CategoryKnowledgeGap))
	r.MustRegister(entry("c", 0.9, schema.CategoryKnowledgeGap, schema.TagGeneric))
	r.MustRegister(entry("d", 1.0, schema.CategoryAPIFailure))

	seq := r.Lookup(schema.CategoryKnowledgeGap)
	assert.Equal(t, []string{"c", "a", "b"}, ids(seq))
	// restartable
	assert.Equal(t, []string{"c", "a", "b"}, ids(seq))
	assert.Equal(t, []string{"c"}, ids(r.LookupGeneric()))
	assert.Empty(t, ids(r.Lookup(schema.CategoryFileProcessing)))
}

func TestLookupIteratesSnapshot(t *testing.T) {
	r := New()
	r.MustRegister(entry("a", 0.5, schema.TagGeneric))
	seq := r.LookupGeneric()

	r.MustRegister(entry("b", 0.9, schema.TagGeneric))
	assert.Equal(t, []string{"a"}, ids(seq))
	assert.Equal(t, []string{"b", "a"}, ids(r.LookupGeneric()))
}

func TestReweightClampsAndReorders(t *testing.T) {
	r := New()
	r.MustRegister(entry("a", 0.6, schema.TagGeneric))
	r.MustRegister(entry("b", 0.5, schema.TagGeneric))

	require.NoError(t, r.Reweight("b", 4))
	got, err := r.Get("b")
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Descriptor.Weight)
	assert.Equal(t, []string{"b", "a"}, ids(r.LookupGeneric()))

	require.ErrorIs(t, r.Reweight("zzz", 0.1), ErrNotFound)
}

func TestConcurrentUpdatesAreNotLost(t *testing.T) {
	r := New()
	r.MustRegister(entry("a", 0, schema.TagGeneric))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Update("a", func(w float64) float64 { return w + 0.01 })
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := r.Get("a")
	require.NoError(t, err)
	assert.InDelta(t, 0.5, got.Descriptor.Weight, 1e-9)

	_, err = r.Update("zzz", func(w float64) float64 { return w })
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDescriptorsAreCopies(t *testing.T) {
	r := New()
	e := entry("a", 0.5, schema.TagGeneric)
	e.Descriptor.Parameters = map[string]string{"k": "v"}
	r.MustRegister(e)
	e.Descriptor.Parameters["k"] = "mutated"

	got, err := r.Get("a")
	require.NoError(t, err)
	got.Descriptor.Tags[0] = schema.CategoryAPIFailure
	assert.Equal(t, "v", got.Descriptor.Parameters["k"])
	assert.Equal(t, []string{"a"}, ids(r.LookupGeneric()))
}

func TestConcurrentRegisterAndLookup(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				r.MustRegister(entry(fmt.Sprintf("t-%d-%d", i, j), 0.5, schema.TagGeneric))
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				got := ids(r.LookupGeneric())
				if !slices.IsSorted(got) {
					t.Errorf("lookup order broken: %v", got)
					return
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 200, r.Len())
}
