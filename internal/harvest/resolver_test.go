package harvest

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var provinces = []string{
	"กรุงเทพมหานคร", "เชียงใหม่", "ขอนแก่น", "ภูเก็ต", "สงขลา", "ชลบุรี",
	"นครราชสีมา", "อุดรธานี", "พิษณุโลก", "สุราษฎร์ธานี", "ระยอง", "ลำปาง",
}

func TestResolveAfterIncompleteRender(t *testing.T) {
	d := newFakeDriver()
	d.pages = []string{
		optionsPage("เลือกจังหวัด", "กรุงเทพมหานคร", "เชียงใหม่"),
		optionsPage(append([]string{"เลือกจังหวัด"}, provinces...)...),
	}

	r := NewResolver(d, ResolverConfig{
		Selector:            "select#entities",
		PlaceholderPrefixes: []string{"เลือก"},
		MaxTries:            5,
		MinCatalogSize:      10,
	}, nil)

	catalog, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, d.reloads)
	assert.Equal(t, len(provinces), catalog.Len())
	assert.Equal(t, provinces, catalog.Names())

	h, ok := catalog.Get("เชียงใหม่")
	require.True(t, ok)
	assert.Equal(t, "3", h.SelectionValue, "option values come from the control, placeholder included in numbering")
}

func TestResolveFiltersPlaceholdersAndEmptyEntries(t *testing.T) {
	d := newFakeDriver()
	d.pages = []string{`<select id="entities">
		<option value="">Select a province</option>
		<option value="x">   </option>
		<option value="">Orphan</option>
		<option value="1">Bangkok</option>
		<option value="2">Choose wisely</option>
		<option value="3">Chiang Mai</option>
	</select>`}

	r := NewResolver(d, ResolverConfig{
		Selector:            "#entities",
		PlaceholderPrefixes: []string{"select", "choose"},
		MaxTries:            1,
		MinCatalogSize:      2,
	}, nil)

	catalog, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Bangkok", "Chiang Mai"}, catalog.Names())
}

func TestResolveDiscoveryError(t *testing.T) {
	d := newFakeDriver()
	d.pages = []string{optionsPage("A", "B", "C")}
	dir := t.TempDir()

	r := NewResolver(snapshotDriver{d}, ResolverConfig{
		Selector:       "#entities",
		MaxTries:       3,
		MinCatalogSize: 10,
		DiagnosticsDir: dir,
	}, nil)
	r.now = func() time.Time { return time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC) }

	catalog, err := r.Resolve(context.Background())
	assert.Nil(t, catalog)

	var derr *DiscoveryError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, 3, derr.Tries)
	assert.Equal(t, 3, derr.Found)
	assert.Equal(t, 10, derr.Required)
	assert.Equal(t, 2, d.reloads, "no reload after the final try")

	require.NotEmpty(t, derr.Snapshot)
	data, rerr := os.ReadFile(derr.Snapshot)
	require.NoError(t, rerr)
	assert.Contains(t, string(data), "snapshot")
	assert.Contains(t, derr.Snapshot, "discovery_20250304_050607.html")
}

func TestResolveCountsDistinctEntities(t *testing.T) {
	repeated := optionsPage("A", "B", "C", "D", "E", "A", "B", "C", "D", "E")

	t.Run("repeated labels do not meet the threshold", func(t *testing.T) {
		d := newFakeDriver()
		d.pages = []string{repeated}

		r := NewResolver(d, ResolverConfig{Selector: "#entities", MaxTries: 1, MinCatalogSize: 10}, nil)
		catalog, err := r.Resolve(context.Background())
		assert.Nil(t, catalog)

		var derr *DiscoveryError
		require.True(t, errors.As(err, &derr))
		assert.Equal(t, 5, derr.Found)
		assert.Equal(t, 10, derr.Required)
	})

	t.Run("distinct entities meet the threshold", func(t *testing.T) {
		d := newFakeDriver()
		d.pages = []string{repeated}

		r := NewResolver(d, ResolverConfig{Selector: "#entities", MaxTries: 1, MinCatalogSize: 5}, nil)
		catalog, err := r.Resolve(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"A", "B", "C", "D", "E"}, catalog.Names())
	})
}

func TestResolveControlMissing(t *testing.T) {
	d := newFakeDriver()
	d.pages = []string{`<p>still loading</p>`}

	r := NewResolver(d, ResolverConfig{Selector: "#entities", MaxTries: 2, MinCatalogSize: 1}, nil)

	_, err := r.Resolve(context.Background())
	var derr *DiscoveryError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, 0, derr.Found)
	assert.Error(t, derr.Err)
	assert.Empty(t, derr.Snapshot, "plain driver cannot snapshot")
	assert.Contains(t, err.Error(), "matched nothing")
}

func TestResolveCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewResolver(newFakeDriver(), ResolverConfig{Selector: "#entities"}, nil)
	_, err := r.Resolve(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
