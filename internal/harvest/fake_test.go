package harvest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/dbsmedya/goharvest/internal/page"
	"github.com/dbsmedya/goharvest/internal/types"
)

// Outcomes scripted per attempt for an entity's selection value.
const (
	outcomeOK       = "ok"
	outcomeSelect   = "select"
	outcomeStale    = "stale"
	outcomeNotReady = "notready"
	outcomeNoRecord = "norecord"
	outcomeError    = "error"
)

// fakeDriver serves scripted views. For discovery, pages[i] is the control
// markup after i reloads. For harvesting, script[value] lists the outcome of
// each successive attempt; an exhausted script repeats its last entry.
type fakeDriver struct {
	pages   []string
	script  map[string][]string
	reloads int

	attempts map[string]int
	value    string
	outcome  string
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		pages:    []string{`<select id="entities"></select>`},
		script:   map[string][]string{},
		attempts: map[string]int{},
	}
}

func (d *fakeDriver) Locate(_ context.Context, selector string) (*page.Handle, error) {
	idx := d.reloads
	if idx >= len(d.pages) {
		idx = len(d.pages) - 1
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(d.pages[idx]))
	if err != nil {
		return nil, err
	}
	sel := doc.Find(selector).First()
	if sel.Length() == 0 {
		return nil, nil
	}
	return page.NewHandle(sel, nil, uint64(d.reloads)), nil
}

func (d *fakeDriver) ApplySelection(_ context.Context, _ *page.Handle, value string) (bool, error) {
	outcomes := d.script[value]
	n := d.attempts[value]
	d.attempts[value] = n + 1

	outcome := outcomeOK
	if len(outcomes) > 0 {
		if n >= len(outcomes) {
			n = len(outcomes) - 1
		}
		outcome = outcomes[n]
	}

	d.value = value
	d.outcome = outcome
	switch outcome {
	case outcomeSelect:
		return false, nil
	case outcomeStale:
		return false, page.ErrStaleHandle
	}
	return true, nil
}

func (d *fakeDriver) WaitFor(_ context.Context, _ page.Predicate, _ time.Duration) (bool, error) {
	return d.outcome != outcomeNotReady, nil
}

func (d *fakeDriver) Reload(context.Context) error {
	d.reloads++
	return nil
}

func (d *fakeDriver) CurrentView() *goquery.Document {
	html := fmt.Sprintf(`<div id="view" data-value=%q data-outcome=%q></div>`, d.value, d.outcome)
	doc, _ := goquery.NewDocumentFromReader(strings.NewReader(html))
	return doc
}

// snapshotDriver adds diagnostic snapshots to fakeDriver.
type snapshotDriver struct {
	*fakeDriver
}

func (d snapshotDriver) Snapshot() ([]byte, error) {
	return []byte("<html>snapshot</html>"), nil
}

// viewExtractor produces records according to the outcome rendered by fakeDriver.
type viewExtractor struct {
	at time.Time
}

func (e viewExtractor) Extract(view *goquery.Document, entity string) (*types.HarvestRecord, error) {
	switch view.Find("#view").AttrOr("data-outcome", "") {
	case outcomeNoRecord:
		return nil, nil
	case outcomeError:
		return nil, errors.New("card markup changed")
	}
	return &types.HarvestRecord{
		EntityKey:  entity,
		Attributes: map[string]interface{}{"value": view.Find("#view").AttrOr("data-value", "")},
		CapturedAt: e.at,
	}, nil
}

func catalogOf(pairs ...string) *types.EntityCatalog {
	var handles []types.EntityHandle
	for i := 0; i+1 < len(pairs); i += 2 {
		handles = append(handles, types.EntityHandle{Name: pairs[i], SelectionValue: pairs[i+1]})
	}
	return types.NewEntityCatalog(handles)
}

func optionsPage(labels ...string) string {
	var b strings.Builder
	b.WriteString(`<select id="entities">`)
	for i, l := range labels {
		fmt.Fprintf(&b, `<option value="%d">%s</option>`, i+1, l)
	}
	b.WriteString(`</select>`)
	return b.String()
}
