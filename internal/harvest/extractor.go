package harvest

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/dbsmedya/goharvest/internal/config"
	"github.com/dbsmedya/goharvest/internal/page"
	"github.com/dbsmedya/goharvest/internal/types"
)

// Extractor turns the view scoped to one entity into a record. A nil record
// with a nil error means the expected structure was not present.
type Extractor interface {
	Extract(view *goquery.Document, entity string) (*types.HarvestRecord, error)
}

// CardExtractor reads the forecast card labelled with the configured period.
// Among the card's field elements the first containing a percent sign is the
// percentage and the first without one is the condition.
type CardExtractor struct {
	selectors config.ExtractorConfig
	columns   config.ColumnsConfig
	now       func() time.Time
}

// NewCardExtractor creates a CardExtractor. A nil clock uses time.Now.
func NewCardExtractor(selectors config.ExtractorConfig, columns config.ColumnsConfig, now func() time.Time) *CardExtractor {
	if now == nil {
		now = time.Now
	}
	return &CardExtractor{selectors: selectors, columns: columns, now: now}
}

// Extract implements Extractor.
func (e *CardExtractor) Extract(view *goquery.Document, entity string) (*types.HarvestRecord, error) {
	if view == nil {
		return nil, nil
	}

	var record *types.HarvestRecord
	view.Find(e.selectors.CardSelector).EachWithBreak(func(_ int, card *goquery.Selection) bool {
		if cleanText(card.Find(e.selectors.PeriodSelector).First().Text()) != e.selectors.PeriodLabel {
			return true
		}

		var condition, percent string
		card.Find(e.selectors.FieldSelector).Each(func(_ int, field *goquery.Selection) {
			txt := cleanText(field.Text())
			if txt == "" {
				return
			}
			if strings.Contains(txt, "%") {
				if percent == "" {
					percent = txt
				}
			} else if condition == "" {
				condition = txt
			}
		})
		if condition == "" || percent == "" {
			return true
		}

		attrs := map[string]interface{}{
			e.columns.Condition: condition,
		}
		if v, ok := ParsePercent(percent); ok {
			attrs[e.columns.Percent] = v
		} else {
			attrs[e.columns.Percent] = nil
		}
		record = &types.HarvestRecord{
			EntityKey:  entity,
			Attributes: attrs,
			CapturedAt: e.now(),
		}
		return false
	})
	return record, nil
}

// Ready returns a predicate that holds once a card carries a percentage field.
func (e *CardExtractor) Ready() page.Predicate {
	return func(view *goquery.Document) bool {
		found := false
		view.Find(e.selectors.CardSelector).Find(e.selectors.FieldSelector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			found = strings.Contains(s.Text(), "%")
			return !found
		})
		return found
	}
}

// SelectorReady returns a predicate that holds once selector matches.
func SelectorReady(selector string) page.Predicate {
	return func(view *goquery.Document) bool {
		return view.Find(selector).Length() > 0
	}
}

var digitRun = regexp.MustCompile(`\d+`)

// ParsePercent converts the first run of digits in text to a fraction.
// "70%" yields 0.7. Text without digits yields ok == false, never 0.
func ParsePercent(text string) (float64, bool) {
	m := digitRun.FindString(text)
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0, false
	}
	return float64(n) / 100, true
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
