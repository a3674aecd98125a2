package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"
)

func futureDate() string {
	return time.Now().Add(7 * 24 * time.Hour).UTC().Format(time.RFC3339)
}

func validRow(id string) gammaMarket {
	return gammaMarket{
		ID:           id,
		ConditionID:  "cond-" + id,
		Question:     "Will BTC be above $110,000 on Jan 1?",
		ClobTokenIDs: json.RawMessage(`["yes-tok","no-tok"]`),
		Outcomes:     json.RawMessage(`["Yes","No"]`),
		EndDate:      futureDate(),
	}
}

func TestParseStrike(t *testing.T) {
	cases := []struct {
		question string
		want     float64
	}{
		{"Will BTC be above $110,000 on Jan 1?", 110000},
		{"Will BTC hit 110k by Friday?", 110000},
		{"Will ETH be above $3,450.50?", 3450.50},
		{"Will BTC reach 95.5K?", 95500},
		{"Will it rain tomorrow?", 0},
	}
	for _, c := range cases {
		if got := parseStrike(c.question); got != c.want {
			t.Fatalf("parseStrike(%q) got=%v want=%v", c.question, got, c.want)
		}
	}
}

func TestParseRow_Valid(t *testing.T) {
	meta, ok := parseRow(validRow("1"), time.Now(), false)
	if !ok {
		t.Fatalf("expected row to parse")
	}
	if meta.StrikeUSD != 110000 {
		t.Fatalf("strike got=%v want=110000", meta.StrikeUSD)
	}
	if meta.YesTokenID != "yes-tok" || meta.NoTokenID != "no-tok" {
		t.Fatalf("token assignment got=%s/%s", meta.YesTokenID, meta.NoTokenID)
	}
}

func TestParseRow_OutcomeLabelsReversed(t *testing.T) {
	row := validRow("1")
	row.Outcomes = json.RawMessage(`["No","Yes"]`)
	meta, ok := parseRow(row, time.Now(), false)
	if !ok {
		t.Fatalf("expected row to parse")
	}
	if meta.YesTokenID != "no-tok" || meta.NoTokenID != "yes-tok" {
		t.Fatalf("label mapping ignored: yes=%s no=%s", meta.YesTokenID, meta.NoTokenID)
	}
}

func TestParseRow_TokenIDsAsJSONString(t *testing.T) {
	row := validRow("1")
	row.ClobTokenIDs = json.RawMessage(`"[\"yes-tok\",\"no-tok\"]"`)
	meta, ok := parseRow(row, time.Now(), false)
	if !ok {
		t.Fatalf("expected JSON-string token ids to parse")
	}
	if meta.YesTokenID != "yes-tok" {
		t.Fatalf("yes token got=%s", meta.YesTokenID)
	}
}

func TestParseRow_Rejections(t *testing.T) {
	now := time.Now()

	past := validRow("1")
	past.EndDate = now.Add(-time.Hour).UTC().Format(time.RFC3339)
	if _, ok := parseRow(past, now, false); ok {
		t.Fatalf("past-expiry row must be excluded")
	}

	noTokens := validRow("2")
	noTokens.ClobTokenIDs = nil
	if _, ok := parseRow(noTokens, now, false); ok {
		t.Fatalf("row missing token ids must be excluded")
	}

	noStrike := validRow("3")
	noStrike.Question = "Will the Lakers win the title?"
	if _, ok := parseRow(noStrike, now, false); ok {
		t.Fatalf("strikeless row must be excluded when generic markets are off")
	}
	meta, ok := parseRow(noStrike, now, true)
	if !ok {
		t.Fatalf("strikeless row must be retained when generic markets are on")
	}
	if meta.StrikeUSD != 0 {
		t.Fatalf("generic market must carry strike=0, got %v", meta.StrikeUSD)
	}
}

// fakeFetcher 按 tag 返回固定行或错误
type fakeFetcher struct {
	rows map[string][]gammaMarket
	errs map[string]error
}

func (f *fakeFetcher) FetchMarkets(_ context.Context, tag string, _ int) ([]gammaMarket, error) {
	if err := f.errs[tag]; err != nil {
		return nil, err
	}
	return f.rows[tag], nil
}

func TestDiscover_TagFailureIsolation(t *testing.T) {
	rowA := validRow("a")
	rowB := validRow("b")
	svc := &Service{
		fetcher: &fakeFetcher{
			rows: map[string][]gammaMarket{"crypto": {rowA}, "bitcoin": {rowB}},
			errs: map[string]error{"crypto": fmt.Errorf("boom")},
		},
		config: Config{Tags: []string{"crypto", "bitcoin"}, Limit: 10},
	}

	svc.Discover(context.Background())

	contracts := svc.GetContracts()
	if len(contracts) != 1 {
		t.Fatalf("expected 1 contract despite tag failure, got %d", len(contracts))
	}
	if contracts[0].ConditionID != "cond-b" {
		t.Fatalf("wrong contract survived: %s", contracts[0].ConditionID)
	}
}

func TestDiscover_DedupeAcrossTags(t *testing.T) {
	row := validRow("same")
	svc := &Service{
		fetcher: &fakeFetcher{
			rows: map[string][]gammaMarket{"crypto": {row}, "bitcoin": {row}},
		},
		config: Config{Tags: []string{"crypto", "bitcoin"}, Limit: 10},
	}
	svc.Discover(context.Background())
	if got := len(svc.GetContracts()); got != 1 {
		t.Fatalf("dedupe failed: got %d contracts", got)
	}
}

func TestDiscover_BulkFallback(t *testing.T) {
	row := validRow("bulk")
	svc := &Service{
		fetcher: &fakeFetcher{
			rows: map[string][]gammaMarket{"": {row}},
		},
		config: Config{Tags: []string{"crypto"}, Limit: 10},
	}
	svc.Discover(context.Background())
	if got := len(svc.GetContracts()); got != 1 {
		t.Fatalf("bulk fallback failed: got %d contracts", got)
	}
}

func TestDiscover_RefreshPushesTokenSet(t *testing.T) {
	row := validRow("a")
	svc := &Service{
		fetcher: &fakeFetcher{rows: map[string][]gammaMarket{"crypto": {row}}},
		config:  Config{Tags: []string{"crypto"}, Limit: 10},
	}
	var pushed []string
	svc.OnRefresh(func(ids []string) { pushed = ids })
	svc.Discover(context.Background())
	if len(pushed) != 2 {
		t.Fatalf("expected 2 token ids pushed, got %v", pushed)
	}
}

func TestDecodeMarkets_WrappedAndBare(t *testing.T) {
	bare := []byte(`[{"id":"1"}]`)
	rows, err := decodeMarkets(bare)
	if err != nil || len(rows) != 1 {
		t.Fatalf("bare array decode failed: %v %v", rows, err)
	}
	wrapped := []byte(`{"data":[{"id":"1"},{"id":"2"}]}`)
	rows, err = decodeMarkets(wrapped)
	if err != nil || len(rows) != 2 {
		t.Fatalf("wrapped decode failed: %v %v", rows, err)
	}
}
