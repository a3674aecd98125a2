package feed

import (
	"testing"
)

func TestBookFeed_Snapshot(t *testing.T) {
	f := NewBookFeed("wss://example.invalid/ws/market")

	frame := `{"event_type":"book","asset_id":"tok1","market":"0xabc",
		"bids":[{"price":"0.38","size":"100"},{"price":"0.40","size":"50"}],
		"asks":[{"price":"0.44","size":"80"},{"price":"0.42","size":"60"}],
		"timestamp":"1700000000000"}`
	f.handleRaw([]byte(frame))

	b, ok := f.GetBookState("tok1")
	if !ok {
		t.Fatalf("expected book state for tok1")
	}
	if b.BestBid != 0.40 {
		t.Fatalf("best bid got=%v want=0.40", b.BestBid)
	}
	if b.BestAsk != 0.42 {
		t.Fatalf("best ask got=%v want=0.42", b.BestAsk)
	}
	if b.MidPrice != 0.41 {
		t.Fatalf("mid got=%v want=0.41", b.MidPrice)
	}
	if b.LastUpdateTs == 0 {
		t.Fatalf("lastUpdateTs not set")
	}
}

func TestBookFeed_PriceChangePreservesSizes(t *testing.T) {
	f := NewBookFeed("wss://example.invalid/ws/market")

	f.handleRaw([]byte(`{"event_type":"book","asset_id":"tok1","market":"0xabc",
		"bids":[{"price":"0.40","size":"50"}],
		"asks":[{"price":"0.42","size":"60"}]}`))
	before, _ := f.GetBookState("tok1")

	// 只动 ask 一侧，bid 深度不应被清掉
	f.handleRaw([]byte(`{"event_type":"price_change","asset_id":"tok1",
		"changes":[{"price":"0.41","size":"30","side":"SELL"}]}`))

	after, _ := f.GetBookState("tok1")
	if after.BestAsk != 0.41 {
		t.Fatalf("best ask got=%v want=0.41", after.BestAsk)
	}
	if after.BidSizeUSD != before.BidSizeUSD {
		t.Fatalf("bid size changed: got=%v want=%v", after.BidSizeUSD, before.BidSizeUSD)
	}
}

func TestBookFeed_BatchedEventsAndJunk(t *testing.T) {
	f := NewBookFeed("wss://example.invalid/ws/market")

	// 批量事件数组
	f.handleRaw([]byte(`[
		{"event_type":"book","asset_id":"a","bids":[{"price":"0.30","size":"10"}],"asks":[{"price":"0.34","size":"10"}]},
		{"event_type":"book","asset_id":"b","bids":[{"price":"0.60","size":"10"}],"asks":[{"price":"0.62","size":"10"}]}
	]`))
	if _, ok := f.GetBookState("a"); !ok {
		t.Fatalf("expected state for a")
	}
	if _, ok := f.GetBookState("b"); !ok {
		t.Fatalf("expected state for b")
	}

	// 坏帧与 PONG 不得 panic、不得产生状态
	f.handleRaw([]byte("PONG"))
	f.handleRaw([]byte("{not json"))
	f.handleRaw([]byte(`{"event_type":"book"}`)) // 缺 asset_id
	if _, ok := f.GetBookState(""); ok {
		t.Fatalf("empty asset id must not create state")
	}
}

func TestBookFeed_NeverObservedIsAbsent(t *testing.T) {
	f := NewBookFeed("wss://example.invalid/ws/market")
	if _, ok := f.GetBookState("ghost"); ok {
		t.Fatalf("never-observed token must be absent, not zero-stale")
	}
}
