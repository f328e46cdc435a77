package marketdata

import (
	"context"
	"testing"
	"time"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}

func TestSyntheticDeterministic(t *testing.T) {
	src := &SyntheticSource{}
	from, to := day(2026, time.March, 2), day(2026, time.March, 6)

	a, err := src.Load(context.Background(), []string{"AAPL", "TSLA"}, from, to)
	if err != nil {
		t.Fatalf("first load: %v", err)
	}
	b, err := src.Load(context.Background(), []string{"AAPL", "TSLA"}, from, to)
	if err != nil {
		t.Fatalf("second load: %v", err)
	}

	for _, sym := range []string{"AAPL", "TSLA"} {
		if len(a[sym]) != len(b[sym]) {
			t.Fatalf("%s: lengths differ: %d vs %d", sym, len(a[sym]), len(b[sym]))
		}
		for i := range a[sym] {
			if a[sym][i] != b[sym][i] {
				t.Fatalf("%s: bar %d differs between identical loads", sym, i)
			}
		}
	}
}

func TestSyntheticDifferentSymbolsDiffer(t *testing.T) {
	src := &SyntheticSource{}
	from, to := day(2026, time.March, 3), day(2026, time.March, 3)

	series, err := src.Load(context.Background(), []string{"AAPL", "MSFT"}, from, to)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	same := true
	for i := range series["AAPL"] {
		if series["AAPL"][i].Close != series["MSFT"][i].Close {
			same = false
			break
		}
	}
	if same {
		t.Fatal("AAPL and MSFT produced identical price series")
	}
}

func TestSyntheticSessionShape(t *testing.T) {
	src := &SyntheticSource{}
	// Mon Mar 2 through Fri Mar 6 plus the weekend after.
	from, to := day(2026, time.March, 2), day(2026, time.March, 8)

	series, err := src.Load(context.Background(), []string{"NVDA"}, from, to)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	candles := series["NVDA"]

	// 5 trading days x 390 one-minute bars, weekend contributes nothing.
	if want := 5 * 390; len(candles) != want {
		t.Fatalf("bar count = %d, want %d", len(candles), want)
	}

	for i, c := range candles {
		if i > 0 && !candles[i-1].TS.Before(c.TS) {
			t.Fatalf("bar %d: TS %v not after previous %v", i, c.TS, candles[i-1].TS)
		}
		if c.Low < 1 || c.High < c.Low || c.Open < c.Low || c.Open > c.High ||
			c.Close < c.Low || c.Close > c.High {
			t.Fatalf("bar %d: inconsistent OHLC %+v", i, c)
		}
		if c.Volume <= 0 {
			t.Fatalf("bar %d: non-positive volume %d", i, c.Volume)
		}
	}
}

func TestWithIndicatorsPopulatesAfterWarmup(t *testing.T) {
	src := WithIndicators(&SyntheticSource{})
	from, to := day(2026, time.March, 3), day(2026, time.March, 3)

	series, err := src.Load(context.Background(), []string{"AMD"}, from, to)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	candles := series["AMD"]
	if len(candles) == 0 {
		t.Fatal("no candles")
	}

	if candles[0].Ind != nil {
		t.Fatal("first bar should have no indicators before warmup")
	}
	last := candles[len(candles)-1]
	if last.Ind == nil {
		t.Fatal("last bar should carry indicators after warmup")
	}
	if last.Ind.RSI14 < 0 || last.Ind.RSI14 > 100 {
		t.Fatalf("RSI out of range: %f", last.Ind.RSI14)
	}
}

func TestParseStrategy(t *testing.T) {
	for _, ok := range []string{"live", "store", "historical", "synthetic"} {
		if _, err := ParseStrategy(ok); err != nil {
			t.Errorf("ParseStrategy(%q) = %v", ok, err)
		}
	}
	if _, err := ParseStrategy("quantum"); err == nil {
		t.Error("ParseStrategy accepted unknown strategy")
	}
}
