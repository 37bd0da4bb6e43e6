package scheduling

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"reflect"
	"slices"
	"testing"

	"github.com/iliyamo/repost-scheduler/internal/ledger"
	"github.com/iliyamo/repost-scheduler/internal/model"
)

func newAllocator(l ledger.Ledger) *Allocator {
	return NewAllocator(l, testScorer(), testEngine())
}

func TestSelectForReachTargetStopsAtTarget(t *testing.T) {
	e := testEngine()
	a := newAllocator(ledger.NewMemoryLedger(limitsOf(e)))
	sub := submission("s1", reach(1500))

	alloc, err := a.SelectForReachTarget(context.Background(), sub, day(11), scenarioPool(), 1500)
	if err != nil {
		t.Fatalf("SelectForReachTarget: %v", err)
	}
	if got := alloc.ChannelIDs(); !slices.Equal(got, []string{"a", "b"}) {
		t.Fatalf("selected %v, want [a b]", got)
	}
	if alloc.TotalReach != 1800 || !alloc.TargetMet || *alloc.Target != 1500 {
		t.Fatalf("allocation = %+v", alloc)
	}
}

func TestSelectForReachTargetReportsShortfall(t *testing.T) {
	e := testEngine()
	a := newAllocator(ledger.NewMemoryLedger(limitsOf(e)))
	alloc, err := a.SelectForReachTarget(context.Background(), submission("s1", nil), day(11), scenarioPool(), 5000)
	if err != nil {
		t.Fatalf("shortfall must not be an error: %v", err)
	}
	if len(alloc.Channels) != 3 || alloc.TotalReach != 2300 || alloc.TargetMet {
		t.Fatalf("allocation = %+v", alloc)
	}
}

func TestSelectForReachTargetEmptyPool(t *testing.T) {
	a := newAllocator(ledger.NewMemoryLedger(limitsOf(testEngine())))
	alloc, err := a.SelectForReachTarget(context.Background(), submission("s1", nil), day(11), nil, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(alloc.Channels) != 0 || alloc.TargetMet {
		t.Fatalf("allocation = %+v", alloc)
	}
}

func TestSuggestChannelsFiltersBusyAndInactive(t *testing.T) {
	ctx := context.Background()
	e := testEngine()
	l := ledger.NewMemoryLedger(limitsOf(e))
	if _, err := l.Reserve(ctx, day(11), []ledger.ChannelQuota{{ID: "b", MonthlyLimit: 10}}); err != nil {
		t.Fatal(err)
	}
	pool := scenarioPool()
	pool[0].Status = model.MemberPaused // c

	got, err := newAllocator(l).SuggestChannels(ctx, submission("s1", nil), day(11), pool)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].MemberID != "a" {
		t.Fatalf("suggestions = %+v", got)
	}

	// another date is unaffected by the reservation on the 11th
	got, err = newAllocator(l).SuggestChannels(ctx, submission("s1", nil), day(12), pool)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected a and b on the 12th, got %d", len(got))
	}
}

func TestSuggestChannelsPrefersFamilyMatch(t *testing.T) {
	pool := []model.Member{
		member("big", 200_000, "pop"),
		member("small", 2_000, "house", "techno"),
	}
	got, err := newAllocator(ledger.NewMemoryLedger(limitsOf(testEngine()))).
		SuggestChannels(context.Background(), submission("s1", nil), day(11), pool)
	if err != nil {
		t.Fatal(err)
	}
	if got[0].MemberID != "small" {
		t.Fatalf("family match should rank first, got %s", got[0].MemberID)
	}
	if got[0].Reasons[0].Factor != "family_match" {
		t.Fatalf("first reason = %+v", got[0].Reasons[0])
	}
}

func TestSuggestChannelsDeterministic(t *testing.T) {
	a := newAllocator(ledger.NewMemoryLedger(limitsOf(testEngine())))
	sub := model.Submission{ID: "s1", Family: "house", Subgenres: []string{"deep", "tech"}, MemberSizeTier: 2}
	pool := append(scenarioPool(), member("d", 30_000, "tech", "deep"))
	first, err := a.SuggestChannels(context.Background(), sub, day(11), pool)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		again, err := a.SuggestChannels(context.Background(), sub, day(11), pool)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d differs", i)
		}
	}
}

func TestQuotaExhaustedMemberIsRankedButNotReserved(t *testing.T) {
	ctx := context.Background()
	e := testEngine()
	l := ledger.NewMemoryLedger(limitsOf(e))

	top := member("top", 50_000, "house")
	top.MonthlySubmissionLimit = 1
	if _, err := l.Reserve(ctx, day(2), []ledger.ChannelQuota{{ID: "top", MonthlyLimit: 1}}); err != nil {
		t.Fatal(err)
	}
	top.MonthlySubmissionCount = 1
	pool := []model.Member{top, member("other", 4_000, "pop")}

	a := newAllocator(l)
	ranked, err := a.SuggestChannels(ctx, submission("s1", nil), day(11), pool)
	if err != nil {
		t.Fatal(err)
	}
	if ranked[0].MemberID != "top" {
		t.Fatalf("quota-exhausted member should still rank first, got %s", ranked[0].MemberID)
	}

	_, err = l.Reserve(ctx, day(11), []ledger.ChannelQuota{{ID: "top", MonthlyLimit: 1}})
	var ce *ledger.CapacityError
	if !errors.As(err, &ce) || ce.Constraint != ledger.ChannelQuotaExceeded || ce.ChannelID != "top" {
		t.Fatalf("expected ChannelQuotaExceeded for top, got %v", err)
	}

	alloc, err := a.SelectForReachTarget(ctx, submission("s1", nil), day(11), pool, 100)
	if err != nil {
		t.Fatal(err)
	}
	if ids := alloc.ChannelIDs(); !slices.Equal(ids, []string{"other"}) {
		t.Fatalf("selection = %v, want [other]", ids)
	}
}

func TestAllocateWithoutTargetTakesDefaultCount(t *testing.T) {
	a := newAllocator(ledger.NewMemoryLedger(limitsOf(testEngine())))
	alloc, err := a.Allocate(context.Background(), submission("s1", nil), day(11), scenarioPool())
	if err != nil {
		t.Fatal(err)
	}
	if ids := alloc.ChannelIDs(); !slices.Equal(ids, []string{"a", "b"}) {
		t.Fatalf("selection = %v", ids)
	}
	if alloc.Target != nil || !alloc.TargetMet || alloc.TotalReach != 1800 {
		t.Fatalf("allocation = %+v", alloc)
	}
}

func TestGreedySelectionNeverOvershootsByMoreThanOneChannel(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 11))
	families := []string{"house", "techno", "pop"}
	a := newAllocator(ledger.NewMemoryLedger(limitsOf(testEngine())))

	for trial := 0; trial < 200; trial++ {
		var pool []model.Member
		n := 1 + r.IntN(12)
		for i := 0; i < n; i++ {
			pool = append(pool, member(fmt.Sprintf("m%02d", i), int64(r.IntN(100_000)), families[r.IntN(len(families))]))
		}
		target := int64(1 + r.IntN(60_000))
		alloc, err := a.SelectForReachTarget(context.Background(), submission("s", nil), day(11), pool, target)
		if err != nil {
			t.Fatal(err)
		}
		var sum int64
		for _, c := range alloc.Channels {
			sum += c.EstimatedReach
		}
		if sum != alloc.TotalReach {
			t.Fatalf("trial %d: total %d != sum %d", trial, alloc.TotalReach, sum)
		}
		if !alloc.TargetMet {
			if len(alloc.Channels) != len(pool) {
				t.Fatalf("trial %d: stopped early without meeting target", trial)
			}
			continue
		}
		last := alloc.Channels[len(alloc.Channels)-1]
		if alloc.TotalReach-last.EstimatedReach >= target {
			t.Fatalf("trial %d: selection continued past target %d", trial, target)
		}
	}
}
