package experiment

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/khanglvm/personalize/internal/storage"
	"github.com/khanglvm/personalize/internal/tracking"
	"github.com/khanglvm/personalize/internal/visitor"
)

var testVisitor = visitor.Visitor{DeviceID: "dev-1", IdentityID: "user-1"}

// recordingTracker writes events straight to a sink.
type recordingTracker struct {
	mu     sync.Mutex
	sink   storage.EventSink
	events []tracking.Event
}

func (r *recordingTracker) Track(event tracking.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)

	ctx := context.Background()
	switch event.Kind {
	case tracking.KindImpression:
		r.sink.RecordImpression(ctx, event.Impression)
	case tracking.KindConversion:
		r.sink.UpdateConversion(ctx, event.Conversion)
	}
	return true
}

func (r *recordingTracker) count(kind tracking.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func heroDefinition() Definition {
	return Definition{
		ID:     "exp-hero",
		Name:   "hero-banner",
		Active: true,
		Variants: []Variant{
			{Name: "control", Value: "Summer sale"},
			{Name: "variant", Value: "Free shipping"},
		},
		TrafficSplit: TrafficSplit{{"control", 50}, {"variant", 50}},
	}
}

func newTestService(t *testing.T, defs ...Definition) (*Service, *storage.MemoryStorage, *recordingTracker) {
	t.Helper()
	if len(defs) == 0 {
		defs = []Definition{heroDefinition()}
	}
	static, err := NewStaticDefinitions(defs...)
	if err != nil {
		t.Fatalf("NewStaticDefinitions failed: %v", err)
	}
	store := storage.NewMemoryStorage()
	tracker := &recordingTracker{sink: store}
	return NewService(static, store, tracker, store), store, tracker
}

func TestGetAssignment_Stability(t *testing.T) {
	ctx := context.Background()
	svc, _, tracker := newTestService(t)

	first, ok := svc.GetAssignment(ctx, testVisitor, "hero-banner")
	if !ok {
		t.Fatal("expected an assignment")
	}
	if !first.Fresh || !first.Persisted {
		t.Errorf("expected fresh persisted assignment, got %+v", first)
	}

	for i := 0; i < 20; i++ {
		again, ok := svc.GetAssignment(ctx, testVisitor, "hero-banner")
		if !ok || again.Variant != first.Variant {
			t.Fatalf("expected stable variant %s, got %s", first.Variant, again.Variant)
		}
		if again.Fresh {
			t.Error("expected later reads to be non-fresh")
		}
		if again.SessionID != first.SessionID {
			t.Error("expected stable session id")
		}
	}

	if n := tracker.count(tracking.KindImpression); n != 1 {
		t.Errorf("expected exactly one impression, got %d", n)
	}
}

func TestGetAssignment_ValueAndImpressionFields(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)
	svc.SetRandomSource(fixedSource(0.9))

	a, ok := svc.GetAssignment(ctx, testVisitor, "hero-banner")
	if !ok {
		t.Fatal("expected an assignment")
	}
	if a.Variant != "variant" || a.Value != "Free shipping" {
		t.Errorf("unexpected assignment %+v", a)
	}

	raw, err := store.Get(ctx, testVisitor.DeviceID, AssignmentKey("exp-hero"))
	if err != nil || string(raw) != "variant" {
		t.Errorf("expected persisted variant, got %q %v", raw, err)
	}

	imps := store.Impressions()
	if len(imps) != 1 {
		t.Fatalf("expected 1 impression, got %d", len(imps))
	}
	imp := imps[0]
	if imp.ExperimentID != "exp-hero" || imp.Variant != "variant" || imp.SessionID != a.SessionID || imp.IdentityID != "user-1" {
		t.Errorf("unexpected impression %+v", imp)
	}
}

func TestGetAssignment_UnknownOrInactive(t *testing.T) {
	inactive := heroDefinition()
	inactive.ID, inactive.Name, inactive.Active = "exp-off", "off", false
	svc, _, tracker := newTestService(t, heroDefinition(), inactive)

	if _, ok := svc.GetAssignment(context.Background(), testVisitor, "missing"); ok {
		t.Error("expected no assignment for unknown experiment")
	}
	if _, ok := svc.GetAssignment(context.Background(), testVisitor, "off"); ok {
		t.Error("expected no assignment for inactive experiment")
	}
	if len(tracker.events) != 0 {
		t.Error("expected no impressions")
	}
}

func TestGetAssignment_EmptySplitFallsBackToControl(t *testing.T) {
	def := heroDefinition()
	def.TrafficSplit = nil
	svc, _, _ := newTestService(t, def)

	a, ok := svc.GetAssignment(context.Background(), testVisitor, "hero-banner")
	if !ok || a.Variant != ControlVariant {
		t.Errorf("expected control, got %+v", a)
	}
}

func TestGetAssignment_PersistedWinsOverDefinitionChange(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)
	store.Set(ctx, testVisitor.DeviceID, AssignmentKey("exp-hero"), []byte("variant"))
	svc.SetRandomSource(fixedSource(0))

	a, ok := svc.GetAssignment(ctx, testVisitor, "hero-banner")
	if !ok || a.Variant != "variant" || a.Fresh {
		t.Errorf("expected existing persisted variant, got %+v", a)
	}
}

func TestGetAssignment_ConcurrentFirstReadsAgree(t *testing.T) {
	ctx := context.Background()
	svc, _, tracker := newTestService(t)

	const n = 16
	results := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, _ := svc.GetAssignment(ctx, testVisitor, "hero-banner")
			results[i] = a.Variant
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		if r != results[0] {
			t.Fatalf("expected every racer to observe one variant, got %v", results)
		}
	}
	if got := tracker.count(tracking.KindImpression); got != 1 {
		t.Errorf("expected one impression for the winning draw, got %d", got)
	}
}

func TestGetAssignment_StorageFailureReturnsUnpersistedDraw(t *testing.T) {
	svc, store, tracker := newTestService(t)
	store.FailWrites = true
	store.WriteErr = errors.New("quota exceeded")

	a, ok := svc.GetAssignment(context.Background(), testVisitor, "hero-banner")
	if !ok {
		t.Fatal("expected a best-effort assignment")
	}
	if a.Persisted || !a.Fresh || a.Variant == "" {
		t.Errorf("expected unpersisted fresh draw, got %+v", a)
	}
	if len(tracker.events) != 0 {
		t.Error("expected no impression for an unpersisted draw")
	}
}

func TestRecordConversion(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)

	if _, ok := svc.RecordConversion(ctx, testVisitor, "hero-banner", 10); ok {
		t.Fatal("expected no-op before assignment")
	}

	a, _ := svc.GetAssignment(ctx, testVisitor, "hero-banner")

	conv, ok := svc.RecordConversion(ctx, testVisitor, "hero-banner", 10)
	if !ok || !conv.Converted || *conv.ConversionValue != 10 || conv.Variant != a.Variant {
		t.Fatalf("unexpected conversion %+v", conv)
	}
	svc.RecordConversion(ctx, testVisitor, "hero-banner", 42)

	tallies, _ := store.Tally(ctx, "exp-hero")
	if len(tallies) != 1 {
		t.Fatalf("expected one variant tally, got %+v", tallies)
	}
	if tallies[0].Conversions != 1 || tallies[0].ConversionValue != 42 {
		t.Errorf("expected latest conversion value to win, got %+v", tallies[0])
	}
}

func TestListByType(t *testing.T) {
	banner2 := heroDefinition()
	banner2.ID, banner2.Name, banner2.TestType, banner2.TargetID = "exp-b2", "pdp-banner", "banner", "pdp"
	hero := heroDefinition()
	hero.TestType, hero.TargetID = "banner", "home"
	off := heroDefinition()
	off.ID, off.Name, off.TestType, off.Active = "exp-off", "off", "banner", false

	svc, _, _ := newTestService(t, hero, banner2, off)
	ctx := context.Background()

	if got := svc.ListByType(ctx, "banner", ""); len(got) != 2 {
		t.Errorf("expected 2 active banners, got %d", len(got))
	}
	if got := svc.ListByType(ctx, "banner", "pdp"); len(got) != 1 || got[0].ID != "exp-b2" {
		t.Errorf("expected pdp banner only, got %+v", got)
	}
	if got := svc.ListByType(ctx, "layout", ""); got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil list, got %v", got)
	}
}

func TestReport(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	visitors := []visitor.Visitor{{DeviceID: "a"}, {DeviceID: "b"}, {DeviceID: "c"}, {DeviceID: "d"}}
	svc.SetRandomSource(fixedSource(0.1))
	for _, v := range visitors[:3] {
		svc.GetAssignment(ctx, v, "hero-banner")
	}
	svc.SetRandomSource(fixedSource(0.9))
	svc.GetAssignment(ctx, visitors[3], "hero-banner")

	svc.RecordConversion(ctx, visitors[0], "hero-banner", 20)
	svc.RecordConversion(ctx, visitors[3], "hero-banner", 5)

	report, err := svc.Report(ctx, "hero-banner")
	if err != nil {
		t.Fatalf("Report failed: %v", err)
	}
	if len(report.Variants) != 2 {
		t.Fatalf("expected 2 variants, got %+v", report.Variants)
	}

	control := report.Variants[0]
	if control.Variant != "control" || control.Impressions != 3 || control.Conversions != 1 || control.ConversionValue != 20 {
		t.Errorf("unexpected control report %+v", control)
	}
	if control.SplitPercent != 50 {
		t.Errorf("expected split 50, got %v", control.SplitPercent)
	}
	variant := report.Variants[1]
	if variant.ConversionRate != 1 {
		t.Errorf("expected variant conversion rate 1, got %v", variant.ConversionRate)
	}

	if _, err := svc.Report(ctx, "missing"); !errors.Is(err, ErrUnknownExperiment) {
		t.Errorf("expected ErrUnknownExperiment, got %v", err)
	}
}

func TestReport_InactiveExperiment(t *testing.T) {
	def := heroDefinition()
	def.Active = false
	svc, _, _ := newTestService(t, def)

	report, err := svc.Report(context.Background(), "hero-banner")
	if err != nil {
		t.Fatalf("Report failed: %v", err)
	}
	if report.Active || len(report.Variants) != 2 || report.Variants[0].Impressions != 0 {
		t.Errorf("unexpected report %+v", report)
	}
}
