package signals

import (
	"context"
	"fmt"
	"reflect"
	"testing"

	"github.com/khanglvm/personalize/internal/storage"
	"github.com/khanglvm/personalize/internal/visitor"
)

var testVisitor = visitor.Visitor{DeviceID: "dev-1"}

func newTestStore(t *testing.T) (*Store, *storage.MemoryStorage) {
	t.Helper()
	kv := storage.NewMemoryStorage()
	return NewStore(kv), kv
}

func TestReadProfile_Empty(t *testing.T) {
	store, _ := newTestStore(t)

	profile := store.ReadProfile(context.Background(), testVisitor)

	if profile.CategoryCounts == nil || profile.RecentlyViewed == nil || profile.RecentSearchTerms == nil {
		t.Fatalf("expected non-nil empty collections, got %+v", profile)
	}
	if len(profile.CategoryCounts) != 0 || len(profile.RecentlyViewed) != 0 || len(profile.RecentSearchTerms) != 0 {
		t.Errorf("expected empty profile, got %+v", profile)
	}
}

func TestRecordCategoryView(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	store.RecordCategoryView(ctx, testVisitor, "elektronik")
	store.RecordCategoryView(ctx, testVisitor, "elektronik")
	store.RecordCategoryView(ctx, testVisitor, "garten")

	profile := store.ReadProfile(ctx, testVisitor)
	want := map[string]uint{"elektronik": 2, "garten": 1}
	if !reflect.DeepEqual(profile.CategoryCounts, want) {
		t.Errorf("expected %v, got %v", want, profile.CategoryCounts)
	}
}

func TestRecordItemViewed_CapKeepsMostRecent(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	for i := 1; i <= 25; i++ {
		store.RecordItemViewed(ctx, testVisitor, fmt.Sprintf("item-%d", i))
	}

	profile := store.ReadProfile(ctx, testVisitor)
	if len(profile.RecentlyViewed) != MaxRecent {
		t.Fatalf("expected %d entries, got %d", MaxRecent, len(profile.RecentlyViewed))
	}
	for i, id := range profile.RecentlyViewed {
		want := fmt.Sprintf("item-%d", 25-i)
		if id != want {
			t.Errorf("position %d: expected %s, got %s", i, want, id)
		}
	}
}

func TestRecordItemViewed_DedupOnReinsert(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	store.RecordItemViewed(ctx, testVisitor, "A")
	store.RecordItemViewed(ctx, testVisitor, "B")
	store.RecordItemViewed(ctx, testVisitor, "A")

	profile := store.ReadProfile(ctx, testVisitor)
	if want := []string{"A", "B"}; !reflect.DeepEqual(profile.RecentlyViewed, want) {
		t.Errorf("expected %v, got %v", want, profile.RecentlyViewed)
	}
}

func TestRecordSearch(t *testing.T) {
	tests := []struct {
		name  string
		terms []string
		want  []string
	}{
		{"single character ignored", []string{"a"}, []string{}},
		{"two characters kept", []string{"ab"}, []string{"ab"}},
		{"whitespace trimmed before length check", []string{" a ", "  "}, []string{}},
		{"trimmed term stored", []string{"  lamp "}, []string{"lamp"}},
		{"multibyte counted by character", []string{"ü", "üb"}, []string{"üb"}},
		{"dedup moves to front", []string{"sofa", "lamp", "sofa"}, []string{"sofa", "lamp"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store, _ := newTestStore(t)

			for _, term := range tt.terms {
				store.RecordSearch(ctx, testVisitor, term)
			}

			got := store.ReadProfile(ctx, testVisitor).RecentSearchTerms
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestRecordSearch_ShortTermLeavesListUnchanged(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	store.RecordSearch(ctx, testVisitor, "sofa")
	store.RecordSearch(ctx, testVisitor, "a")

	if got := store.ReadProfile(ctx, testVisitor).RecentSearchTerms; !reflect.DeepEqual(got, []string{"sofa"}) {
		t.Errorf("expected [sofa], got %v", got)
	}
}

func TestRecordSearch_Cap(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	for i := 0; i < 30; i++ {
		store.RecordSearch(ctx, testVisitor, fmt.Sprintf("term-%02d", i))
	}

	got := store.ReadProfile(ctx, testVisitor).RecentSearchTerms
	if len(got) != MaxRecent {
		t.Fatalf("expected %d terms, got %d", MaxRecent, len(got))
	}
	if got[0] != "term-29" {
		t.Errorf("expected most recent term first, got %s", got[0])
	}
}

func TestReadProfile_CorruptFieldsBecomeEmpty(t *testing.T) {
	ctx := context.Background()
	store, kv := newTestStore(t)

	kv.Set(ctx, testVisitor.DeviceID, CategoryBrowsingKey, []byte(`{not json`))
	kv.Set(ctx, testVisitor.DeviceID, RecentlyViewedKey, []byte(`["A","B"]`))
	kv.Set(ctx, testVisitor.DeviceID, SearchQueriesKey, []byte(`{"wrong":"shape"}`))

	profile := store.ReadProfile(ctx, testVisitor)

	if len(profile.CategoryCounts) != 0 {
		t.Errorf("expected corrupt counts to read as empty, got %v", profile.CategoryCounts)
	}
	if !reflect.DeepEqual(profile.RecentlyViewed, []string{"A", "B"}) {
		t.Errorf("expected intact field to survive, got %v", profile.RecentlyViewed)
	}
	if profile.RecentSearchTerms == nil || len(profile.RecentSearchTerms) != 0 {
		t.Errorf("expected corrupt terms to read as empty, got %v", profile.RecentSearchTerms)
	}
}

func TestRecord_RecoversFromCorruptState(t *testing.T) {
	ctx := context.Background()
	store, kv := newTestStore(t)

	kv.Set(ctx, testVisitor.DeviceID, RecentlyViewedKey, []byte(`garbage`))
	store.RecordItemViewed(ctx, testVisitor, "A")

	if got := store.ReadProfile(ctx, testVisitor).RecentlyViewed; !reflect.DeepEqual(got, []string{"A"}) {
		t.Errorf("expected [A], got %v", got)
	}
}

func TestRecord_StorageFailureIsSilent(t *testing.T) {
	ctx := context.Background()
	store, kv := newTestStore(t)
	kv.FailWrites = true

	store.RecordCategoryView(ctx, testVisitor, "elektronik")
	store.RecordItemViewed(ctx, testVisitor, "A")
	store.RecordSearch(ctx, testVisitor, "sofa")

	profile := store.ReadProfile(ctx, testVisitor)
	if len(profile.CategoryCounts) != 0 || len(profile.RecentlyViewed) != 0 || len(profile.RecentSearchTerms) != 0 {
		t.Errorf("expected nothing persisted, got %+v", profile)
	}
}

func TestRecord_VisitorsAreIsolated(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	store.RecordItemViewed(ctx, testVisitor, "A")

	other := store.ReadProfile(ctx, visitor.Visitor{DeviceID: "dev-2"})
	if len(other.RecentlyViewed) != 0 {
		t.Errorf("expected other visitor to have no history, got %v", other.RecentlyViewed)
	}
}

func TestDecodeList_ParseError(t *testing.T) {
	list, perr := decodeList(RecentlyViewedKey, []byte(`{`))
	if perr == nil {
		t.Fatal("expected ParseError")
	}
	if perr.Key != RecentlyViewedKey {
		t.Errorf("expected key %s, got %s", RecentlyViewedKey, perr.Key)
	}
	if list == nil || len(list) != 0 {
		t.Errorf("expected empty default, got %v", list)
	}
}

func TestDecodeList_TruncatesOversizedState(t *testing.T) {
	raw := []byte(`["1","2","3","4","5","6","7","8","9","10","11","12","13","14","15","16","17","18","19","20","21","22"]`)
	list, perr := decodeList(RecentlyViewedKey, raw)
	if perr != nil {
		t.Fatalf("unexpected error: %v", perr)
	}
	if len(list) != MaxRecent {
		t.Errorf("expected %d entries, got %d", MaxRecent, len(list))
	}
}
