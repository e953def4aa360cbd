package platform

import (
	"context"
	"testing"
)

func TestCollectAllPages_Concatenates(t *testing.T) {
	pages := [][]int{{1, 2, 3}, {4, 5, 6}, {}}
	calls := 0
	got, err := CollectAllPages(context.Background(), func(ctx context.Context, page, perPage int) ([]int, error) {
		calls++
		if perPage != 100 {
			t.Errorf("expected per_page=100, got %d", perPage)
		}
		if page-1 >= len(pages) {
			return nil, nil
		}
		return pages[page-1], nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []int{1, 2, 3, 4, 5, 6}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: got %d, want %d", i, got[i], want[i])
		}
	}
	if calls != 3 {
		t.Errorf("expected 3 calls (stopping at the empty page), got %d", calls)
	}
}

func TestCollectAllPages_EmptyFirstPage(t *testing.T) {
	got, err := CollectAllPages(context.Background(), func(ctx context.Context, page, perPage int) ([]int, error) {
		return nil, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no items, got %v", got)
	}
}

func TestFromSingletonList(t *testing.T) {
	v, ok, err := FromSingletonList[int]([]byte("[42]"))
	if err != nil || !ok || v != 42 {
		t.Fatalf("got (%d, %v, %v), want (42, true, nil)", v, ok, err)
	}

	_, ok, err = FromSingletonList[int]([]byte("[]"))
	if err != nil || ok {
		t.Fatalf("expected ok=false for an empty list, got (%v, %v)", ok, err)
	}

	if _, _, err := FromSingletonList[int]([]byte("[1,2]")); err == nil {
		t.Error("expected an error for a list with more than one element")
	}
}
