package platform

import (
	"context"
	"encoding/json"
	"fmt"
)

const perPage = 100

// CollectAllPages issues GETs through get with (page=n, per_page=100) for
// n=1,2,… and concatenates the decoded page bodies until an empty page is
// returned.
func CollectAllPages[T any](ctx context.Context, get func(ctx context.Context, page, perPage int) ([]T, error)) ([]T, error) {
	var all []T
	for page := 1; ; page++ {
		items, err := get(ctx, page, perPage)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}
		if len(items) == 0 {
			return all, nil
		}
		all = append(all, items...)
	}
}

// FromSingletonList decodes raw (a JSON array) and validates it holds at
// most one element, returning it or the zero value with ok=false.
func FromSingletonList[T any](raw json.RawMessage) (T, bool, error) {
	var zero T
	var list []T
	if err := json.Unmarshal(raw, &list); err != nil {
		return zero, false, fmt.Errorf("decode list: %w", err)
	}
	if len(list) == 0 {
		return zero, false, nil
	}
	if len(list) > 1 {
		return zero, false, fmt.Errorf("expected at most one element, got %d", len(list))
	}
	return list[0], true, nil
}
