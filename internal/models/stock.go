package models

import "sort"

// CheckStock verifies requested quantities against stock minus reservations.
// Items without a bounded stock are skipped. Ids are checked in sorted order
// so the reported item is deterministic.
func CheckStock(stock map[string]*int, reserved map[string]int, requested map[string]int) error {
	ids := make([]string, 0, len(requested))
	for id := range requested {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		limit, ok := stock[id]
		if !ok || limit == nil {
			continue
		}
		left := *limit - reserved[id]
		if requested[id] > left {
			if left < 0 {
				left = 0
			}
			return ErrItemOutOfStock.WithDetail("%s (requested %d, left %d)", id, requested[id], left)
		}
	}
	return nil
}
