package api

import (
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/avangerus/kalita-import/internal/store"
)

// ==== Типы сортировки и параметров листинга ====

type SortKey struct {
	Field string
	Desc  bool
}

type ListParams struct {
	Limit   int
	Offset  int
	Sort    []SortKey
	Filters store.Match
	Nulls   string // "last" (default) | "first"
}

// ==== Парсинг query-параметров ====

func parseListParams(q url.Values) ListParams {
	limit := 50
	lv := q.Get("_limit")
	if lv == "" {
		lv = q.Get("limit")
	}
	if lv != "" {
		if n, err := strconv.Atoi(lv); err == nil && n >= 0 && n <= 1000 {
			limit = n
		}
	}

	offset := 0
	ov := q.Get("_offset")
	if ov == "" {
		ov = q.Get("offset")
	}
	if ov != "" {
		if n, err := strconv.Atoi(ov); err == nil && n >= 0 {
			offset = n
		}
	}

	var sortKeys []SortKey
	sv := strings.TrimSpace(q.Get("_sort"))
	if sv == "" {
		sv = strings.TrimSpace(q.Get("sort"))
	}
	for _, p := range strings.Split(sv, ",") {
		p = strings.TrimSpace(p)
		desc := strings.HasPrefix(p, "-")
		p = strings.TrimLeft(p, "+-")
		if p != "" {
			sortKeys = append(sortKeys, SortKey{Field: p, Desc: desc})
		}
	}

	nulls := strings.ToLower(strings.TrimSpace(q.Get("nulls")))
	if nulls != "first" && nulls != "last" {
		nulls = "last"
	}

	// фильтры: равенство по полю (исключаем служебные ключи)
	filters := store.Match{}
	for key, vals := range q {
		switch key {
		case "offset", "limit", "sort", "_offset", "_limit", "_sort", "nulls":
			continue
		}
		if len(vals) > 0 && strings.TrimSpace(vals[0]) != "" {
			filters[key] = vals[0]
		}
	}

	return ListParams{Limit: limit, Offset: offset, Sort: sortKeys, Filters: filters, Nulls: nulls}
}

// ==== Сортировка с политикой nulls ====

// сравнение двух записей по одному ключу с учётом nullsPolicy и направления
func cmpByKey(a, b *store.Record, key string, nullsPolicy string, desc bool) int {
	va, vb := a.Get(key), b.Get(key)
	na, nb := va == nil, vb == nil

	if na && nb {
		return 0
	}
	if na != nb {
		if nullsPolicy == "last" {
			if na {
				return +1
			}
			return -1
		}
		if na {
			return -1
		}
		return +1
	}

	sa, sb := store.Stringify(va), store.Stringify(vb)
	rel := strings.Compare(sa, sb)
	if desc {
		rel = -rel
	}
	return rel
}

// мультисортировка с учётом nullsPolicy
func sortRecordsMultiNulls(records []*store.Record, keys []SortKey, nullsPolicy string) {
	if len(keys) == 0 {
		return
	}
	sort.SliceStable(records, func(i, j int) bool {
		for _, k := range keys {
			if c := cmpByKey(records[i], records[j], k.Field, nullsPolicy, k.Desc); c != 0 {
				return c < 0
			}
		}
		return false
	})
}

// page: срез [offset, offset+limit) в границах.
func page(all []*store.Record, offset, limit int) []*store.Record {
	start := offset
	if start > len(all) {
		start = len(all)
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end]
}
