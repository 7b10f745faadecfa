package matching

import (
	"boqbalance/internal/model"
	"boqbalance/internal/service/similarity"
)

// DedupeCatalogue 按 (规范化名称, 规范单位) 去重；先出现者保留，别名合并
func (m *Matcher) DedupeCatalogue(catalogue []model.CatalogueEntry) []model.CatalogueEntry {
	out := make([]model.CatalogueEntry, 0, len(catalogue))
	pos := make(map[model.UnifiedKey]int, len(catalogue))

	for _, e := range catalogue {
		key := m.KeyOf(e.Name, e.Unit)
		if i, ok := pos[key]; ok {
			out[i].Aliases = mergeAliases(out[i].Name, out[i].Aliases, e.Aliases)
			continue
		}
		e.Aliases = mergeAliases(e.Name, nil, e.Aliases)
		pos[key] = len(out)
		out = append(out, e)
	}
	return out
}

// mergeAliases 合并别名，跳过与主名称或已有别名规范化后相同的项
func mergeAliases(name string, base, extra []string) []string {
	seen := map[string]bool{similarity.Normalize(name): true}
	var out []string
	for _, list := range [][]string{base, extra} {
		for _, a := range list {
			n := similarity.Normalize(a)
			if n == "" || seen[n] {
				continue
			}
			seen[n] = true
			out = append(out, a)
		}
	}
	return out
}
