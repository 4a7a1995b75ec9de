// XPFeed - Taste-profile driven artwork discovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/xpfeed

package profile

import "strings"

// builtinAliases maps canonical tags to the spellings the content source
// indexes them under.
var builtinAliases = map[string][]string{
	"white_hair":     {"白髪", "銀髪", "white_hair"},
	"silver_hair":    {"銀髪", "白髪"},
	"grey_hair":      {"灰髪"},
	"black_hair":     {"黒髪"},
	"blonde_hair":    {"金髪"},
	"red_hair":       {"赤髪"},
	"blue_hair":      {"青髪"},
	"pink_hair":      {"ピンク髪"},
	"green_hair":     {"緑髪"},
	"purple_hair":    {"紫髪"},
	"brown_hair":     {"茶髪"},
	"long_hair":      {"ロングヘア", "長髪"},
	"short_hair":     {"ショートヘア", "短髪"},
	"twintails":      {"ツインテール"},
	"ponytail":       {"ポニーテール"},
	"large_breasts":  {"巨乳"},
	"flat_chest":     {"貧乳"},
	"maid":           {"メイド"},
	"swimsuit":       {"水着"},
	"school_uniform": {"セーラー服", "制服", "ブレザー"},
	"pantyhose":      {"パンスト", "ストッキング"},
	"thighhighs":     {"ニーソ", "ニーソックス"},
	"glasses":        {"眼鏡", "メガネ"},
	"kimono":         {"着物", "浴衣"},
	"bunny_suit":     {"バニー", "バニーガール"},
	"cat_ears":       {"猫耳", "ネコミミ"},
	"genshin_impact": {"原神", "GenshinImpact"},
	"原神":             {"原神", "GenshinImpact"},
	"blue_archive":   {"ブルーアーカイブ", "BlueArchive", "碧蓝档案"},
	"ブルーアーカイブ":       {"ブルーアーカイブ", "BlueArchive", "碧蓝档案"},
	"ブルアカ":           {"ブルーアーカイブ", "BlueArchive", "碧蓝档案"},
	"arknights":      {"アークナイツ", "Arknights", "明日方舟"},
	"アークナイツ":         {"アークナイツ", "Arknights", "明日方舟"},
	"明日方舟":           {"アークナイツ", "Arknights", "明日方舟"},
	"fate_grand_order": {"FGO", "Fate/GrandOrder"},
	"azur_lane":      {"アズールレーン"},
	"hololive":       {"ホロライブ"},
	"scenery":        {"風景"},
	"cyberpunk":      {"サイバーパンク"},
	"steampunk":      {"スチームパンク"},
	"fantasy":        {"ファンタジー"},
}

// Expander turns canonical tags into source search queries.
type Expander struct {
	aliases map[string][]string
	best    map[string]string
}

// NewExpander layers configured aliases over the built-in table. best maps
// canonical tags to their most frequent raw spelling.
func NewExpander(extra map[string][]string, best map[string]string) *Expander {
	aliases := make(map[string][]string, len(builtinAliases)+len(extra))
	for k, v := range builtinAliases {
		aliases[k] = v
	}
	for k, v := range extra {
		aliases[k] = v
	}
	if best == nil {
		best = map[string]string{}
	}
	return &Expander{aliases: aliases, best: best}
}

// Terms returns the alternative spellings searched for tag.
func (e *Expander) Terms(tag string) []string {
	terms := append([]string(nil), e.aliases[tag]...)
	if len(terms) == 0 {
		terms = []string{tag}
	}
	if raw := e.best[tag]; raw != "" && raw != tag && !containsTerm(terms, raw) {
		terms = append(terms, raw)
	}
	return terms
}

// Query renders tag as a search expression: "(a OR b)" for several
// spellings, the bare term otherwise.
func (e *Expander) Query(tag string) string {
	terms := e.Terms(tag)
	if len(terms) == 1 {
		return terms[0]
	}
	return "(" + strings.Join(terms, " OR ") + ")"
}

// Redundant reports whether searching a and b together adds nothing: both
// expand to the same query, or one tag already appears in the other's query.
func (e *Expander) Redundant(a, b string) bool {
	qa, qb := e.Query(a), e.Query(b)
	return qa == qb || strings.Contains(qb, a) || strings.Contains(qa, b)
}

func containsTerm(terms []string, t string) bool {
	for _, x := range terms {
		if x == t {
			return true
		}
	}
	return false
}
