package semcache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// NormalizeQuery 查询归一化：小写、压缩空白、去掉首尾标点。
// 归一化在脱敏之前执行，缓存键始终由脱敏后的归一化查询派生。
func NormalizeQuery(query string) string {
	query = strings.ToLower(strings.TrimSpace(query))
	query = strings.TrimRightFunc(query, func(r rune) bool {
		return unicode.IsPunct(r) && r != ']'
	})
	return strings.Join(strings.Fields(query), " ")
}

// cacheKey 由 bucket 与脱敏归一化查询派生的稳定键。
func cacheKey(bucket, redactedQuery string) string {
	h := sha256.New()
	h.Write([]byte(bucket))
	h.Write([]byte{0})
	h.Write([]byte(redactedQuery))
	return hex.EncodeToString(h.Sum(nil))
}
