// Package semcache 实现带安全门的语义响应缓存：
//
//   - 查询归一化 + PII 脱敏后作为缓存键，原始邮箱/手机号绝不落盘
//   - 精确命中之外支持向量近似命中（余弦相似度阈值，默认 0.80）
//   - 写入前过安全门：响应含 PII、个性化痕迹或质量不合格时拒绝缓存，
//     PII 检测器不可用时按故障安全原则一律拒绝
//   - TTL 内的重复写入按重复拒绝，singleflight 合并同键并发写
//   - 存储为本地 LRU + Redis 两级，Redis 故障降级为未命中，不影响调用方
package semcache
