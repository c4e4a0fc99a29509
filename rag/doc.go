// Package rag 实现文档问答助手的检索核心：
//
//   - 分块引擎：固定大小 / 语义 / 层级 / 滑动窗口四种策略，失败自动回退固定大小
//   - 词法索引：BM25 倒排索引，支持停用词过滤、可选拼写纠正与同义词扩展
//   - 向量索引：余弦相似度近邻检索，支持命名空间隔离与元数据过滤，
//     内存实现与 Qdrant 远程后端
//   - 混合检索：BM25 + 向量加权融合（Min-Max 归一化），可选交叉编码器重排，
//     向量后端不可用时降级为词法检索
//   - 自适应规划器：按查询 token 数选择检索扇出
//
// 入口是 Service：依赖注入构造一次，显式 Close，不使用包级单例。
package rag
