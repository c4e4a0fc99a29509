// Package config 提供 RagCore 的配置管理功能。
//
// 包含检索流水线、嵌入网关、向量存储与语义缓存的完整配置结构，
// 支持从 YAML 文件与环境变量加载，优先级为默认值 → 文件 → 环境变量。
package config
