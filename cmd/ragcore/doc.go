// ragcore 命令提供检索内核的本地调试入口。
//
// 支持 index 与 query 两个子命令，用于把目录下的 Markdown / 文本
// 文档切分入库，并以混合检索方式查询。服务端集成请直接使用
// ragcore.New 装配组件。
package main
