// Package tokenizer 提供 token 计数能力：tiktoken 精确计数与启发式估算。
//
// 分块引擎和上下文格式化只需要估算值，嵌入网关的输入长度校验同样
// 使用估算；需要精确计数时注入 TiktokenTokenizer。
package tokenizer

// Tokenizer 是统一的 token 计数接口。
type Tokenizer interface {
	// CountTokens 返回给定文本的 token 数。
	CountTokens(text string) (int, error)

	// Encode 将文本转换为 token ID 列表。
	Encode(text string) ([]int, error)

	// MaxTokens 返回模型的最大上下文长度。
	MaxTokens() int

	// Name 返回分词器名称。
	Name() string
}

// ForModel 返回模型对应的分词器：已知 OpenAI 系列模型使用 tiktoken，
// 其余回退到启发式估算器。没有全局注册表，调用方持有返回的实例。
func ForModel(model string) Tokenizer {
	if t, err := NewTiktokenTokenizer(model); err == nil {
		return t
	}
	return NewEstimator(model, 0)
}
