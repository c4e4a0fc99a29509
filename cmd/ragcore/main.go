// =============================================================================
// RagCore 主入口
// =============================================================================
// 检索内核的命令行工具，用于本地索引与查询调试
//
// 使用方法:
//
//	ragcore index --dir ./docs            # 索引目录下的文档
//	ragcore query "how do refunds work"   # 混合检索查询
//	ragcore query --lexical "refund"      # 仅词法检索
//	ragcore version                       # 显示版本信息
// =============================================================================
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/ragcore"
	"github.com/BaSui01/ragcore/config"
	"github.com/BaSui01/ragcore/rag"
)

// 构建时注入
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "index":
		runIndex(os.Args[2:])
	case "query":
		runQuery(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// =============================================================================
// 📥 index 命令
// =============================================================================

func runIndex(args []string) {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "配置文件路径")
	dir := fs.String("dir", ".", "待索引的文档目录")
	category := fs.String("category", "", "附加到所有文档的类目标签")
	fs.Parse(args)

	app := mustApp(*configPath)
	defer app.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	var docs, chunks int
	err := filepath.WalkDir(*dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".md" && ext != ".txt" {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		doc := rag.Document{
			ID:      strings.TrimSuffix(filepath.Base(path), ext),
			Content: string(data),
			Metadata: map[string]any{
				"title": strings.TrimSuffix(filepath.Base(path), ext),
				"path":  path,
			},
		}
		if *category != "" {
			doc.Metadata["category"] = *category
		}

		n, err := app.Retrieval.IndexDocument(ctx, doc)
		if err != nil {
			return fmt.Errorf("index %s: %w", path, err)
		}
		docs++
		chunks += n
		return nil
	})
	if err != nil {
		app.Logger.Fatal("indexing failed", zap.Error(err))
	}

	fmt.Printf("indexed %d documents (%d chunks)\n", docs, chunks)
}

// =============================================================================
// 🔍 query 命令
// =============================================================================

func runQuery(args []string) {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "配置文件路径")
	topK := fs.Int("top-k", 0, "返回条数，0 由规划器决定")
	category := fs.String("category", "", "类目过滤")
	lexical := fs.Bool("lexical", false, "仅词法检索")
	showContext := fs.Bool("context", false, "输出拼装后的上下文")
	fs.Parse(args)

	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Usage: ragcore query [flags] <query>")
		os.Exit(1)
	}
	query := strings.Join(fs.Args(), " ")

	app := mustApp(*configPath)
	defer app.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	results, err := app.Retrieval.Retrieve(ctx, query, rag.RetrieveOptions{
		TopK:        *topK,
		Category:    *category,
		LexicalOnly: *lexical,
	})
	if err != nil {
		app.Logger.Fatal("retrieval failed", zap.Error(err))
	}

	for _, r := range results {
		fmt.Printf("%2d. %-40s score=%.4f\n", r.Rank, r.ChunkID, r.Score)
	}
	if *showContext {
		fmt.Println("----")
		fmt.Print(app.Retrieval.FormatContext(results))
	}
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

func mustApp(configPath string) *ragcore.App {
	cfg, err := config.NewLoader().WithConfigPath(configPath).Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	app, err := ragcore.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start: %v\n", err)
		os.Exit(1)
	}
	return app
}

func printVersion() {
	fmt.Printf("ragcore %s (built %s, commit %s)\n", Version, BuildTime, GitCommit)
}

func printUsage() {
	fmt.Println(`RagCore - retrieval and caching core for document QA

Usage:
  ragcore index --dir <path> [--config config.yaml] [--category <name>]
  ragcore query [--top-k N] [--category <name>] [--lexical] [--context] <query>
  ragcore version
  ragcore help`)
}
