package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/thinkinglens/backend/internal/infrastructure/secrets"
)

// 环境变量名定义
const (
	EnvHTTPPort      = "THINKINGLENS_HTTP_PORT"
	EnvMCPPort       = "THINKINGLENS_MCP_PORT"
	EnvOracleBaseURL = "THINKINGLENS_ORACLE_BASE_URL"
	EnvOracleAPIKey  = "THINKINGLENS_ORACLE_API_KEY"
	EnvOracleModel   = "THINKINGLENS_ORACLE_MODEL"
	EnvEmbeddingURL  = "THINKINGLENS_EMBEDDING_BASE_URL"
	EnvEmbeddingKey  = "THINKINGLENS_EMBEDDING_API_KEY"
	EnvQdrantHost    = "THINKINGLENS_QDRANT_HOST"
	EnvQdrantPort    = "THINKINGLENS_QDRANT_PORT"
)

// Config 应用配置
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Oracle    OracleConfig    `yaml:"oracle"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Qdrant    QdrantConfig    `yaml:"qdrant"`
	Workflow  WorkflowConfig  `yaml:"workflow"`
	Uploads   UploadsConfig   `yaml:"uploads"`
	Cache     CacheConfig     `yaml:"cache"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	HTTPPort string `yaml:"http_port"`
	MCPPort  string `yaml:"mcp_port"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// Path sqlite 数据库文件路径，留空使用数据目录默认位置
	Path string `yaml:"path"`
}

// OracleConfig 生成式后端配置（OpenAI 兼容 Chat API）
type OracleConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	// Model 主模型（提问/更新/润色）
	Model string `yaml:"model"`
	// ClassifierModel 分类专用的轻量模型
	ClassifierModel string `yaml:"classifier_model"`
	// Timeout 单次调用超时
	Timeout time.Duration `yaml:"timeout"`
	// MaxRetries 失败重试次数（指数退避）
	MaxRetries int `yaml:"max_retries"`
}

// EmbeddingConfig 向量化配置（RAG 可选能力）
type EmbeddingConfig struct {
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	VectorSize uint64 `yaml:"vector_size"`
}

// QdrantConfig 向量库配置（外部服务，非托管进程）
type QdrantConfig struct {
	Host       string `yaml:"host"`
	GRPCPort   int    `yaml:"grpc_port"`
	Collection string `yaml:"collection"`
}

// WorkflowConfig 工作流与预算配置
type WorkflowConfig struct {
	// CompletionThreshold 章节完成评分阈值
	CompletionThreshold float64 `yaml:"completion_threshold"`
	// ConfidenceThreshold 分类置信度下限，低于则转为消歧提问
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	// WindowSize 原始对话窗口容量 K
	WindowSize int `yaml:"window_size"`
	// ContextBudgetTokens 单次调用上下文总 token 上限
	ContextBudgetTokens int `yaml:"context_budget_tokens"`
	// SummaryBudgetTokens 滚动摘要 token 上限
	SummaryBudgetTokens int `yaml:"summary_budget_tokens"`
	// SnapshotBudgetTokens PRD 快照 token 上限
	SnapshotBudgetTokens int `yaml:"snapshot_budget_tokens"`
	// ClarifyCap init 阶段澄清问题上限
	ClarifyCap int `yaml:"clarify_cap"`
	// TurnBudget 单回合延迟预算，超出后跳过可选的轻装配检查点
	TurnBudget time.Duration `yaml:"turn_budget"`
}

// UploadsConfig 上传目录配置
type UploadsConfig struct {
	// Dir 上传根目录，按会话分子目录；留空使用数据目录下 uploads/
	Dir string `yaml:"dir"`
}

// CacheConfig 热缓存配置
type CacheConfig struct {
	// TTL 缓存条目存活时间
	TTL time.Duration `yaml:"ttl"`
	// Disabled 关闭缓存（仅走持久存储）
	Disabled bool `yaml:"disabled"`
}

// NewConfig 创建配置：默认值 -> 配置文件 -> 环境变量，依次覆盖
func NewConfig() *Config {
	cfg := defaultConfig()

	// 配置文件可选，解析失败时保留默认值，不中断启动
	path := filepath.Join(GetDataDir(), "config.yaml")
	if data, err := os.ReadFile(path); err == nil {
		_ = yaml.Unmarshal(data, cfg)
	}

	applyEnvOverrides(cfg)
	applyStoredSecrets(cfg)
	return cfg
}

// applyStoredSecrets 环境变量和配置文件都没给 API Key 时，回落到加密凭据存储
func applyStoredSecrets(cfg *Config) {
	if cfg.Oracle.APIKey != "" && cfg.Embedding.APIKey != "" {
		return
	}

	store, err := secrets.NewStore(GetDataDir())
	if err != nil {
		return
	}
	creds, err := store.Load()
	if err != nil {
		return
	}

	if cfg.Oracle.APIKey == "" {
		cfg.Oracle.APIKey = creds.OracleAPIKey
	}
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = creds.EmbeddingAPIKey
	}
}

// defaultConfig 默认配置
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort: ":17320",
			MCPPort:  ":17321",
		},
		Oracle: OracleConfig{
			BaseURL:         "https://api.openai.com/v1",
			Model:           "gpt-4o",
			ClassifierModel: "gpt-4o-mini",
			Timeout:         30 * time.Second,
			MaxRetries:      2,
		},
		Embedding: EmbeddingConfig{
			Model:      "text-embedding-3-small",
			VectorSize: 1536,
		},
		Qdrant: QdrantConfig{
			Host:       "localhost",
			GRPCPort:   6334,
			Collection: "prd_documents",
		},
		Workflow: WorkflowConfig{
			CompletionThreshold:  0.8,
			ConfidenceThreshold:  0.6,
			WindowSize:           5,
			ContextBudgetTokens:  2000,
			SummaryBudgetTokens:  600,
			SnapshotBudgetTokens: 400,
			ClarifyCap:           3,
			TurnBudget:           2500 * time.Millisecond,
		},
		Cache: CacheConfig{
			TTL: 10 * time.Minute,
		},
	}
}

// applyEnvOverrides 环境变量覆盖
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvHTTPPort); v != "" {
		cfg.Server.HTTPPort = v
	}
	if v := os.Getenv(EnvMCPPort); v != "" {
		cfg.Server.MCPPort = v
	}
	if v := os.Getenv(EnvOracleBaseURL); v != "" {
		cfg.Oracle.BaseURL = v
	}
	if v := os.Getenv(EnvOracleAPIKey); v != "" {
		cfg.Oracle.APIKey = v
	}
	if v := os.Getenv(EnvOracleModel); v != "" {
		cfg.Oracle.Model = v
	}
	if v := os.Getenv(EnvEmbeddingURL); v != "" {
		cfg.Embedding.BaseURL = v
	}
	if v := os.Getenv(EnvEmbeddingKey); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv(EnvQdrantHost); v != "" {
		cfg.Qdrant.Host = v
	}
	if v := os.Getenv(EnvQdrantPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Qdrant.GRPCPort = port
		}
	}
}

// DBPath 解析数据库文件路径
func (c *Config) DBPath() string {
	if c.Database.Path != "" {
		return c.Database.Path
	}
	return filepath.Join(GetDataDir(), "thinkinglens.db")
}

// UploadsDir 解析上传根目录
func (c *Config) UploadsDir() string {
	if c.Uploads.Dir != "" {
		return c.Uploads.Dir
	}
	return filepath.Join(GetDataDir(), "uploads")
}

// ExportsDir 导出产物目录
func (c *Config) ExportsDir() string {
	return filepath.Join(GetDataDir(), "exports")
}

// RAGConfigured 判断 RAG 可选能力是否已配置
func (c *Config) RAGConfigured() bool {
	return c.Embedding.BaseURL != "" && c.Qdrant.Host != ""
}

// Validate 校验配置合法性
func (c *Config) Validate() error {
	if c.Workflow.CompletionThreshold <= 0 || c.Workflow.CompletionThreshold > 1 {
		return fmt.Errorf("completion_threshold must be in (0,1], got %v", c.Workflow.CompletionThreshold)
	}
	if c.Workflow.WindowSize <= 0 {
		return fmt.Errorf("window_size must be positive, got %d", c.Workflow.WindowSize)
	}
	if c.Workflow.ContextBudgetTokens <= c.Workflow.SummaryBudgetTokens+c.Workflow.SnapshotBudgetTokens {
		return fmt.Errorf("context budget %d cannot fit summary %d + snapshot %d",
			c.Workflow.ContextBudgetTokens, c.Workflow.SummaryBudgetTokens, c.Workflow.SnapshotBudgetTokens)
	}
	return nil
}
