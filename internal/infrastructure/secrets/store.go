// Package secrets 管理需要落盘的敏感凭据
// API Key 优先从环境变量读取，这里提供加密落盘的兜底存储
package secrets

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Credentials 落盘保存的凭据集合
type Credentials struct {
	// OracleAPIKey 生成式后端的 API Key
	OracleAPIKey string `json:"oracle_api_key"`
	// EmbeddingAPIKey 向量化后端的 API Key
	EmbeddingAPIKey string `json:"embedding_api_key"`
}

// Store 加密凭据存储，密文 JSON 存放在数据目录下
type Store struct {
	path       string
	encryptKey *EncryptionKey
}

// NewStore 创建凭据存储
func NewStore(dataDir string) (*Store, error) {
	encryptKey, err := NewEncryptionKey(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create encryption key: %w", err)
	}

	return &Store{
		path:       filepath.Join(dataDir, "secrets.json"),
		encryptKey: encryptKey,
	}, nil
}

// Load 读取凭据，文件不存在时返回空凭据
func (s *Store) Load() (*Credentials, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Credentials{}, nil
		}
		return nil, fmt.Errorf("failed to read secrets file: %w", err)
	}

	var stored Credentials
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to parse secrets file: %w", err)
	}

	// 字段逐个解密
	creds := &Credentials{}
	if creds.OracleAPIKey, err = s.encryptKey.Decrypt(stored.OracleAPIKey); err != nil {
		return nil, fmt.Errorf("failed to decrypt oracle api key: %w", err)
	}
	if creds.EmbeddingAPIKey, err = s.encryptKey.Decrypt(stored.EmbeddingAPIKey); err != nil {
		return nil, fmt.Errorf("failed to decrypt embedding api key: %w", err)
	}

	return creds, nil
}

// Save 加密并落盘凭据（仅所有者可读写）
func (s *Store) Save(creds *Credentials) error {
	stored := Credentials{}

	var err error
	if stored.OracleAPIKey, err = s.encryptKey.Encrypt(creds.OracleAPIKey); err != nil {
		return fmt.Errorf("failed to encrypt oracle api key: %w", err)
	}
	if stored.EmbeddingAPIKey, err = s.encryptKey.Encrypt(creds.EmbeddingAPIKey); err != nil {
		return fmt.Errorf("failed to encrypt embedding api key: %w", err)
	}

	data, err := json.MarshalIndent(&stored, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal secrets: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create secrets directory: %w", err)
	}

	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write secrets file: %w", err)
	}

	return nil
}
