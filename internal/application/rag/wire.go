package rag

import (
	"github.com/google/wire"
	"github.com/thinkinglens/backend/internal/application/workflow"
	"github.com/thinkinglens/backend/internal/infrastructure/embedding"
	"github.com/thinkinglens/backend/internal/infrastructure/vector"
)

// ProvideRetriever 把检索服务接到工作流引擎的检索边界
// 能力未配置时给引擎一个 nil，引擎按无检索路径运行
func ProvideRetriever(svc *Service) workflow.Retriever {
	if !svc.Enabled() {
		return nil
	}
	return svc
}

// ProviderSet 检索服务的依赖注入配置
var ProviderSet = wire.NewSet(
	NewService,
	ProvideRetriever,
	embedding.NewClient,
	vector.NewStore,
	wire.Bind(new(Embedder), new(*embedding.Client)),
	wire.Bind(new(VectorStore), new(*vector.Store)),
)
