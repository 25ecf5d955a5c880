package application

import (
	"github.com/google/wire"
	"github.com/thinkinglens/backend/internal/application/assembly"
	"github.com/thinkinglens/backend/internal/application/rag"
	"github.com/thinkinglens/backend/internal/application/version"
	"github.com/thinkinglens/backend/internal/application/workflow"
)

// ProviderSet Application 层总 ProviderSet
var ProviderSet = wire.NewSet(
	assembly.ProviderSet,
	workflow.ProviderSet,
	version.ProviderSet,
	rag.ProviderSet,
)
