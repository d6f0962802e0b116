package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/mrg275/proof2pay-agents/pkg/logger"
)

// Mirror 是产出镜像目标的最小接口，由文档库协作方实现。
type Mirror interface {
	UploadFile(ctx context.Context, filename, content, folder, mimeType string) (string, error)
}

// MirrorStore 装饰任意 Store，在 SaveOutput 成功后把产出镜像到文档库。
// 镜像失败只记录日志，绝不影响主存储结果。
type MirrorStore struct {
	Store
	mirror Mirror
	folder string
}

// NewMirrorStore 创建镜像装饰器。
func NewMirrorStore(inner Store, mirror Mirror, folder string) *MirrorStore {
	return &MirrorStore{Store: inner, mirror: mirror, folder: folder}
}

// SaveOutput 先写主存储，再尽力镜像。
func (s *MirrorStore) SaveOutput(ctx context.Context, workerID, output, task string, meta OutputMetadata) (string, error) {
	ref, err := s.Store.SaveOutput(ctx, workerID, output, task, meta)
	if err != nil {
		return "", err
	}

	filename := fmt.Sprintf("%s_%s.md", workerID, time.Now().UTC().Format("2006-01-02_150405"))
	if _, mirrorErr := s.mirror.UploadFile(ctx, filename, output, s.folder, "text/markdown"); mirrorErr != nil {
		logger.L().Warn("产出镜像到文档库失败",
			"worker", workerID,
			"ref", ref,
			"error", mirrorErr,
		)
	}
	return ref, nil
}

var _ Store = (*MirrorStore)(nil)
