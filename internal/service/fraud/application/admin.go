// internal/service/fraud/application/admin.go
package application

import (
	"context"
	"fmt"

	"fraudguard/internal/pkg/logger"
	"fraudguard/internal/service/fraud/domain"
)

// AddBlock 校验并写入黑名单条目。
func (s *FraudApplicationService) AddBlock(ctx context.Context, req *BlockRequest) (*domain.BlockEntry, error) {
	ctx, span := s.deps.Tracer.Start(ctx, "app.AddBlock")
	defer span.End()

	entry, err := domain.NewBlockEntry(req.Type, req.Value, req.Reason)
	if err != nil {
		return nil, err
	}
	entry.CreatedAt = s.deps.Now().UTC()
	if err := s.deps.BlockList.Add(ctx, entry); err != nil {
		span.RecordError(err)
		return nil, err
	}
	logger.Ctx(ctx).Info().Str("type", string(entry.Type)).Str("value", entry.Value).Msg("block entry added")
	return &entry, nil
}

// RemoveBlock 删除黑名单条目，值按新增时相同的规则规范化。
func (s *FraudApplicationService) RemoveBlock(ctx context.Context, t domain.BlockType, raw string) error {
	ctx, span := s.deps.Tracer.Start(ctx, "app.RemoveBlock")
	defer span.End()

	entry, err := domain.NewBlockEntry(t, raw, "")
	if err != nil {
		return err
	}
	if err := s.deps.BlockList.Remove(ctx, entry.Type, entry.Value); err != nil {
		return err
	}
	logger.Ctx(ctx).Info().Str("type", string(entry.Type)).Str("value", entry.Value).Msg("block entry removed")
	return nil
}

// ListBlocks 列出某一类型的黑名单。
func (s *FraudApplicationService) ListBlocks(ctx context.Context, t domain.BlockType) ([]domain.BlockEntry, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: unknown type %q", domain.ErrInvalidBlockEntry, t)
	}
	entries, err := s.deps.BlockList.List(ctx, t)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []domain.BlockEntry{}
	}
	return entries, nil
}

// AddAllow 向运行时白名单加入手机号、IP 或网段，返回规范化后的值。
func (s *FraudApplicationService) AddAllow(ctx context.Context, raw string) (string, error) {
	entry, err := domain.ParseAllowEntry(raw)
	if err != nil {
		return "", err
	}
	if err := s.deps.AllowList.Add(ctx, entry); err != nil {
		return "", err
	}
	logger.Ctx(ctx).Info().Str("value", entry.Key()).Msg("allow entry added")
	return entry.Key(), nil
}

func (s *FraudApplicationService) RemoveAllow(ctx context.Context, raw string) error {
	entry, err := domain.ParseAllowEntry(raw)
	if err != nil {
		return err
	}
	if err := s.deps.AllowList.Remove(ctx, entry); err != nil {
		return err
	}
	logger.Ctx(ctx).Info().Str("value", entry.Key()).Msg("allow entry removed")
	return nil
}

func (s *FraudApplicationService) ListAllow(ctx context.Context) ([]string, error) {
	values, err := s.deps.AllowList.List(ctx)
	if err != nil {
		return nil, err
	}
	if values == nil {
		values = []string{}
	}
	return values, nil
}
