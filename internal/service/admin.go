package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lvdashuaibi/luckydraw/internal/award"
	"github.com/lvdashuaibi/luckydraw/internal/model"
	"github.com/lvdashuaibi/luckydraw/internal/store"
	"github.com/phuslu/log"
)

var (
	ErrInvalidInput         = errors.New("参数校验失败")
	ErrDuplicateParticipant = errors.New("参与者已存在")
)

// save ID为空时新增，否则整体覆盖
func (s *EventService) save(ctx context.Context, collection, id string, v any) (string, error) {
	if err := s.validate.Struct(v); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	fields, err := store.ToFields(v)
	if err != nil {
		return "", err
	}
	if id == "" {
		return s.store.Add(ctx, collection, fields)
	}
	if err := s.store.Set(ctx, collection, id, fields, false); err != nil {
		return "", err
	}
	return id, nil
}

func (s *EventService) ListParticipants(ctx context.Context) ([]model.Participant, error) {
	return store.List[model.Participant](ctx, s.store, model.CollectionParticipants)
}

// AddParticipant 名字去掉首尾空白，同名参与者只保留一个
func (s *EventService) AddParticipant(ctx context.Context, name string) (string, error) {
	p := model.Participant{Name: strings.TrimSpace(name)}
	existing, err := s.ListParticipants(ctx)
	if err != nil {
		return "", err
	}
	for _, e := range existing {
		if strings.EqualFold(strings.TrimSpace(e.Name), p.Name) {
			return "", fmt.Errorf("%w: %s", ErrDuplicateParticipant, p.Name)
		}
	}
	return s.save(ctx, model.CollectionParticipants, "", p)
}

func (s *EventService) DeleteParticipant(ctx context.Context, id string) error {
	return s.store.Delete(ctx, model.CollectionParticipants, id)
}

func (s *EventService) ListPrizes(ctx context.Context) ([]model.Prize, error) {
	return store.List[model.Prize](ctx, s.store, model.CollectionPrizes)
}

func (s *EventService) SavePrize(ctx context.Context, p model.Prize) (string, error) {
	p.Name = strings.TrimSpace(p.Name)
	return s.save(ctx, model.CollectionPrizes, p.ID, p)
}

func (s *EventService) DeletePrize(ctx context.Context, id string) error {
	return s.store.Delete(ctx, model.CollectionPrizes, id)
}

func (s *EventService) ListNominees(ctx context.Context) ([]model.AwardNominee, error) {
	return store.List[model.AwardNominee](ctx, s.store, model.CollectionAwardNominees)
}

func (s *EventService) SaveNominee(ctx context.Context, n model.AwardNominee) (string, error) {
	n.Name = strings.TrimSpace(n.Name)
	return s.save(ctx, model.CollectionAwardNominees, n.ID, n)
}

func (s *EventService) DeleteNominee(ctx context.Context, id string) error {
	return s.store.Delete(ctx, model.CollectionAwardNominees, id)
}

func (s *EventService) ListSlots(ctx context.Context) ([]model.AwardWinnerSlot, error) {
	return store.List[model.AwardWinnerSlot](ctx, s.store, model.CollectionAwardSlots)
}

func (s *EventService) SaveSlot(ctx context.Context, slot model.AwardWinnerSlot) (string, error) {
	slot.Category = strings.TrimSpace(slot.Category)
	return s.save(ctx, model.CollectionAwardSlots, slot.ID, slot)
}

func (s *EventService) DeleteSlot(ctx context.Context, id string) error {
	return s.store.Delete(ctx, model.CollectionAwardSlots, id)
}

// AssignCandidate 指定名次位的获奖者，candidateID 为空表示清空
// 同一候选人占用多个名次位只记录警告，不拒绝写入
func (s *EventService) AssignCandidate(ctx context.Context, slotID, candidateID string) error {
	if candidateID != "" {
		slots, err := s.ListSlots(ctx)
		if err != nil {
			return err
		}
		for _, other := range slots {
			if other.ID != slotID && other.CandidateID == candidateID {
				log.Warn().Str("slot", slotID).Str("other", other.ID).Str("candidate", candidateID).Msg("候选人已占用其他名次位")
				break
			}
		}
	}
	return s.store.Update(ctx, model.CollectionAwardSlots, slotID, store.Fields{"candidateId": candidateID})
}

// AvailableCandidates 名次位下拉框的可选候选人
func (s *EventService) AvailableCandidates(ctx context.Context, slotID string) ([]model.AwardNominee, error) {
	nominees, err := s.ListNominees(ctx)
	if err != nil {
		return nil, err
	}
	slots, err := s.ListSlots(ctx)
	if err != nil {
		return nil, err
	}
	return award.AvailableCandidates(nominees, slots, slotID), nil
}

// MergedAwardWinners 已指定获奖者的名次位，按揭晓顺序
func (s *EventService) MergedAwardWinners(ctx context.Context) ([]model.MergedAwardWinner, error) {
	nominees, err := s.ListNominees(ctx)
	if err != nil {
		return nil, err
	}
	slots, err := s.ListSlots(ctx)
	if err != nil {
		return nil, err
	}
	return award.Merge(slots, nominees), nil
}

func (s *EventService) DoorprizeWinners(ctx context.Context) ([]model.DoorprizeWinnerRecord, error) {
	return store.List[model.DoorprizeWinnerRecord](ctx, s.store, model.CollectionDoorprizeWinners)
}

func (s *EventService) AwardHistory(ctx context.Context) ([]model.AwardHistoryEntry, error) {
	return store.List[model.AwardHistoryEntry](ctx, s.store, model.CollectionAwardHistory)
}

// UpdateAppConfig 覆盖全局配置，口令只允许字母和数字
func (s *EventService) UpdateAppConfig(ctx context.Context, cfg model.AppConfig) error {
	if err := s.validate.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	fields, err := store.ToFields(cfg)
	if err != nil {
		return err
	}
	if err := s.store.Set(ctx, model.CollectionAppConfig, model.AppConfigDocID, fields, true); err != nil {
		return fmt.Errorf("保存全局配置失败: %w", err)
	}
	log.Info().Str("doorprizeStatus", string(cfg.DoorprizeStatus)).Str("awardStatus", string(cfg.AwardStatus)).Msg("全局配置已更新")
	return nil
}
