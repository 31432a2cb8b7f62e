package archive

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/lvdashuaibi/luckydraw/internal/award"
	"github.com/lvdashuaibi/luckydraw/internal/lock"
	"github.com/lvdashuaibi/luckydraw/internal/model"
	"github.com/lvdashuaibi/luckydraw/internal/store"
	"github.com/phuslu/log"
)

var ErrArchiveInProgress = errors.New("归档正在进行")

// Archiver 归档当前场次并清空活动数据
type Archiver struct {
	store   store.Store
	locker  lock.Lock
	lockTTL time.Duration
}

// NewArchiver locker 为空时不加锁
func NewArchiver(s store.Store, locker lock.Lock, lockTTL time.Duration) *Archiver {
	if lockTTL <= 0 {
		lockTTL = time.Minute
	}
	return &Archiver{store: s, locker: locker, lockTTL: lockTTL}
}

// Snapshot 读取当前场次的全部数据
func (a *Archiver) Snapshot(ctx context.Context) (*model.SessionSnapshot, error) {
	participants, err := store.List[model.Participant](ctx, a.store, model.CollectionParticipants)
	if err != nil {
		return nil, err
	}
	nominees, err := store.List[model.AwardNominee](ctx, a.store, model.CollectionAwardNominees)
	if err != nil {
		return nil, err
	}
	slots, err := store.List[model.AwardWinnerSlot](ctx, a.store, model.CollectionAwardSlots)
	if err != nil {
		return nil, err
	}
	winners, err := store.List[model.DoorprizeWinnerRecord](ctx, a.store, model.CollectionDoorprizeWinners)
	if err != nil {
		return nil, err
	}
	history, err := store.List[model.AwardHistoryEntry](ctx, a.store, model.CollectionAwardHistory)
	if err != nil {
		return nil, err
	}

	return &model.SessionSnapshot{
		Participants:        participants,
		Nominees:            nominees,
		AwardSlots:          slots,
		DoorprizeWinners:    winners,
		AwardHistory:        history,
		AwardHistoryWinners: award.Merge(slots, nominees),
	}, nil
}

// ArchiveAndReset 在一个批次中写入归档并重置活动数据，失败时不留下任何修改
func (a *Archiver) ArchiveAndReset(ctx context.Context) (string, error) {
	if a.locker != nil {
		acquired, err := a.locker.AcquireLock(lock.SessionArchiveLockName, a.lockTTL)
		if err != nil {
			return "", fmt.Errorf("获取归档锁失败: %w", err)
		}
		if !acquired {
			return "", ErrArchiveInProgress
		}
		defer func() {
			if err := a.locker.ReleaseLock(lock.SessionArchiveLockName); err != nil {
				log.Warn().Err(err).Msg("释放归档锁失败")
			}
		}()
	}

	snap, err := a.Snapshot(ctx)
	if err != nil {
		return "", fmt.Errorf("读取场次数据失败: %w", err)
	}
	sessionData, err := store.ToFields(snap)
	if err != nil {
		return "", err
	}

	// 占用过名次位的候选人视为已获奖
	won := make(map[string]bool)
	for _, s := range snap.AwardSlots {
		if s.CandidateID != "" {
			won[s.CandidateID] = true
		}
	}

	batch := a.store.Batch()
	id := batch.Add(model.CollectionArchivedSessions, store.Fields{
		"archivedAt":  store.ServerTimestamp,
		"sessionData": sessionData,
	})
	for _, p := range snap.Participants {
		batch.Delete(model.CollectionParticipants, p.ID)
	}
	for _, w := range snap.DoorprizeWinners {
		batch.Delete(model.CollectionDoorprizeWinners, w.ID)
	}
	for _, h := range snap.AwardHistory {
		batch.Delete(model.CollectionAwardHistory, h.ID)
	}
	for _, n := range snap.Nominees {
		if won[n.ID] {
			batch.Delete(model.CollectionAwardNominees, n.ID)
		}
	}
	for _, s := range snap.AwardSlots {
		batch.Update(model.CollectionAwardSlots, s.ID, store.Fields{"candidateId": ""})
	}
	batch.Set(model.CollectionAppConfig, model.AppConfigDocID, store.Fields{
		"doorprizeStatus": model.StatusClosed,
		"awardStatus":     model.StatusClosed,
	}, true)

	if err := batch.Commit(ctx); err != nil {
		log.Error().Err(err).Msg("归档场次失败")
		return "", fmt.Errorf("归档场次失败: %w", err)
	}

	log.Info().Str("archive", id).
		Int("participants", len(snap.Participants)).
		Int("doorprizeWinners", len(snap.DoorprizeWinners)).
		Int("awardHistory", len(snap.AwardHistory)).
		Msg("场次已归档")
	return id, nil
}

// ListArchives 按归档时间倒序返回
func (a *Archiver) ListArchives(ctx context.Context) ([]model.ArchivedSession, error) {
	archives, err := store.List[model.ArchivedSession](ctx, a.store, model.CollectionArchivedSessions)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(archives, func(i, j int) bool {
		return archives[i].ArchivedAt.After(archives[j].ArchivedAt)
	})
	return archives, nil
}

// GetArchive 读取单个归档
func (a *Archiver) GetArchive(ctx context.Context, id string) (*model.ArchivedSession, error) {
	return store.Load[model.ArchivedSession](ctx, a.store, model.CollectionArchivedSessions, id)
}
