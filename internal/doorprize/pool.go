package doorprize

import (
	"errors"
	"strings"

	"github.com/lvdashuaibi/luckydraw/internal/model"
)

var (
	ErrNoParticipants         = errors.New("没有参与者")
	ErrNoEligibleParticipants = errors.New("所有参与者都已中奖")
	ErrNoStock                = errors.New("奖品已全部抽完")
)

func normalizeName(name string) string {
	return strings.TrimSpace(name)
}

// EligibleParticipants 参与者中去掉已中奖的（按姓名）
func EligibleParticipants(participants []model.Participant, winners []model.DoorprizeWinnerRecord) []model.Participant {
	won := make(map[string]bool, len(winners))
	for _, w := range winners {
		won[normalizeName(w.ParticipantName)] = true
	}

	eligible := make([]model.Participant, 0, len(participants))
	for _, p := range participants {
		name := normalizeName(p.Name)
		if name == "" || won[name] {
			continue
		}
		eligible = append(eligible, p)
	}
	return eligible
}

// BuildPrizePool 每个奖品按库存数量重复放入奖池，库存越多被抽中的概率越高
func BuildPrizePool(prizes []model.Prize) []model.Prize {
	total := 0
	for _, p := range prizes {
		if p.Stock > 0 {
			total += p.Stock
		}
	}

	pool := make([]model.Prize, 0, total)
	for _, p := range prizes {
		for i := 0; i < p.Stock; i++ {
			pool = append(pool, p)
		}
	}
	return pool
}

// Validate 检查是否可以开始抽奖
func Validate(participants []model.Participant, prizes []model.Prize, winners []model.DoorprizeWinnerRecord) error {
	if len(participants) == 0 {
		return ErrNoParticipants
	}
	if len(EligibleParticipants(participants, winners)) == 0 {
		return ErrNoEligibleParticipants
	}
	for _, p := range prizes {
		if p.Stock > 0 {
			return nil
		}
	}
	return ErrNoStock
}

// IsExhausted 奖品全部抽完
func IsExhausted(prizes []model.Prize) bool {
	for _, p := range prizes {
		if p.Stock > 0 {
			return false
		}
	}
	return true
}
