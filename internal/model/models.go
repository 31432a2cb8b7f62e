package model

import (
	"time"
)

// 集合名称
const (
	CollectionParticipants     = "participants"
	CollectionPrizes           = "prizes"
	CollectionDoorprizeWinners = "doorprize_winners"
	CollectionAwardNominees    = "award_nominees"
	CollectionAwardSlots       = "award_slots"
	CollectionAwardHistory     = "award_history"
	CollectionArchivedSessions = "archived_sessions"
	CollectionAppConfig        = "app_config"

	// AppConfigDocID 全局配置单例文档ID
	AppConfigDocID = "main"
)

// Participant 抽奖参与者
type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name" validate:"required"`
}

// Prize 奖品
type Prize struct {
	ID           string   `json:"id"`
	Name         string   `json:"name" validate:"required"`
	Stock        int      `json:"stock" validate:"gte=0"`
	ImageRef     string   `json:"imageRef,omitempty"`
	Price        *float64 `json:"price,omitempty" validate:"omitempty,gte=0"`
	IsGrandPrize bool     `json:"isGrandPrize"`
}

// DoorprizeWinnerRecord 抽奖中奖记录，只追加
type DoorprizeWinnerRecord struct {
	ID              string    `json:"id"`
	ParticipantName string    `json:"participantName"`
	PrizeName       string    `json:"prizeName"`
	PrizeImageRef   string    `json:"prizeImageRef"`
	WonAt           time.Time `json:"wonAt"`
}

// AwardNominee 奖项候选人
type AwardNominee struct {
	ID      string `json:"id"`
	Name    string `json:"name" validate:"required"`
	Company string `json:"company"`
}

// AwardWinnerSlot 奖项名次位，CandidateID 为空表示未指定
type AwardWinnerSlot struct {
	ID          string `json:"id"`
	Rank        int    `json:"rank" validate:"gte=1"`
	CandidateID string `json:"candidateId"`
	Category    string `json:"category" validate:"required"`
	EventLabel  string `json:"eventLabel"`
}

// MergedAwardWinner 名次位与候选人的联合视图，只读
type MergedAwardWinner struct {
	SlotID     string `json:"slotId"`
	Rank       int    `json:"rank"`
	Category   string `json:"category"`
	EventLabel string `json:"eventLabel"`
	NomineeID  string `json:"nomineeId"`
	Name       string `json:"name"`
	Company    string `json:"company"`
}

// AwardHistoryEntry 颁奖揭晓记录
type AwardHistoryEntry struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Company    string    `json:"company"`
	Category   string    `json:"category"`
	Rank       int       `json:"rank"`
	EventLabel string    `json:"eventLabel"`
	RevealedAt time.Time `json:"revealedAt"`
}

// SessionStatus 场次开放状态
type SessionStatus string

const (
	StatusOpen   SessionStatus = "open"
	StatusClosed SessionStatus = "closed"
)

// AppConfig 全局配置
type AppConfig struct {
	DoorprizeStart    string        `json:"doorprizeStart"`
	AwardStart        string        `json:"awardStart"`
	DoorprizeStatus   SessionStatus `json:"doorprizeStatus" validate:"omitempty,oneof=open closed"`
	AwardStatus       SessionStatus `json:"awardStatus" validate:"omitempty,oneof=open closed"`
	DoorprizePasscode string        `json:"doorprizePasscode" validate:"omitempty,alphanum"`
	AwardPasscode     string        `json:"awardPasscode" validate:"omitempty,alphanum"`
}

// SessionSnapshot 归档时的全部活动数据
type SessionSnapshot struct {
	Participants        []Participant           `json:"participants"`
	Nominees            []AwardNominee          `json:"nominees"`
	AwardSlots          []AwardWinnerSlot       `json:"award_slots"`
	DoorprizeWinners    []DoorprizeWinnerRecord `json:"doorprize_winners"`
	AwardHistory        []AwardHistoryEntry     `json:"award_history"`
	AwardHistoryWinners []MergedAwardWinner     `json:"award_history_winners"`
}

// ArchivedSession 归档场次
type ArchivedSession struct {
	ID          string          `json:"id"`
	ArchivedAt  time.Time       `json:"archivedAt"`
	SessionData SessionSnapshot `json:"sessionData"`
}

// Ticket 一次性确认票据
type Ticket struct {
	Value           string    `json:"value"`
	Version         string    `json:"version"`
	RemainingUsages int       `json:"remainingUsages"`
	ExpiresAt       time.Time `json:"expiresAt"`
	CreatedAt       time.Time `json:"createdAt"`
}

// ChangeOp 变更类型
type ChangeOp string

const (
	OpSet    ChangeOp = "set"
	OpUpdate ChangeOp = "update"
	OpDelete ChangeOp = "delete"
	OpAdd    ChangeOp = "add"
)

// ChangeEvent 集合变更事件
type ChangeEvent struct {
	Collection string    `json:"collection"`
	DocID      string    `json:"docId"`
	Op         ChangeOp  `json:"op"`
	At         time.Time `json:"at"`
}
