package graph

import (
	"time"

	graphql "github.com/graph-gophers/graphql-go"
	"github.com/lvdashuaibi/luckydraw/internal/gate"
	"github.com/lvdashuaibi/luckydraw/internal/model"
	"github.com/lvdashuaibi/luckydraw/internal/service"
)

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// ParticipantResolver 参与者解析器
type ParticipantResolver struct {
	p model.Participant
}

func (r *ParticipantResolver) ID() graphql.ID { return graphql.ID(r.p.ID) }
func (r *ParticipantResolver) Name() string   { return r.p.Name }

func participantResolvers(ps []model.Participant) []*ParticipantResolver {
	out := make([]*ParticipantResolver, len(ps))
	for i, p := range ps {
		out[i] = &ParticipantResolver{p: p}
	}
	return out
}

// PrizeResolver 奖品解析器
type PrizeResolver struct {
	p model.Prize
}

func (r *PrizeResolver) ID() graphql.ID     { return graphql.ID(r.p.ID) }
func (r *PrizeResolver) Name() string       { return r.p.Name }
func (r *PrizeResolver) Stock() int32       { return int32(r.p.Stock) }
func (r *PrizeResolver) ImageRef() *string  { return optional(r.p.ImageRef) }
func (r *PrizeResolver) Price() *float64    { return r.p.Price }
func (r *PrizeResolver) IsGrandPrize() bool { return r.p.IsGrandPrize }

// DoorprizeWinnerResolver 中奖记录解析器
type DoorprizeWinnerResolver struct {
	w model.DoorprizeWinnerRecord
}

func (r *DoorprizeWinnerResolver) ID() graphql.ID          { return graphql.ID(r.w.ID) }
func (r *DoorprizeWinnerResolver) ParticipantName() string { return r.w.ParticipantName }
func (r *DoorprizeWinnerResolver) PrizeName() string       { return r.w.PrizeName }
func (r *DoorprizeWinnerResolver) PrizeImageRef() string   { return r.w.PrizeImageRef }
func (r *DoorprizeWinnerResolver) WonAt() string           { return formatTime(r.w.WonAt) }

func winnerResolvers(ws []model.DoorprizeWinnerRecord) []*DoorprizeWinnerResolver {
	out := make([]*DoorprizeWinnerResolver, len(ws))
	for i, w := range ws {
		out[i] = &DoorprizeWinnerResolver{w: w}
	}
	return out
}

// NomineeResolver 候选人解析器
type NomineeResolver struct {
	n model.AwardNominee
}

func (r *NomineeResolver) ID() graphql.ID  { return graphql.ID(r.n.ID) }
func (r *NomineeResolver) Name() string    { return r.n.Name }
func (r *NomineeResolver) Company() string { return r.n.Company }

func nomineeResolvers(ns []model.AwardNominee) []*NomineeResolver {
	out := make([]*NomineeResolver, len(ns))
	for i, n := range ns {
		out[i] = &NomineeResolver{n: n}
	}
	return out
}

// AwardSlotResolver 名次位解析器
type AwardSlotResolver struct {
	s model.AwardWinnerSlot
}

func (r *AwardSlotResolver) ID() graphql.ID       { return graphql.ID(r.s.ID) }
func (r *AwardSlotResolver) Rank() int32          { return int32(r.s.Rank) }
func (r *AwardSlotResolver) CandidateID() *string { return optional(r.s.CandidateID) }
func (r *AwardSlotResolver) Category() string     { return r.s.Category }
func (r *AwardSlotResolver) EventLabel() string   { return r.s.EventLabel }

// AwardWinnerResolver 获奖者解析器
type AwardWinnerResolver struct {
	w model.MergedAwardWinner
}

func (r *AwardWinnerResolver) SlotID() graphql.ID    { return graphql.ID(r.w.SlotID) }
func (r *AwardWinnerResolver) Rank() int32           { return int32(r.w.Rank) }
func (r *AwardWinnerResolver) Category() string      { return r.w.Category }
func (r *AwardWinnerResolver) EventLabel() string    { return r.w.EventLabel }
func (r *AwardWinnerResolver) NomineeID() graphql.ID { return graphql.ID(r.w.NomineeID) }
func (r *AwardWinnerResolver) Name() string          { return r.w.Name }
func (r *AwardWinnerResolver) Company() string       { return r.w.Company }

func awardWinnerResolvers(ws []model.MergedAwardWinner) []*AwardWinnerResolver {
	out := make([]*AwardWinnerResolver, len(ws))
	for i, w := range ws {
		out[i] = &AwardWinnerResolver{w: w}
	}
	return out
}

// AwardHistoryEntryResolver 揭晓记录解析器
type AwardHistoryEntryResolver struct {
	h model.AwardHistoryEntry
}

func (r *AwardHistoryEntryResolver) ID() graphql.ID     { return graphql.ID(r.h.ID) }
func (r *AwardHistoryEntryResolver) Name() string       { return r.h.Name }
func (r *AwardHistoryEntryResolver) Company() string    { return r.h.Company }
func (r *AwardHistoryEntryResolver) Category() string   { return r.h.Category }
func (r *AwardHistoryEntryResolver) Rank() int32        { return int32(r.h.Rank) }
func (r *AwardHistoryEntryResolver) EventLabel() string { return r.h.EventLabel }
func (r *AwardHistoryEntryResolver) RevealedAt() string { return formatTime(r.h.RevealedAt) }

func historyResolvers(hs []model.AwardHistoryEntry) []*AwardHistoryEntryResolver {
	out := make([]*AwardHistoryEntryResolver, len(hs))
	for i, h := range hs {
		out[i] = &AwardHistoryEntryResolver{h: h}
	}
	return out
}

// AppConfigResolver 全局配置解析器，不返回口令本身
type AppConfigResolver struct {
	c model.AppConfig
}

func (r *AppConfigResolver) DoorprizeStart() string     { return r.c.DoorprizeStart }
func (r *AppConfigResolver) AwardStart() string         { return r.c.AwardStart }
func (r *AppConfigResolver) DoorprizeStatus() string    { return string(r.c.DoorprizeStatus) }
func (r *AppConfigResolver) AwardStatus() string        { return string(r.c.AwardStatus) }
func (r *AppConfigResolver) HasDoorprizePasscode() bool { return r.c.DoorprizePasscode != "" }
func (r *AppConfigResolver) HasAwardPasscode() bool     { return r.c.AwardPasscode != "" }

// TicketResolver 票据解析器
type TicketResolver struct {
	ticket model.Ticket
}

func (r *TicketResolver) Value() string          { return r.ticket.Value }
func (r *TicketResolver) Version() string        { return r.ticket.Version }
func (r *TicketResolver) RemainingUsages() int32 { return int32(r.ticket.RemainingUsages) }
func (r *TicketResolver) ExpiresAt() string      { return formatTime(r.ticket.ExpiresAt) }
func (r *TicketResolver) CreatedAt() string      { return formatTime(r.ticket.CreatedAt) }

// DrawStateResolver 抽奖状态解析器
type DrawStateResolver struct {
	st service.DrawStatus
}

func (r *DrawStateResolver) Phase() string { return r.st.Phase }

func (r *DrawStateResolver) Participant() *ParticipantResolver {
	if r.st.Participant == nil {
		return nil
	}
	return &ParticipantResolver{p: *r.st.Participant}
}

func (r *DrawStateResolver) Prize() *PrizeResolver {
	if r.st.Prize == nil {
		return nil
	}
	return &PrizeResolver{p: *r.st.Prize}
}

func (r *DrawStateResolver) Ticket() *TicketResolver {
	if r.st.Ticket == nil {
		return nil
	}
	return &TicketResolver{ticket: *r.st.Ticket}
}

func (r *DrawStateResolver) LastWinner() *DoorprizeWinnerResolver {
	if r.st.LastWinner == nil {
		return nil
	}
	return &DoorprizeWinnerResolver{w: *r.st.LastWinner}
}

func (r *DrawStateResolver) LastError() string { return r.st.LastError }

// RevealGroupResolver 轮播分组解析器
type RevealGroupResolver struct {
	g service.RevealGroup
}

func (r *RevealGroupResolver) EventLabel() string { return r.g.EventLabel }
func (r *RevealGroupResolver) Category() string   { return r.g.Category }
func (r *RevealGroupResolver) Winners() []*AwardWinnerResolver {
	return awardWinnerResolvers(r.g.Winners)
}

// RevealStateResolver 颁奖状态解析器
type RevealStateResolver struct {
	st service.RevealStatus
}

func (r *RevealStateResolver) Phase() string        { return r.st.Phase }
func (r *RevealStateResolver) CategoryIndex() int32 { return int32(r.st.CategoryIndex) }
func (r *RevealStateResolver) CategoryCount() int32 { return int32(r.st.CategoryCount) }
func (r *RevealStateResolver) EventLabel() string   { return r.st.EventLabel }
func (r *RevealStateResolver) Category() string     { return r.st.Category }
func (r *RevealStateResolver) Nominees() []*AwardWinnerResolver {
	return awardWinnerResolvers(r.st.Nominees)
}
func (r *RevealStateResolver) Cursor() int32    { return int32(r.st.Cursor) }
func (r *RevealStateResolver) Countdown() int32 { return int32(r.st.Countdown) }
func (r *RevealStateResolver) Revealed() []*AwardWinnerResolver {
	return awardWinnerResolvers(r.st.Revealed)
}

func (r *RevealStateResolver) Current() *AwardWinnerResolver {
	if r.st.Current == nil {
		return nil
	}
	return &AwardWinnerResolver{w: *r.st.Current}
}

func (r *RevealStateResolver) CanReveal() bool      { return r.st.CanReveal }
func (r *RevealStateResolver) CanAdvance() bool     { return r.st.CanAdvance }
func (r *RevealStateResolver) Celebrations() int32  { return int32(r.st.Celebrations) }
func (r *RevealStateResolver) Paused() bool         { return r.st.Paused }
func (r *RevealStateResolver) CarouselIndex() int32 { return int32(r.st.CarouselIndex) }

func (r *RevealStateResolver) Carousel() []*RevealGroupResolver {
	out := make([]*RevealGroupResolver, len(r.st.Carousel))
	for i, g := range r.st.Carousel {
		out[i] = &RevealGroupResolver{g: g}
	}
	return out
}

func (r *RevealStateResolver) Unsynced() int32   { return int32(r.st.Unsynced) }
func (r *RevealStateResolver) LastError() string { return r.st.LastError }

// AccessOutcomeResolver 入口判定解析器
type AccessOutcomeResolver struct {
	o gate.Outcome
}

func (r *AccessOutcomeResolver) Decision() string        { return r.o.Decision.String() }
func (r *AccessOutcomeResolver) Reason() string          { return r.o.Reason }
func (r *AccessOutcomeResolver) ReadOnly() bool          { return r.o.ReadOnly }
func (r *AccessOutcomeResolver) Message() string         { return r.o.Message }
func (r *AccessOutcomeResolver) Locked() bool            { return r.o.Locked }
func (r *AccessOutcomeResolver) RemainingSeconds() int32 { return int32(r.o.RemainingSeconds) }
func (r *AccessOutcomeResolver) FailedAttempts() int32   { return int32(r.o.FailedAttempts) }
func (r *AccessOutcomeResolver) MaxAttempts() int32      { return int32(r.o.MaxAttempts) }

// ArchivedSessionResolver 归档场次解析器
type ArchivedSessionResolver struct {
	a model.ArchivedSession
}

func (r *ArchivedSessionResolver) ID() graphql.ID     { return graphql.ID(r.a.ID) }
func (r *ArchivedSessionResolver) ArchivedAt() string { return formatTime(r.a.ArchivedAt) }
func (r *ArchivedSessionResolver) Participants() []*ParticipantResolver {
	return participantResolvers(r.a.SessionData.Participants)
}
func (r *ArchivedSessionResolver) DoorprizeWinners() []*DoorprizeWinnerResolver {
	return winnerResolvers(r.a.SessionData.DoorprizeWinners)
}
func (r *ArchivedSessionResolver) AwardWinners() []*AwardWinnerResolver {
	return awardWinnerResolvers(r.a.SessionData.AwardHistoryWinners)
}
func (r *ArchivedSessionResolver) AwardHistory() []*AwardHistoryEntryResolver {
	return historyResolvers(r.a.SessionData.AwardHistory)
}

// 输入类型
type PrizeInput struct {
	ID           *graphql.ID
	Name         string
	Stock        int32
	ImageRef     *string
	Price        *float64
	IsGrandPrize *bool
}

type NomineeInput struct {
	ID      *graphql.ID
	Name    string
	Company *string
}

type AwardSlotInput struct {
	ID          *graphql.ID
	Rank        int32
	Category    string
	EventLabel  *string
	CandidateID *string
}

type AppConfigInput struct {
	DoorprizeStart    *string
	AwardStart        *string
	DoorprizeStatus   *string
	AwardStatus       *string
	DoorprizePasscode *string
	AwardPasscode     *string
}

type TicketInput struct {
	Value   string
	Version string
}

func idString(id *graphql.ID) string {
	if id == nil {
		return ""
	}
	return string(*id)
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
