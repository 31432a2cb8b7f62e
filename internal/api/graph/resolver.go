package graph

import (
	"context"
	"errors"
	"fmt"

	graphql "github.com/graph-gophers/graphql-go"
	"github.com/lvdashuaibi/luckydraw/internal/award"
	"github.com/lvdashuaibi/luckydraw/internal/gate"
	"github.com/lvdashuaibi/luckydraw/internal/model"
	"github.com/lvdashuaibi/luckydraw/internal/service"
	"github.com/phuslu/log"
)

// Resolver GraphQL解析器
type Resolver struct {
	svc *service.EventService
}

// NewResolver 创建新的解析器
func NewResolver(svc *service.EventService) *Resolver {
	return &Resolver{svc: svc}
}

func (r *Resolver) Participants(ctx context.Context) ([]*ParticipantResolver, error) {
	ps, err := r.svc.ListParticipants(ctx)
	if err != nil {
		return nil, err
	}
	return participantResolvers(ps), nil
}

func (r *Resolver) Prizes(ctx context.Context) ([]*PrizeResolver, error) {
	ps, err := r.svc.ListPrizes(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*PrizeResolver, len(ps))
	for i, p := range ps {
		out[i] = &PrizeResolver{p: p}
	}
	return out, nil
}

func (r *Resolver) DoorprizeWinners(ctx context.Context) ([]*DoorprizeWinnerResolver, error) {
	ws, err := r.svc.DoorprizeWinners(ctx)
	if err != nil {
		return nil, err
	}
	return winnerResolvers(ws), nil
}

func (r *Resolver) Nominees(ctx context.Context) ([]*NomineeResolver, error) {
	ns, err := r.svc.ListNominees(ctx)
	if err != nil {
		return nil, err
	}
	return nomineeResolvers(ns), nil
}

func (r *Resolver) AwardSlots(ctx context.Context) ([]*AwardSlotResolver, error) {
	slots, err := r.svc.ListSlots(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*AwardSlotResolver, len(slots))
	for i, s := range slots {
		out[i] = &AwardSlotResolver{s: s}
	}
	return out, nil
}

func (r *Resolver) AwardWinners(ctx context.Context) ([]*AwardWinnerResolver, error) {
	ws, err := r.svc.MergedAwardWinners(ctx)
	if err != nil {
		return nil, err
	}
	return awardWinnerResolvers(ws), nil
}

func (r *Resolver) AwardHistory(ctx context.Context) ([]*AwardHistoryEntryResolver, error) {
	hs, err := r.svc.AwardHistory(ctx)
	if err != nil {
		return nil, err
	}
	return historyResolvers(hs), nil
}

func (r *Resolver) AvailableCandidates(ctx context.Context, args struct{ SlotID graphql.ID }) ([]*NomineeResolver, error) {
	ns, err := r.svc.AvailableCandidates(ctx, string(args.SlotID))
	if err != nil {
		return nil, err
	}
	return nomineeResolvers(ns), nil
}

func (r *Resolver) AppConfig(ctx context.Context) (*AppConfigResolver, error) {
	cfg, err := r.svc.AppConfig(ctx)
	if err != nil {
		return nil, err
	}
	return &AppConfigResolver{c: *cfg}, nil
}

func (r *Resolver) DrawState() *DrawStateResolver {
	return &DrawStateResolver{st: service.NewDrawStatus(r.svc.Draw.State())}
}

func (r *Resolver) RevealState() *RevealStateResolver {
	return &RevealStateResolver{st: service.NewRevealStatus(r.svc.Awards.View())}
}

func (r *Resolver) RequestAccess(ctx context.Context, args struct{ Target string }) (*AccessOutcomeResolver, error) {
	target, device, err := accessArgs(ctx, args.Target)
	if err != nil {
		return nil, err
	}
	outcome, err := r.svc.Gate.RequestAccess(ctx, target, device)
	if err != nil {
		return nil, err
	}
	return &AccessOutcomeResolver{o: outcome}, nil
}

func (r *Resolver) SubmitPasscode(ctx context.Context, args struct {
	Target   string
	Passcode string
}) (*AccessOutcomeResolver, error) {
	target, device, err := accessArgs(ctx, args.Target)
	if err != nil {
		return nil, err
	}
	outcome, err := r.svc.Gate.SubmitPasscode(ctx, target, device, args.Passcode)
	if err != nil {
		return nil, err
	}
	return &AccessOutcomeResolver{o: outcome}, nil
}

func accessArgs(ctx context.Context, rawTarget string) (gate.Target, string, error) {
	target, err := gate.ParseTarget(rawTarget)
	if err != nil {
		return "", "", err
	}
	device := DeviceFromContext(ctx)
	if device == "" {
		return "", "", ErrNoDevice
	}
	return target, device, nil
}

func (r *Resolver) Archives(ctx context.Context) ([]*ArchivedSessionResolver, error) {
	archives, err := r.svc.Archiver.ListArchives(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*ArchivedSessionResolver, len(archives))
	for i, a := range archives {
		out[i] = &ArchivedSessionResolver{a: a}
	}
	return out, nil
}

func (r *Resolver) Archive(ctx context.Context, args struct{ ID graphql.ID }) (*ArchivedSessionResolver, error) {
	a, err := r.svc.Archiver.GetArchive(ctx, string(args.ID))
	if err != nil {
		return nil, err
	}
	return &ArchivedSessionResolver{a: *a}, nil
}

// 管理端写操作

func (r *Resolver) AddParticipant(ctx context.Context, args struct{ Name string }) (graphql.ID, error) {
	id, err := r.svc.AddParticipant(ctx, args.Name)
	return graphql.ID(id), err
}

func (r *Resolver) DeleteParticipant(ctx context.Context, args struct{ ID graphql.ID }) (bool, error) {
	if err := r.svc.DeleteParticipant(ctx, string(args.ID)); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Resolver) SavePrize(ctx context.Context, args struct{ Input PrizeInput }) (graphql.ID, error) {
	in := args.Input
	p := model.Prize{
		ID:       idString(in.ID),
		Name:     in.Name,
		Stock:    int(in.Stock),
		ImageRef: stringValue(in.ImageRef),
		Price:    in.Price,
	}
	if in.IsGrandPrize != nil {
		p.IsGrandPrize = *in.IsGrandPrize
	}
	id, err := r.svc.SavePrize(ctx, p)
	return graphql.ID(id), err
}

func (r *Resolver) DeletePrize(ctx context.Context, args struct{ ID graphql.ID }) (bool, error) {
	if err := r.svc.DeletePrize(ctx, string(args.ID)); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Resolver) SaveNominee(ctx context.Context, args struct{ Input NomineeInput }) (graphql.ID, error) {
	id, err := r.svc.SaveNominee(ctx, model.AwardNominee{
		ID:      idString(args.Input.ID),
		Name:    args.Input.Name,
		Company: stringValue(args.Input.Company),
	})
	return graphql.ID(id), err
}

func (r *Resolver) DeleteNominee(ctx context.Context, args struct{ ID graphql.ID }) (bool, error) {
	if err := r.svc.DeleteNominee(ctx, string(args.ID)); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Resolver) SaveAwardSlot(ctx context.Context, args struct{ Input AwardSlotInput }) (graphql.ID, error) {
	id, err := r.svc.SaveSlot(ctx, model.AwardWinnerSlot{
		ID:          idString(args.Input.ID),
		Rank:        int(args.Input.Rank),
		Category:    args.Input.Category,
		EventLabel:  stringValue(args.Input.EventLabel),
		CandidateID: stringValue(args.Input.CandidateID),
	})
	return graphql.ID(id), err
}

func (r *Resolver) DeleteAwardSlot(ctx context.Context, args struct{ ID graphql.ID }) (bool, error) {
	if err := r.svc.DeleteSlot(ctx, string(args.ID)); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Resolver) AssignCandidate(ctx context.Context, args struct {
	SlotID      graphql.ID
	CandidateID *string
}) (bool, error) {
	if err := r.svc.AssignCandidate(ctx, string(args.SlotID), stringValue(args.CandidateID)); err != nil {
		return false, err
	}
	return true, nil
}

// UpdateAppConfig 只修改传入的字段
func (r *Resolver) UpdateAppConfig(ctx context.Context, args struct{ Input AppConfigInput }) (*AppConfigResolver, error) {
	cfg, err := r.svc.AppConfig(ctx)
	if err != nil {
		return nil, err
	}
	in := args.Input
	if in.DoorprizeStart != nil {
		cfg.DoorprizeStart = *in.DoorprizeStart
	}
	if in.AwardStart != nil {
		cfg.AwardStart = *in.AwardStart
	}
	if in.DoorprizeStatus != nil {
		cfg.DoorprizeStatus = model.SessionStatus(*in.DoorprizeStatus)
	}
	if in.AwardStatus != nil {
		cfg.AwardStatus = model.SessionStatus(*in.AwardStatus)
	}
	if in.DoorprizePasscode != nil {
		cfg.DoorprizePasscode = *in.DoorprizePasscode
	}
	if in.AwardPasscode != nil {
		cfg.AwardPasscode = *in.AwardPasscode
	}
	if err := r.svc.UpdateAppConfig(ctx, *cfg); err != nil {
		return nil, err
	}
	return &AppConfigResolver{c: *cfg}, nil
}

// 抽奖

func (r *Resolver) Spin(ctx context.Context) (*DrawStateResolver, error) {
	if err := r.svc.Draw.Spin(ctx); err != nil {
		return nil, err
	}
	return r.DrawState(), nil
}

func (r *Resolver) ConfirmDraw(ctx context.Context, args struct{ Ticket TicketInput }) (*DoorprizeWinnerResolver, error) {
	rec, err := r.svc.Draw.Confirm(ctx, model.Ticket{
		Value:   args.Ticket.Value,
		Version: args.Ticket.Version,
	})
	if err != nil {
		return nil, err
	}
	return &DoorprizeWinnerResolver{w: *rec}, nil
}

func (r *Resolver) RetryDraw(ctx context.Context) *DrawStateResolver {
	r.svc.Draw.Retry(ctx)
	return r.DrawState()
}

// 颁奖

func (r *Resolver) revealResult(err error) (*RevealStateResolver, error) {
	if err != nil {
		return nil, err
	}
	return r.RevealState(), nil
}

func (r *Resolver) InitReveal(ctx context.Context) (*RevealStateResolver, error) {
	return r.revealResult(r.svc.Awards.Init(ctx))
}

func (r *Resolver) SelectCategory(ctx context.Context, args struct{ Index int32 }) (*RevealStateResolver, error) {
	return r.revealResult(r.svc.Awards.SelectCategory(ctx, int(args.Index)))
}

func (r *Resolver) NextNominee() (*RevealStateResolver, error) {
	return r.revealResult(r.svc.Awards.NextNominee())
}

func (r *Resolver) PrevNominee() (*RevealStateResolver, error) {
	return r.revealResult(r.svc.Awards.PrevNominee())
}

func (r *Resolver) StartReveal() (*RevealStateResolver, error) {
	return r.revealResult(r.svc.Awards.StartReveal())
}

// AdvanceCategory 揭晓记录写入失败时仍返回新状态，失败数量见 unsynced
func (r *Resolver) AdvanceCategory(ctx context.Context) (*RevealStateResolver, error) {
	err := r.svc.Awards.AdvanceCategory(ctx)
	if errors.Is(err, award.ErrHistoryNotSynced) {
		log.Warn().Err(err).Msg("揭晓记录未写入，将在下次切换奖项时重试")
		err = nil
	}
	return r.revealResult(err)
}

func (r *Resolver) CarouselNext() (*RevealStateResolver, error) {
	return r.revealResult(r.svc.Awards.CarouselNext())
}

func (r *Resolver) CarouselPrev() (*RevealStateResolver, error) {
	return r.revealResult(r.svc.Awards.CarouselPrev())
}

func (r *Resolver) PauseCarousel() (*RevealStateResolver, error) {
	return r.revealResult(r.svc.Awards.Pause())
}

func (r *Resolver) ResumeCarousel() (*RevealStateResolver, error) {
	return r.revealResult(r.svc.Awards.Resume())
}

func (r *Resolver) ArchiveSession(ctx context.Context) (graphql.ID, error) {
	id, err := r.svc.ArchiveSession(ctx)
	if err != nil {
		return "", fmt.Errorf("归档失败: %w", err)
	}
	return graphql.ID(id), nil
}
