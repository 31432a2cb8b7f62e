package service

import (
	"github.com/lvdashuaibi/luckydraw/internal/award"
	"github.com/lvdashuaibi/luckydraw/internal/doorprize"
	"github.com/lvdashuaibi/luckydraw/internal/model"
)

// DrawStatus 抽奖引擎对外状态，票据只返回给管理端，不进入推送
type DrawStatus struct {
	Phase       string                       `json:"phase"`
	Participant *model.Participant           `json:"participant,omitempty"`
	Prize       *model.Prize                 `json:"prize,omitempty"`
	Ticket      *model.Ticket                `json:"-"`
	LastWinner  *model.DoorprizeWinnerRecord `json:"lastWinner,omitempty"`
	LastError   string                       `json:"lastError,omitempty"`
}

func NewDrawStatus(st doorprize.State) DrawStatus {
	out := DrawStatus{
		Phase:      st.Phase.String(),
		LastWinner: st.LastWinner,
		LastError:  st.LastError,
	}
	if st.Pending != nil {
		p := st.Pending
		out.Participant = &p.Participant
		out.Prize = &p.Prize
		out.Ticket = &p.Ticket
	}
	return out
}

type RevealGroup struct {
	EventLabel string                    `json:"eventLabel"`
	Category   string                    `json:"category"`
	Winners    []model.MergedAwardWinner `json:"winners"`
}

// RevealStatus 颁奖状态机对外状态
type RevealStatus struct {
	Phase         string                    `json:"phase"`
	CategoryIndex int                       `json:"categoryIndex"`
	CategoryCount int                       `json:"categoryCount"`
	EventLabel    string                    `json:"eventLabel,omitempty"`
	Category      string                    `json:"category,omitempty"`
	Nominees      []model.MergedAwardWinner `json:"nominees"`
	Cursor        int                       `json:"cursor"`
	Countdown     int                       `json:"countdown"`
	Revealed      []model.MergedAwardWinner `json:"revealed"`
	Current       *model.MergedAwardWinner  `json:"current,omitempty"`
	CanReveal     bool                      `json:"canReveal"`
	CanAdvance    bool                      `json:"canAdvance"`
	Celebrations  int                       `json:"celebrations"`
	Paused        bool                      `json:"paused"`
	CarouselIndex int                       `json:"carouselIndex"`
	Carousel      []RevealGroup             `json:"carousel,omitempty"`
	Unsynced      int                       `json:"unsynced"`
	LastError     string                    `json:"lastError,omitempty"`
}

func NewRevealStatus(v award.View) RevealStatus {
	out := RevealStatus{
		Phase:         v.Phase.String(),
		CategoryIndex: v.CategoryIndex,
		CategoryCount: v.CategoryCount,
		EventLabel:    v.EventLabel,
		Category:      v.Category,
		Nominees:      nonNil(v.Nominees),
		Cursor:        v.Cursor,
		Countdown:     v.Countdown,
		Revealed:      nonNil(v.Revealed),
		Current:       v.Current,
		CanReveal:     v.CanReveal,
		CanAdvance:    v.CanAdvance,
		Celebrations:  v.Celebrations,
		Paused:        v.Paused,
		CarouselIndex: v.CarouselIndex,
		Unsynced:      v.Unsynced,
		LastError:     v.LastError,
	}
	for _, g := range v.Carousel {
		out.Carousel = append(out.Carousel, RevealGroup{
			EventLabel: g.EventLabel,
			Category:   g.Category,
			Winners:    g.Winners,
		})
	}
	return out
}

func nonNil(ws []model.MergedAwardWinner) []model.MergedAwardWinner {
	if ws == nil {
		return []model.MergedAwardWinner{}
	}
	return ws
}
