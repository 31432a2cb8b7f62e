package service

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/lvdashuaibi/luckydraw/internal/model"
	"github.com/lvdashuaibi/luckydraw/internal/store"
	"github.com/phuslu/log"
	"github.com/xuri/excelize/v2"
)

const (
	SheetDoorprizeWinners = "Doorprize Winners"
	SheetAwardHistory     = "Award History"
)

type participantRow struct {
	Name string `csv:"name"`
}

// ImportParticipantsCSV 从带 name 表头的CSV批量导入，跳过空行与重名，返回新增数量
func (s *EventService) ImportParticipantsCSV(ctx context.Context, r io.Reader) (int, error) {
	var rows []*participantRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return 0, fmt.Errorf("%w: 解析CSV失败: %w", ErrInvalidInput, err)
	}

	existing, err := s.ListParticipants(ctx)
	if err != nil {
		return 0, err
	}
	seen := make(map[string]bool, len(existing)+len(rows))
	for _, p := range existing {
		seen[strings.ToLower(strings.TrimSpace(p.Name))] = true
	}

	batch := s.store.Batch()
	added := 0
	for _, row := range rows {
		name := strings.TrimSpace(row.Name)
		key := strings.ToLower(name)
		if name == "" || seen[key] {
			continue
		}
		seen[key] = true
		batch.Add(model.CollectionParticipants, store.Fields{"name": name})
		added++
	}

	if err := batch.Commit(ctx); err != nil {
		return 0, fmt.Errorf("导入参与者失败: %w", err)
	}
	log.Info().Int("rows", len(rows)).Int("added", added).Msg("参与者导入完成")
	return added, nil
}

// ExportWinnersXLSX 导出抽奖中奖记录与颁奖记录，各占一个工作表
func (s *EventService) ExportWinnersXLSX(ctx context.Context, w io.Writer) error {
	winners, err := s.DoorprizeWinners(ctx)
	if err != nil {
		return err
	}
	history, err := s.AwardHistory(ctx)
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetDoorprizeWinners); err != nil {
		return fmt.Errorf("创建工作表失败: %w", err)
	}
	rows := [][]interface{}{{"Participant", "Prize", "Won At"}}
	for _, rec := range winners {
		rows = append(rows, []interface{}{rec.ParticipantName, rec.PrizeName, formatTime(rec.WonAt)})
	}
	if err := writeRows(f, SheetDoorprizeWinners, rows); err != nil {
		return err
	}

	if _, err := f.NewSheet(SheetAwardHistory); err != nil {
		return fmt.Errorf("创建工作表失败: %w", err)
	}
	rows = [][]interface{}{{"Event", "Category", "Rank", "Name", "Company", "Revealed At"}}
	for _, h := range history {
		rows = append(rows, []interface{}{h.EventLabel, h.Category, h.Rank, h.Name, h.Company, formatTime(h.RevealedAt)})
	}
	if err := writeRows(f, SheetAwardHistory, rows); err != nil {
		return err
	}

	f.SetActiveSheet(0)
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("写入导出文件失败: %w", err)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, rows [][]interface{}) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("写入工作表 %s 失败: %w", sheet, err)
		}
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
