package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"colorcodely-go/internal/logger"
	"colorcodely-go/internal/types"
)

const DefaultSubscriberSheet = "Subscribers"

// maxSheetName is Excel's sheet name limit in characters.
const maxSheetName = 31

var ErrInvalidSheetName = errors.New("invalid sheet name")

// ValidSheetName reports whether name can be used as a workbook sheet, the
// form a testing center's log name takes in the xlsx store.
func ValidSheetName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("%w: empty", ErrInvalidSheetName)
	case utf8.RuneCountInString(name) > maxSheetName:
		return fmt.Errorf("%w: %q is longer than %d characters", ErrInvalidSheetName, name, maxSheetName)
	case strings.ContainsAny(name, `:\/?*[]`):
		return fmt.Errorf("%w: %q contains one of : \\ / ? * [ ]", ErrInvalidSheetName, name)
	case strings.HasPrefix(name, "'") || strings.HasSuffix(name, "'"):
		return fmt.Errorf("%w: %q starts or ends with an apostrophe", ErrInvalidSheetName, name)
	}
	return nil
}

// Workbook keeps the persistence log in an xlsx file: one sheet per testing
// center log name plus a shared subscriber sheet.
type Workbook struct {
	mu              sync.Mutex
	path            string
	subscriberSheet string
	log             *logger.Logger
}

func OpenWorkbook(path, subscriberSheet string, log *logger.Logger) (*Workbook, error) {
	if path == "" {
		return nil, errors.New("workbook path not set")
	}
	if subscriberSheet == "" {
		subscriberSheet = DefaultSubscriberSheet
	}
	w := &Workbook{path: path, subscriberSheet: subscriberSheet, log: log.Component("store.workbook")}
	if _, err := os.Stat(path); err == nil {
		f, err := excelize.OpenFile(path)
		if err != nil {
			return nil, fmt.Errorf("open workbook: %w", err)
		}
		_ = f.Close()
	}
	w.log.WithField("path", path).Info("workbook store ready")
	return w, nil
}

func (w *Workbook) Close() error { return nil }

// open returns the workbook, or a fresh one when the file does not exist yet.
func (w *Workbook) open() (*excelize.File, bool, error) {
	f, err := excelize.OpenFile(w.path)
	if err == nil {
		return f, true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return excelize.NewFile(), false, nil
	}
	return nil, false, fmt.Errorf("open workbook: %w", err)
}

func hasSheet(f *excelize.File, sheet string) bool {
	idx, err := f.GetSheetIndex(sheet)
	return err == nil && idx >= 0
}

func (w *Workbook) AppendTranscription(ctx context.Context, center types.TestingCenter, rec types.TranscriptionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if center.LogName == "" {
		return fmt.Errorf("%w: center %s has no log name", ErrUnknownLog, center.ID)
	}
	if err := ValidSheetName(center.LogName); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	f, _, err := w.open()
	if err != nil {
		return err
	}
	defer f.Close()

	sheet := center.LogName
	if !hasSheet(f, sheet) {
		if _, err := f.NewSheet(sheet); err != nil {
			return fmt.Errorf("create sheet %s: %w", sheet, err)
		}
		header := make([]interface{}, len(transcriptionHeader))
		for i, h := range transcriptionHeader {
			header[i] = h
		}
		if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return fmt.Errorf("read rows: %w", err)
	}
	at, err := excelize.CoordinatesToCellName(1, len(rows)+1)
	if err != nil {
		return fmt.Errorf("cell name: %w", err)
	}
	row := []interface{}{
		rec.ID, rec.Date, rec.Time, rec.CenterID, rec.CallID, rec.RecordingID,
		rec.Duration, joinColors(rec.Colors), string(rec.Confidence), rec.Text,
	}
	if err := f.SetSheetRow(sheet, at, &row); err != nil {
		return fmt.Errorf("write row: %w", err)
	}
	if err := f.SaveAs(w.path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	w.log.WithCenter(center).WithField("date", rec.Date).WithField("row", len(rows)+1).Info("transcription appended")
	return nil
}

func (w *Workbook) AlreadySentToday(ctx context.Context, center types.TestingCenter, date string) (bool, error) {
	recs, err := w.records(ctx, center)
	if err != nil {
		return false, err
	}
	for _, r := range recs {
		if r.Date == date {
			return true, nil
		}
	}
	return false, nil
}

// Latest returns the most recent record in the center's log, or nil.
func (w *Workbook) Latest(ctx context.Context, center types.TestingCenter) (*types.TranscriptionRecord, error) {
	recs, err := w.records(ctx, center)
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	last := recs[len(recs)-1]
	return &last, nil
}

func (w *Workbook) History(ctx context.Context, center types.TestingCenter, limit int) ([]types.TranscriptionRecord, error) {
	recs, err := w.records(ctx, center)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(recs) > limit {
		recs = recs[len(recs)-limit:]
	}
	return recs, nil
}

func (w *Workbook) records(ctx context.Context, center types.TestingCenter) ([]types.TranscriptionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	f, exists, err := w.open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if !exists || !hasSheet(f, center.LogName) {
		return nil, nil
	}
	rows, err := f.GetRows(center.LogName)
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) <= 1 {
		return nil, nil
	}
	cols := indexColumns(rows[0])
	if cols["date"] < 0 {
		return nil, fmt.Errorf("%w: date in %s", ErrMissingColumns, center.LogName)
	}
	var out []types.TranscriptionRecord
	for _, r := range rows[1:] {
		rec := types.TranscriptionRecord{
			ID:          cell(r, cols["id"]),
			Date:        strings.TrimSpace(cell(r, cols["date"])),
			Time:        cell(r, cols["time"]),
			CenterID:    cell(r, cols["testing_center"]),
			CallID:      cell(r, cols["call_sid"]),
			RecordingID: cell(r, cols["recording_sid"]),
			Duration:    cell(r, cols["recording_duration"]),
			Colors:      splitColors(cell(r, cols["colors"])),
			Confidence:  types.Confidence(cell(r, cols["confidence"])),
			Text:        cell(r, cols["transcription"]),
		}
		if rec.Date == "" {
			continue
		}
		if rec.CenterID != "" && !strings.EqualFold(rec.CenterID, center.ID) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (w *Workbook) Subscribers(ctx context.Context, center types.TestingCenter) ([]types.Subscriber, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	f, exists, err := w.open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if !exists || !hasSheet(f, w.subscriberSheet) {
		return nil, fmt.Errorf("%w: sheet %s", ErrNoSubscribers, w.subscriberSheet)
	}
	rows, err := f.GetRows(w.subscriberSheet)
	if err != nil {
		return nil, fmt.Errorf("read subscribers: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: sheet %s is empty", ErrNoSubscribers, w.subscriberSheet)
	}
	cols := indexSubscriberColumns(rows[0])
	if cols.center < 0 {
		return nil, fmt.Errorf("%w: testing center in %s", ErrMissingColumns, w.subscriberSheet)
	}

	// a sheet without an active column predates the flag; everyone listed is active
	var out []types.Subscriber
	for _, r := range rows[1:] {
		sub := types.Subscriber{
			FullName: strings.TrimSpace(cell(r, cols.name)),
			Email:    strings.TrimSpace(cell(r, cols.email)),
			Phone:    strings.TrimSpace(cell(r, cols.phone)),
			CenterID: strings.TrimSpace(cell(r, cols.center)),
			Active:   cols.active < 0 || parseActive(cell(r, cols.active)),
		}
		if !center.Matches(sub.CenterID) {
			continue
		}
		out = append(out, sub)
	}
	return out, nil
}

func cell(r []string, idx int) string {
	if idx < 0 || idx >= len(r) {
		return ""
	}
	return r[idx]
}

func indexColumns(header []string) map[string]int {
	cols := make(map[string]int, len(transcriptionHeader))
	for _, h := range transcriptionHeader {
		cols[h] = -1
	}
	for i, h := range header {
		l := strings.ToLower(strings.TrimSpace(h))
		if _, ok := cols[l]; ok && cols[l] == -1 {
			cols[l] = i
		}
	}
	return cols
}

type subscriberColumns struct {
	name, email, phone, center, active int
}

// indexSubscriberColumns detects columns by header heuristics so sign-up
// sheets with slightly different headings still load.
func indexSubscriberColumns(header []string) subscriberColumns {
	c := subscriberColumns{name: -1, email: -1, phone: -1, center: -1, active: -1}
	set := func(dst *int, i int) {
		if *dst == -1 {
			*dst = i
		}
	}
	for i, h := range header {
		l := strings.ToLower(strings.TrimSpace(h))
		switch {
		case strings.Contains(l, "mail"):
			set(&c.email, i)
		case strings.Contains(l, "phone") || strings.Contains(l, "mobile") || strings.Contains(l, "sms"):
			set(&c.phone, i)
		case strings.Contains(l, "center") || strings.Contains(l, "centre") || strings.Contains(l, "location"):
			set(&c.center, i)
		case strings.Contains(l, "active") || strings.Contains(l, "status") || strings.Contains(l, "subscribed"):
			set(&c.active, i)
		case strings.Contains(l, "name"):
			set(&c.name, i)
		}
	}
	return c
}
