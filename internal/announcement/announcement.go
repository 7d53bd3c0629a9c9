// Package announcement renders the subscriber-facing color code message.
package announcement

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"colorcodely-go/internal/types"
)

const (
	colorDaySubject   = "ColorCodely Notification for %s"
	noColorDaySubject = "ColorCodely Update: No Color Codes Announced Today"
	phoneUnavailable  = "Not available"
)

// Format builds the message for one run. The shape depends only on whether
// colors is empty; a closed center and an unreadable announcement look the same.
func Format(date time.Time, center types.TestingCenter, colors []string) types.Announcement {
	if len(colors) == 0 {
		return noColorDay(date, center)
	}
	return colorDay(date, center, colors)
}

func colorDay(date time.Time, center types.TestingCenter, colors []string) types.Announcement {
	var b strings.Builder
	b.WriteString("Color Code Notification - Powered by ColorCodely!\n\n")
	writeHeader(&b, date, center)
	b.WriteString("🎨 COLOR CODES:\n")
	b.WriteString(JoinColors(colors))
	b.WriteString("\n\nPlease report to drug screen if your color is called.")

	return types.Announcement{
		Subject: fmt.Sprintf(colorDaySubject, displayName(center)),
		Body:    b.String(),
	}
}

func noColorDay(date time.Time, center types.TestingCenter) types.Announcement {
	var b strings.Builder
	b.WriteString("Color Code Update - Powered by ColorCodely!\n\n")
	writeHeader(&b, date, center)
	b.WriteString("🚫 COLOR CODES:\nNo color codes were announced today.\n\n")
	b.WriteString("Please call the announcement line to confirm and follow your probation instructions.")

	return types.Announcement{
		Subject:  noColorDaySubject,
		Body:     b.String(),
		NoColors: true,
	}
}

func writeHeader(b *strings.Builder, date time.Time, center types.TestingCenter) {
	fmt.Fprintf(b, "📅 DATE: %s, %s\n\n", strings.ToUpper(date.Weekday().String()), date.Format("January 2, 2006"))
	fmt.Fprintf(b, "🏛️ TESTING CENTER: %s\n\n", displayName(center))
	phone := strings.TrimSpace(center.AnnouncePhone)
	if phone == "" {
		phone = phoneUnavailable
	}
	fmt.Fprintf(b, "📞 ANNOUNCEMENT PHONE: %s\n\n", phone)
}

func displayName(center types.TestingCenter) string {
	if n := strings.TrimSpace(center.Name); n != "" {
		return n
	}
	return center.ID
}

// JoinColors title-cases and comma-joins the color list.
func JoinColors(colors []string) string {
	title := cases.Title(language.English)
	out := make([]string, 0, len(colors))
	for _, c := range colors {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		out = append(out, title.String(strings.ToLower(c)))
	}
	return strings.Join(out, ", ")
}
