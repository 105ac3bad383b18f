package bot

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/zulandar/callsheet/internal/store"
)

// Display limits, in characters. They apply to rendering only.
const (
	buttonNameLimit     = 30
	briefAboutLimit     = 100
	briefNotesLimit     = 200
	commentPreviewLimit = 100
	commentFullLimit    = 500
	recentComments      = 3
	errorLogLimit       = 200
)

// Callback payloads.
const (
	cbCancel     = "cancel"
	cbSelect     = "select:"
	cbInfo       = "info:"
	cbInfoList   = "info:list"
	cbInfoClose  = "info:close"
	cbComments   = "comments:"
	cbAdmin      = "admin:"
	resultDocTxt = "result.txt"
)

// truncate shortens s to max runes, appending "..." when cut.
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max]) + "..."
}

func cancelRow() []Button {
	return []Button{{Label: "❌ Cancel", Data: cbCancel}}
}

// targetButtons renders one button per driver with the given payload prefix,
// followed by a trailing row.
func targetButtons(targets []store.Target, prefix string, last []Button) [][]Button {
	rows := make([][]Button, 0, len(targets)+1)
	for _, t := range targets {
		rows = append(rows, []Button{{Label: truncate(t.Name, buttonNameLimit), Data: prefix + t.ID}})
	}
	return append(rows, last)
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

// driverBrief renders the short view shown after a driver is selected for
// a comment.
func driverBrief(d *store.TargetDetail) string {
	var b strings.Builder
	fmt.Fprintf(&b, "👤 Selected driver: %s", d.Name)
	if d.Status != "" {
		fmt.Fprintf(&b, "\n📊 Status: %s", d.Status)
	}
	if d.Number != "" {
		fmt.Fprintf(&b, "\n📞 Number: %s", d.Number)
	}
	if d.About != "" {
		fmt.Fprintf(&b, "\nℹ️ About: %s", truncate(d.About, briefAboutLimit))
	}
	if d.Date != "" {
		fmt.Fprintf(&b, "\n📅 Date: %s", d.Date)
	}
	fmt.Fprintf(&b, "\n🚛 Trailer: %s", yesNo(d.Trailer))
	if d.Notes != "" {
		fmt.Fprintf(&b, "\n\n📝 Current notes:\n%s", truncate(d.Notes, briefNotesLimit))
	}
	b.WriteString("\n\n🎙️ Now send the call recording (audio) or a text comment:")
	return b.String()
}

// driverFull renders the detail view with the most recent comments.
func driverFull(d *store.TargetDetail, comments []store.Comment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "👤 %s\n🆔 %s", d.Name, truncate(d.ID, 8))
	if d.Status != "" {
		fmt.Fprintf(&b, "\n📊 Status: %s", d.Status)
	}
	if d.About != "" {
		fmt.Fprintf(&b, "\nℹ️ About: %s", d.About)
	}
	if d.Number != "" {
		fmt.Fprintf(&b, "\n📞 Number: %s", d.Number)
	}
	if d.Date != "" {
		fmt.Fprintf(&b, "\n📅 Date: %s", d.Date)
	}
	fmt.Fprintf(&b, "\n🚛 Trailer: %s", yesNo(d.Trailer))
	if d.Notes != "" {
		fmt.Fprintf(&b, "\n\n📝 Notes:\n%s", d.Notes)
	}
	if len(comments) == 0 {
		b.WriteString("\n\n💬 No comments")
		return b.String()
	}
	fmt.Fprintf(&b, "\n\n💬 Comments (%d):", len(comments))
	start := 0
	if len(comments) > recentComments {
		start = len(comments) - recentComments
	}
	for _, c := range comments[start:] {
		fmt.Fprintf(&b, "\n• [%s] %s", commentTime(c), truncate(c.Text, commentPreviewLimit))
	}
	if start > 0 {
		fmt.Fprintf(&b, "\n... and %d more", start)
	}
	return b.String()
}

// commentList renders every comment of a driver.
func commentList(name string, comments []store.Comment) string {
	if len(comments) == 0 {
		return fmt.Sprintf("💬 %s has no comments", name)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "💬 All comments for %s (%d):", name, len(comments))
	for i, c := range comments {
		fmt.Fprintf(&b, "\n\n%d. [%s]\n%s", i+1, commentTime(c), truncate(c.Text, commentFullLimit))
	}
	return b.String()
}

func commentTime(c store.Comment) string {
	if c.CreatedAt.IsZero() {
		return "unknown"
	}
	return c.CreatedAt.UTC().Format("2006-01-02 15:04")
}

// commentConfirmation echoes the stored content verbatim.
func commentConfirmation(name, content string) string {
	return fmt.Sprintf("✅ Comment added!\n\nDriver: %s\nComment:\n%s", name, content)
}
