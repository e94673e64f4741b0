package bot

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/00083ns/mtgnotif/internal/auth"
	"github.com/00083ns/mtgnotif/internal/model"
)

const (
	digestHeader     = "【本日のMTG予定】"
	noMeetingsLine   = " 本日MTGの予定はありません"
	fetchFailed      = "スケジュールの取得に失敗しました: %v"
	notifyFailed     = "通知送信中にエラーが発生しました: %v"
	runFailed        = "MTG通知の実行に失敗しました: %v"
	reminderFailed   = "Reminder送信中にエラーが発生しました: \"%s\""
	authRequiredText = "Googleカレンダーの認証が必要です。以下のURLで認証し、取得したコードを GOOGLE_AUTH_CODE に設定して再実行してください:\n%s"
)

// FormatDigest builds the daily summary message for events.
func FormatDigest(events []model.Event) string {
	if len(events) == 0 {
		return digestHeader + "\n" + noMeetingsLine
	}

	lines := make([]string, 0, len(events)+1)
	lines = append(lines, digestHeader)
	for _, e := range events {
		line := fmt.Sprintf("\t･ %s - %s", e.StartTime, e.Summary)
		if e.HasDetailURL() {
			line += fmt.Sprintf(" (%s)", e.DetailURL)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// FormatReminder builds the message sent offset before e starts.
func FormatReminder(e model.Event, offset time.Duration) string {
	msg := fmt.Sprintf("\"%s\" が%d分後に始まります", e.Summary, int(offset/time.Minute))
	if e.HasDetailURL() {
		msg += " \n " + e.DetailURL
	}
	return msg
}

// FormatFailure builds the generic failure message for err.
func FormatFailure(err any) string {
	return fmt.Sprintf(runFailed, err)
}

// fetchFailureMessage points the operator at the consent page when the
// failure is an authorization problem.
func fetchFailureMessage(err error) string {
	var reqErr *auth.RequiredError
	if errors.As(err, &reqErr) && reqErr.AuthURL != "" {
		return fmt.Sprintf(authRequiredText, reqErr.AuthURL)
	}
	return fmt.Sprintf(fetchFailed, err)
}
