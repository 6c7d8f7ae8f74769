package handler

import (
	"errors"
	"strings"

	"github.com/GiraffeSchool/student-signin-system/internal/attendance"
	"github.com/GiraffeSchool/student-signin-system/internal/notify"
)

type format int

const (
	formatText format = iota
	formatHTML
)

const (
	iconOK   = "✅"
	iconWarn = "⚠️"
	iconFail = "❌"
)

// view is the data behind both the result page and the text fragment.
type view struct {
	SiteTitle string
	OK        bool
	Icon      string
	Title     string
	Lines     []string
}

func resultView(out attendance.Outcome, err error) view {
	if err == nil {
		return view{
			OK:    true,
			Icon:  iconOK,
			Title: "簽到成功！",
			Lines: []string{
				"簽到時間：" + out.At.Format("2006/01/02 15:04"),
				"學號：" + out.StudentID,
				"姓名：" + out.Name,
				"班級：" + out.Class,
				notificationLine(out.Notification),
			},
		}
	}

	lines := strings.Split(attendance.PublicMessage(err), "\n")
	switch attendance.KindOf(err) {
	case attendance.KindNotFound:
		return view{Icon: iconFail, Title: "簽到失敗", Lines: lines}
	case attendance.KindDependency:
		return view{Icon: iconFail, Title: "系統錯誤", Lines: lines}
	}
	icon := iconFail
	if errors.Is(err, attendance.ErrAlreadyMarked) {
		icon = iconWarn
	}
	return view{Icon: icon, Title: lines[0], Lines: lines[1:]}
}

func notificationLine(r notify.Report) string {
	switch r.Summary() {
	case notify.SummaryAll:
		return iconOK + " 已發送通知給家長"
	case notify.SummaryPartial:
		return iconWarn + " 部分家長通知發送失敗"
	case notify.SummaryNone:
		return iconWarn + " 家長通知發送失敗"
	}
	return iconWarn + " 未設定家長 LINE"
}
