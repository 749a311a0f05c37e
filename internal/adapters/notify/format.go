package notify

import (
	"fmt"
	"strings"
	"time"

	"review-monitor/internal/domain"
)

const previewRunes = 100

// Formatter собирает текст оповещения.
type Formatter struct {
	DashboardURL string
	Now          func() time.Time
}

// Format возвращает текст оповещения или пустую строку, если сообщать нечего.
func (f Formatter) Format(newReviews, flagged []domain.AnalyzedReview) string {
	if len(newReviews) == 0 && len(flagged) == 0 {
		return ""
	}
	var b strings.Builder
	if len(flagged) > 0 {
		writeFlagged(&b, flagged)
	} else {
		writeNew(&b, newReviews)
	}
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	fmt.Fprintf(&b, "\n🕐 알림 시간: %s", now().Format("2006-01-02 15:04:05"))
	if f.DashboardURL != "" {
		fmt.Fprintf(&b, "\n🔗 대시보드: %s", f.DashboardURL)
	}
	return b.String()
}

func writeFlagged(b *strings.Builder, flagged []domain.AnalyzedReview) {
	negative, neutral := 0, 0
	for _, item := range flagged {
		if item.Result.IsNegative() {
			negative++
		} else {
			neutral++
		}
	}
	b.WriteString("🚨 주의 필요한 리뷰 발견!\n")
	parts := make([]string, 0, 2)
	if negative > 0 {
		parts = append(parts, fmt.Sprintf("부정 리뷰: %d개", negative))
	}
	if neutral > 0 {
		parts = append(parts, fmt.Sprintf("중립 리뷰: %d개", neutral))
	}
	b.WriteString(strings.Join(parts, " | "))
	b.WriteString("\n" + strings.Repeat("=", 40) + "\n\n")

	for i, item := range flagged {
		kind := "🟡 중립"
		if item.Result.IsNegative() {
			kind = "🔴 부정"
		}
		r := item.Review
		fmt.Fprintf(b, "📌 %s 리뷰 #%d\n", kind, i+1)
		fmt.Fprintf(b, "상품명: %s\n", orDefault(r.ProductName, "알 수 없음"))
		fmt.Fprintf(b, "제목: %s\n", orDefault(r.Title, "제목 없음"))
		fmt.Fprintf(b, "내용: %s\n", orDefault(r.Content, "내용 없음"))
		fmt.Fprintf(b, "별점: %s\n", stars(r.Rating))
		fmt.Fprintf(b, "작성자: %s\n", orDefault(r.Writer, "익명"))
		fmt.Fprintf(b, "등록시간: %s\n", orDefault(r.CreatedDate, "시간 정보 없음"))
		fmt.Fprintf(b, "신뢰도: %.2f%%\n", item.Result.Confidence)
		if first := item.Result.FirstStage; item.Result.ConflictResolved && first != nil {
			fmt.Fprintf(b, "재분석: %s → %s\n", first.Sentiment.DisplayLabel(), item.Result.Sentiment.DisplayLabel())
			if item.Result.Reasoning != "" {
				fmt.Fprintf(b, "근거: %s\n", item.Result.Reasoning)
			}
		}
		b.WriteString(strings.Repeat("-", 30) + "\n\n")
	}
}

func writeNew(b *strings.Builder, newReviews []domain.AnalyzedReview) {
	fmt.Fprintf(b, "📝 신규 리뷰 %d개 발견\n", len(newReviews))
	b.WriteString("새로운 리뷰가 등록되었습니다.\n\n")
	r := newReviews[0].Review
	b.WriteString("최신 리뷰:\n")
	fmt.Fprintf(b, "상품명: %s\n", orDefault(r.ProductName, "알 수 없음"))
	fmt.Fprintf(b, "제목: %s\n", orDefault(r.Title, "제목 없음"))
	fmt.Fprintf(b, "내용: %s\n", preview(orDefault(r.Content, "내용 없음"), previewRunes))
	fmt.Fprintf(b, "별점: %s\n", stars(r.Rating))
}

func stars(rating int) string {
	if rating < 0 {
		rating = 0
	}
	if rating > 5 {
		rating = 5
	}
	return fmt.Sprintf("%s (%d/5)", strings.Repeat("⭐", rating), rating)
}

func preview(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n]) + "..."
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
