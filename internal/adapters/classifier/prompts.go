package classifier

import (
	"fmt"
	"strings"

	"review-monitor/internal/domain"
)

const systemPrompt = "당신은 한국어 리뷰 감정 분석 전문가입니다. JSON 형태로만 답변하세요."

const answerFormat = `다음 중 하나로 분류해주세요:
- positive: 긍정적인 리뷰 (만족, 좋음, 추천 등)
- negative: 부정적인 리뷰 (불만, 나쁨, 비추천 등)
- neutral: 중립적인 리뷰 (단순 설명, 객관적 정보 등)

JSON 형태로만 답변해주세요:
{"sentiment": "positive|negative|neutral", "confidence": 0.0~1.0, "reasoning": "분석 근거"}`

func generalPrompt(text string) string {
	var b strings.Builder
	b.WriteString("다음 리뷰의 감정을 분석해주세요. 한국어 리뷰입니다.\n\n")
	fmt.Fprintf(&b, "리뷰 내용: %q\n\n", text)
	b.WriteString(answerFormat)
	return b.String()
}

// escalationPrompt сообщает модели оценку и вывод первой стадии.
func escalationPrompt(req domain.ClassifyRequest) string {
	rating := req.Rating
	stars := strings.Repeat("⭐", max(rating, 0))
	var b strings.Builder
	switch req.Conflict {
	case domain.ConflictNegativeWith5Stars:
		b.WriteString("다음은 5점 만점에 5점을 받은 리뷰이지만, 1차 AI 모델에서는 부정적으로 분류되었습니다.\n")
	case domain.ConflictPositiveWithLowRating:
		fmt.Fprintf(&b, "다음은 5점 만점에 %d점을 받은 리뷰이지만, 1차 AI 모델에서는 긍정적으로 분류되었습니다.\n", rating)
	default:
		fmt.Fprintf(&b, "다음은 5점 만점에 %d점을 받은 리뷰입니다.\n", rating)
	}
	b.WriteString("평점과 내용 사이의 모순을 해결하기 위해 정확한 재분석이 필요합니다.\n\n")
	fmt.Fprintf(&b, "리뷰 내용: %q\n", req.Text)
	fmt.Fprintf(&b, "평점: %s (%d/5점)\n\n", stars, rating)
	b.WriteString("다음을 고려하여 분석해주세요:\n")
	switch req.Conflict {
	case domain.ConflictPositiveWithLowRating:
		fmt.Fprintf(&b, "1. 평점이 %d점(낮음)이라는 사실\n", rating)
		b.WriteString("2. 한국어의 미묘한 표현과 문맥\n")
		b.WriteString("3. 비꼬기나 간접적 불만 표현 여부\n")
		b.WriteString("4. 실제 만족도와 불만 사항\n")
		b.WriteString("5. 낮은 평점의 이유가 내용에 반영되어 있는지\n\n")
	default:
		fmt.Fprintf(&b, "1. 평점이 %d점이라는 사실\n", rating)
		b.WriteString("2. 한국어의 미묘한 표현과 문맥\n")
		b.WriteString("3. 반어법이나 아이러니 사용 여부\n")
		b.WriteString("4. 전반적인 만족도와 추천 의도\n\n")
	}
	b.WriteString(answerFormat)
	return b.String()
}
