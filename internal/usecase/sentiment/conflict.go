package sentiment

import "review-monitor/internal/domain"

// RatingPredicate проверяет числовую оценку отзыва.
type RatingPredicate func(rating int) bool

// RatingIn совпадает с любой из перечисленных оценок.
func RatingIn(values ...int) RatingPredicate {
	set := make(map[int]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return func(rating int) bool {
		_, ok := set[rating]
		return ok
	}
}

// ConflictRule сопоставляет метку первой ступени и оценку с типом противоречия.
type ConflictRule struct {
	Sentiment domain.Sentiment
	Rating    RatingPredicate
	Type      domain.ConflictType
}

// ConflictPolicy: упорядоченная таблица правил, срабатывает первое совпавшее.
type ConflictPolicy []ConflictRule

// DefaultConflictPolicy: отрицательный отзыв с пятью звёздами
// и положительный отзыв с оценкой 1–3.
var DefaultConflictPolicy = ConflictPolicy{
	{Sentiment: domain.SentimentNegative, Rating: RatingIn(5), Type: domain.ConflictNegativeWith5Stars},
	{Sentiment: domain.SentimentPositive, Rating: RatingIn(1, 2, 3), Type: domain.ConflictPositiveWithLowRating},
}

// Detect возвращает тип противоречия или ConflictNone.
func (p ConflictPolicy) Detect(s domain.Sentiment, rating int) domain.ConflictType {
	for _, rule := range p {
		if rule.Sentiment == s && rule.Rating != nil && rule.Rating(rating) {
			return rule.Type
		}
	}
	return domain.ConflictNone
}
