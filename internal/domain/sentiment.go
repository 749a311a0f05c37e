package domain

import "context"

// Sentiment: метка тональности.
type Sentiment string

const (
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
	SentimentPositive Sentiment = "positive"
)

// ParseSentiment разбирает метку из ответа классификатора.
func ParseSentiment(raw string) (Sentiment, bool) {
	switch Sentiment(raw) {
	case SentimentNegative, SentimentNeutral, SentimentPositive:
		return Sentiment(raw), true
	}
	return "", false
}

// DisplayLabel возвращает подпись для оповещений.
func (s Sentiment) DisplayLabel() string {
	switch s {
	case SentimentNegative:
		return "부정적"
	case SentimentPositive:
		return "긍정적"
	default:
		return "중립적"
	}
}

// ConflictType описывает противоречие между оценкой и тональностью.
type ConflictType string

const (
	ConflictNone                  ConflictType = ""
	ConflictNegativeWith5Stars    ConflictType = "negative_with_5stars"
	ConflictPositiveWithLowRating ConflictType = "positive_with_low_rating"
)

// Методы классификации.
const (
	MethodNone          = "none"
	MethodLocalModel    = "local_model"
	MethodLocalFailed   = "local_failed"
	MethodLLM           = "llm"
	MethodLLMEscalation = "llm_escalation"
)

// Теги ошибок анализа.
const (
	ErrTagEmptyText             = "empty_text"
	ErrTagClassifierUnavailable = "classifier_unavailable"
	ErrTagInternal              = "internal_error"
)

// UnanalyzableLabel выставляется, когда текст не удалось классифицировать.
const UnanalyzableLabel = "분석불가"

// ClassificationStage: конечное состояние классификации отзыва.
type ClassificationStage string

const (
	StageUnanalyzable   ClassificationStage = "unanalyzable"
	StageFinal          ClassificationStage = "final"
	StageEscalatedFinal ClassificationStage = "escalated_final"
	StageFastFinal      ClassificationStage = "fast_final"
)

// SentimentResult содержит итог классификации одного отзыва.
type SentimentResult struct {
	Sentiment        Sentiment           `json:"sentiment"`
	Label            string              `json:"label"`
	Confidence       float64             `json:"confidence"`
	ConfidenceRaw    float64             `json:"confidence_raw"`
	Method           string              `json:"method"`
	Reasoning        string              `json:"reasoning,omitempty"`
	LowConfidence    bool                `json:"low_confidence,omitempty"`
	ConflictResolved bool                `json:"conflict_resolved,omitempty"`
	ConflictType     ConflictType        `json:"conflict_type,omitempty"`
	FirstStage       *SentimentResult    `json:"first_stage_result,omitempty"`
	Stage            ClassificationStage `json:"stage"`
	Error            string              `json:"error,omitempty"`
}

// IsNegative сообщает, что отзыв отрицательный.
func (r SentimentResult) IsNegative() bool { return r.Sentiment == SentimentNegative }

// IsPositive сообщает, что отзыв положительный.
func (r SentimentResult) IsPositive() bool { return r.Sentiment == SentimentPositive }

// IsNeutral сообщает, что отзыв нейтральный.
func (r SentimentResult) IsNeutral() bool { return r.Sentiment == SentimentNeutral }

// Unanalyzable строит результат для отзыва, который не удалось разобрать.
func Unanalyzable(method, errTag string) SentimentResult {
	return SentimentResult{
		Sentiment: SentimentNeutral,
		Label:     UnanalyzableLabel,
		Method:    method,
		Stage:     StageUnanalyzable,
		Error:     errTag,
	}
}

// ClassifyRequest: вход стратегии классификации.
type ClassifyRequest struct {
	Text       string
	Rating     int
	Conflict   ConflictType
	FirstStage *SentimentResult
}

// SentimentStrategy: одна ступень цепочки классификаторов.
// Ошибка означает, что стратегия не справилась и нужно пробовать следующую.
// ConfidenceRaw результата должна лежать в диапазоне [0, 1].
type SentimentStrategy interface {
	Name() string
	TryClassify(ctx context.Context, req ClassifyRequest) (SentimentResult, error)
}
