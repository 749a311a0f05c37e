package classifier

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"review-monitor/internal/domain"
)

//go:embed model_default.json
var defaultModel []byte

// ErrModelNotLoaded возвращается, если веса модели не загружены.
var ErrModelNotLoaded = errors.New("локальная модель не загружена")

// LinearModel: описание весов линейной модели на n-граммах.
type LinearModel struct {
	Name     string               `json:"name" yaml:"name"`
	Classes  []domain.Sentiment   `json:"classes" yaml:"classes"`
	Bias     []float64            `json:"bias" yaml:"bias"`
	NgramMin int                  `json:"ngram_min" yaml:"ngram_min"`
	NgramMax int                  `json:"ngram_max" yaml:"ngram_max"`
	Weights  map[string][]float64 `json:"weights" yaml:"weights"`
}

// Local: быстрый локальный классификатор тональности.
type Local struct {
	model *LinearModel
}

// LoadLocal загружает модель из файла; пустой путь означает встроенную модель.
// Файлы .yaml и .yml читаются как YAML, остальные как JSON.
func LoadLocal(path string) (*Local, error) {
	if strings.TrimSpace(path) == "" {
		return ParseLocal(defaultModel)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("чтение модели: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseLocalYAML(data)
	default:
		return ParseLocal(data)
	}
}

// ParseLocalYAML разбирает веса модели в YAML.
func ParseLocalYAML(raw []byte) (*Local, error) {
	var m LinearModel
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("распаковка модели: %w", err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &Local{model: &m}, nil
}

// ParseLocal разбирает JSON с весами модели.
func ParseLocal(raw []byte) (*Local, error) {
	var m LinearModel
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("распаковка модели: %w", err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &Local{model: &m}, nil
}

func (m *LinearModel) validate() error {
	if len(m.Classes) == 0 {
		return errors.New("модель: пустой список классов")
	}
	for _, c := range m.Classes {
		if _, ok := domain.ParseSentiment(string(c)); !ok {
			return fmt.Errorf("модель: неизвестный класс %q", c)
		}
	}
	if len(m.Bias) != len(m.Classes) {
		return fmt.Errorf("модель: bias содержит %d значений, классов %d", len(m.Bias), len(m.Classes))
	}
	for feature, w := range m.Weights {
		if len(w) != len(m.Classes) {
			return fmt.Errorf("модель: признак %q содержит %d весов", feature, len(w))
		}
	}
	if m.NgramMin <= 0 {
		m.NgramMin = 2
	}
	if m.NgramMax < m.NgramMin {
		m.NgramMax = m.NgramMin
	}
	return nil
}

// Name реализует domain.SentimentStrategy.
func (l *Local) Name() string { return domain.MethodLocalModel }

// ModelName возвращает имя загруженной модели.
func (l *Local) ModelName() string {
	if l == nil || l.model == nil {
		return ""
	}
	return l.model.Name
}

// TryClassify реализует domain.SentimentStrategy.
func (l *Local) TryClassify(ctx context.Context, req domain.ClassifyRequest) (domain.SentimentResult, error) {
	if l == nil || l.model == nil {
		return domain.SentimentResult{}, ErrModelNotLoaded
	}
	if err := ctx.Err(); err != nil {
		return domain.SentimentResult{}, err
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return domain.SentimentResult{}, errors.New("локальная модель: пустой текст")
	}
	probs := l.Predict(text)
	best := 0
	for i := range probs {
		if probs[i] > probs[best] {
			best = i
		}
	}
	return domain.SentimentResult{
		Sentiment:     l.model.Classes[best],
		ConfidenceRaw: probs[best],
		Method:        domain.MethodLocalModel,
	}, nil
}

// Predict возвращает вероятности классов в порядке Classes.
func (l *Local) Predict(text string) []float64 {
	m := l.model
	scores := make([]float64, len(m.Classes))
	copy(scores, m.Bias)
	for _, feature := range features(text, m.NgramMin, m.NgramMax) {
		w, ok := m.Weights[feature]
		if !ok {
			continue
		}
		for i := range scores {
			scores[i] += w[i]
		}
	}
	return softmax(scores)
}

// features извлекает слова целиком и символьные n-граммы внутри слов.
func features(text string, minN, maxN int) []string {
	words := strings.Fields(strings.ToLower(text))
	out := make([]string, 0, len(words)*4)
	for _, word := range words {
		word = strings.Trim(word, ".,!?()")
		if word == "" {
			continue
		}
		out = append(out, word)
		runes := []rune(word)
		for n := minN; n <= maxN; n++ {
			if n >= len(runes) {
				break
			}
			for i := 0; i+n <= len(runes); i++ {
				out = append(out, string(runes[i:i+n]))
			}
		}
	}
	return out
}

func softmax(scores []float64) []float64 {
	maxScore := math.Inf(-1)
	for _, s := range scores {
		maxScore = math.Max(maxScore, s)
	}
	sum := 0.0
	out := make([]float64, len(scores))
	for i, s := range scores {
		out[i] = math.Exp(s - maxScore)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
