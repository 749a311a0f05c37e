package domain

import "strings"

// Review описывает отзыв с витрины Cafe24.
type Review struct {
	ID          string `json:"article_no"`
	BoardNo     int64  `json:"board_no"`
	BoardName   string `json:"board_name,omitempty"`
	ProductNo   int64  `json:"product_no,omitempty"`
	ProductName string `json:"product_name,omitempty"`
	Title       string `json:"title"`
	Content     string `json:"content"`
	Writer      string `json:"writer,omitempty"`
	Rating      int    `json:"rating"`
	CreatedDate string `json:"created_date"`
	ViewCount   int    `json:"view_count,omitempty"`
}

// Text склеивает заголовок и тело отзыва.
func (r Review) Text() string {
	title := strings.TrimSpace(r.Title)
	content := strings.TrimSpace(r.Content)
	switch {
	case title == "":
		return content
	case content == "":
		return title
	}
	return title + " " + content
}

// HasRating сообщает, указан ли рейтинг.
func (r Review) HasRating() bool {
	return r.Rating >= 1 && r.Rating <= 5
}

// AnalyzedReview объединяет отзыв и результат анализа тональности.
type AnalyzedReview struct {
	Review Review          `json:"review"`
	Result SentimentResult `json:"sentiment"`
}
